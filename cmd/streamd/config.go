package main

import (
	"os"

	"github.com/omeid/uconfig"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// configFilename is the filename of the config file automatically loaded.
var configFilename = "config.yaml"

type config struct {
	GasPricing struct {
		GasCurrency   string `default:"ETH" yaml:"gas_currency"`
		QuoteCurrency string `default:"USDT" yaml:"quote_currency"`
	} `yaml:"gas_pricing"`
	Oracle struct {
		BaseURL string `default:"https://api.binance.com" yaml:"base_url"`
	} `yaml:"oracle"`
	Metrics struct {
		Port string `default:"9090" yaml:"port"`
	} `yaml:"metrics"`
	Log struct {
		Human bool `default:"false" yaml:"human"`
		Debug bool `default:"false" yaml:"debug"`
	} `yaml:"log"`
}

type subscriptionConfig struct {
	EventID         string `yaml:"event_id"`
	ContractAddress string `yaml:"contract_address"`
}

func setupConfig() (*config, []subscriptionConfig) {
	conf := &config{}
	confFiles := uconfig.Files{}
	if _, err := os.Stat(configFilename); err == nil {
		confFiles = uconfig.Files{{configFilename, yaml.Unmarshal}}
	}

	c, err := uconfig.Classic(&conf, confFiles)
	if err != nil {
		c.Usage()
		os.Exit(1)
	}

	return conf, loadSubscriptions()
}

// loadSubscriptions reads the subscriptions list out of the config file.
func loadSubscriptions() []subscriptionConfig {
	data, err := os.ReadFile(configFilename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		log.Fatal().Err(err).Str("filename", configFilename).Msg("reading config file")
	}

	var f struct {
		Subscriptions []subscriptionConfig `yaml:"subscriptions"`
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		log.Fatal().Err(err).Str("filename", configFilename).Msg("parsing subscriptions")
	}
	return f.Subscriptions
}
