package main

import (
	"os"

	"github.com/omeid/uconfig"
	"gopkg.in/yaml.v3"
)

// configFilename is the filename of the config file automatically loaded.
var configFilename = "config.yaml"

type config struct {
	HTTP struct {
		Port            string `default:"8080" yaml:"port"`
		MaxRPI          uint64 `default:"10" yaml:"max_rpi"`
		RateLimInterval string `default:"1s" yaml:"rate_lim_interval"`
	} `yaml:"http"`
	Batch struct {
		BlocksPerBatch int64  `default:"30" yaml:"blocks_per_batch"`
		Gap            string `default:"500ms" yaml:"gap"`
		GasPricing     struct {
			GasCurrency   string `default:"ETH" yaml:"gas_currency"`
			QuoteCurrency string `default:"USDT" yaml:"quote_currency"`
		} `yaml:"gas_pricing"`
	} `yaml:"batch"`
	Indexer struct {
		BaseURL string `default:"https://api.etherscan.io" yaml:"base_url"`
	} `yaml:"indexer"`
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

func setupConfig() *config {
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

	return conf
}
