package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/chainscribe/chainscribe/buildinfo"
	"github.com/chainscribe/chainscribe/pkg/chainclient"
	"github.com/chainscribe/chainscribe/pkg/eventstore"
	"github.com/chainscribe/chainscribe/pkg/livestream"
	"github.com/chainscribe/chainscribe/pkg/logging"
	"github.com/chainscribe/chainscribe/pkg/metrics"
	"github.com/chainscribe/chainscribe/pkg/priceoracle"
)

func main() {
	cfg, subscriptions := setupConfig()
	logging.Setup(logging.Config{Version: buildinfo.GitCommit, Debug: cfg.Log.Debug, Human: cfg.Log.Human})
	if err := metrics.SetupInstrumentation(":"+cfg.Metrics.Port, "chainscribe:streamd"); err != nil {
		log.Fatal().Err(err).Str("port", cfg.Metrics.Port).Msg("could not setup instrumentation")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	wssURI := mustEnv("NODE_PROVIDER_WSS_URI")
	rpcURI := mustEnv("NODE_PROVIDER_RPC_URI")
	storeURI := eventstore.ConnURI(
		mustEnv("DB_USER"), mustEnv("DB_PASSWORD"), mustEnv("DB_HOST"), mustEnv("DB_PORT"),
	)

	store, err := eventstore.New(ctx, storeURI, mustEnv("DB_DATABASE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize event store")
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("closing event store")
		}
	}()

	chain, err := chainclient.Dial(rpcURI)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to node rpc endpoint")
	}
	defer chain.Close()

	oracle, err := priceoracle.New(cfg.Oracle.BaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create price oracle client")
	}

	listener, err := livestream.NewListener(wssURI)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create listener")
	}
	processor, err := livestream.NewProcessor(
		chain, oracle, cfg.GasPricing.GasCurrency, cfg.GasPricing.QuoteCurrency,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create processor")
	}
	stream, err := livestream.New(listener, processor, livestream.NewWriter(store))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create stream")
	}

	if len(subscriptions) == 0 {
		log.Fatal().Str("filename", configFilename).Msg("no subscriptions configured")
	}
	for _, sub := range subscriptions {
		if err := stream.AddSubscription(ctx, sub.EventID, sub.ContractAddress, chain); err != nil {
			log.Fatal().Err(err).Str("event_id", sub.EventID).Msg("failed to add subscription")
		}
	}

	if err := stream.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("stream failed")
	}
	log.Info().Msg("daemon closed")
}

func mustEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Fatal().Str("name", name).Msg("required environment variable isn't set")
	}
	return v
}
