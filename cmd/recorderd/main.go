package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chainscribe/chainscribe/buildinfo"
	"github.com/chainscribe/chainscribe/internal/gateway"
	"github.com/chainscribe/chainscribe/internal/jobs"
	"github.com/chainscribe/chainscribe/internal/router"
	"github.com/chainscribe/chainscribe/pkg/backfill"
	"github.com/chainscribe/chainscribe/pkg/chainclient"
	"github.com/chainscribe/chainscribe/pkg/eventstore"
	"github.com/chainscribe/chainscribe/pkg/indexer"
	"github.com/chainscribe/chainscribe/pkg/logging"
	"github.com/chainscribe/chainscribe/pkg/metrics"
	"github.com/chainscribe/chainscribe/pkg/priceoracle"
)

func main() {
	cfg := setupConfig()
	logging.Setup(logging.Config{Version: buildinfo.GitCommit, Debug: cfg.Log.Debug, Human: cfg.Log.Human})
	if err := metrics.SetupInstrumentation(":"+cfg.Metrics.Port, "chainscribe:recorderd"); err != nil {
		log.Fatal().Err(err).Str("port", cfg.Metrics.Port).Msg("could not setup instrumentation")
	}
	rateLimInterval, err := time.ParseDuration(cfg.HTTP.RateLimInterval)
	if err != nil {
		log.Fatal().Err(err).Msgf("rate limit interval has invalid format: %s", cfg.HTTP.RateLimInterval)
	}
	batchGap, err := time.ParseDuration(cfg.Batch.Gap)
	if err != nil {
		log.Fatal().Err(err).Msgf("batch gap has invalid format: %s", cfg.Batch.Gap)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	rpcURI := mustEnv("NODE_PROVIDER_RPC_URI")
	indexerAPIKey := mustEnv("ETHERSCAN_API_KEY")
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
	idx := indexer.New(cfg.Indexer.BaseURL, indexerAPIKey)

	recorder := backfill.NewRecorder(
		idx,
		oracle,
		store,
		cfg.Batch.GasPricing.GasCurrency,
		cfg.Batch.GasPricing.QuoteCurrency,
		backfill.WithBlocksPerBatch(cfg.Batch.BlocksPerBatch),
		backfill.WithBatchGap(batchGap),
	)
	backfillFn := func(ctx context.Context, eventID, contractAddress string, fromBlock, toBlock int64) error {
		return recorder.Run(ctx, eventID, contractAddress, fromBlock, toBlock, chain)
	}

	engine := jobs.NewEngine(ctx)
	rtr, err := router.ConfiguredRouter(cfg.HTTP.MaxRPI, rateLimInterval, gateway.New(store), engine, backfillFn)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure router")
	}

	server := &http.Server{Addr: ":" + cfg.HTTP.Port, Handler: rtr.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second*10)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutting down http server")
		}
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Str("port", cfg.HTTP.Port).Msg("could not start server")
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
