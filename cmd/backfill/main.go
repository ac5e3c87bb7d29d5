package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chainscribe/chainscribe/buildinfo"
	"github.com/chainscribe/chainscribe/pkg/backfill"
	"github.com/chainscribe/chainscribe/pkg/chainclient"
	"github.com/chainscribe/chainscribe/pkg/eventstore"
	"github.com/chainscribe/chainscribe/pkg/indexer"
	"github.com/chainscribe/chainscribe/pkg/logging"
	"github.com/chainscribe/chainscribe/pkg/priceoracle"
)

var (
	eventID         string
	contractAddress string
	fromBlock       int64
	toBlock         int64
	blocksPerBatch  int64
	gasCurrency     string
	quoteCurrency   string
	indexerBaseURL  string
	oracleBaseURL   string
	logDebug        bool
	logHuman        bool
)

var rootCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Record the historical logs of a contract's event over a block range",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		logging.Setup(logging.Config{Version: buildinfo.GitCommit, Debug: logDebug, Human: logHuman})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		rpcURI := mustEnv("NODE_PROVIDER_RPC_URI")
		indexerAPIKey := mustEnv("ETHERSCAN_API_KEY")
		storeURI := eventstore.ConnURI(
			mustEnv("DB_USER"), mustEnv("DB_PASSWORD"), mustEnv("DB_HOST"), mustEnv("DB_PORT"),
		)

		store, err := eventstore.New(ctx, storeURI, mustEnv("DB_DATABASE"))
		if err != nil {
			return fmt.Errorf("initializing event store: %s", err)
		}
		defer func() {
			if err := store.Close(context.Background()); err != nil {
				log.Error().Err(err).Msg("closing event store")
			}
		}()

		chain, err := chainclient.Dial(rpcURI)
		if err != nil {
			return fmt.Errorf("connecting to node rpc endpoint: %s", err)
		}
		defer chain.Close()

		oracle, err := priceoracle.New(oracleBaseURL)
		if err != nil {
			return fmt.Errorf("creating price oracle client: %s", err)
		}

		recorder := backfill.NewRecorder(
			indexer.New(indexerBaseURL, indexerAPIKey),
			oracle,
			store,
			gasCurrency,
			quoteCurrency,
			backfill.WithBlocksPerBatch(blocksPerBatch),
		)
		if err := recorder.Run(ctx, eventID, contractAddress, fromBlock, toBlock, chain); err != nil {
			return fmt.Errorf("recording historical events: %s", err)
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&eventID, "event-id", "", "event id to record (e.g. uniswap-v3-pool-swap)")
	rootCmd.Flags().StringVar(&contractAddress, "contract-address", "", "contract address emitting the event")
	rootCmd.Flags().Int64Var(&fromBlock, "from-block", 0, "first block of the range, inclusive")
	rootCmd.Flags().Int64Var(&toBlock, "to-block", 0, "last block of the range, inclusive")
	rootCmd.Flags().Int64Var(&blocksPerBatch, "blocks-per-batch", 30, "block-range width of each indexer query")
	rootCmd.Flags().StringVar(&gasCurrency, "gas-currency", "ETH", "currency gas is paid in")
	rootCmd.Flags().StringVar(&quoteCurrency, "quote-currency", "USDT", "currency gas costs are quoted in")
	rootCmd.Flags().StringVar(&indexerBaseURL, "indexer-base-url", indexer.DefaultBaseURL, "indexer API base URL")
	rootCmd.Flags().StringVar(&oracleBaseURL, "oracle-base-url", priceoracle.DefaultBaseURL, "price oracle API base URL")
	rootCmd.Flags().BoolVar(&logDebug, "debug", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&logHuman, "human", false, "enable human-readable logging")
	_ = rootCmd.MarkFlagRequired("event-id")
	_ = rootCmd.MarkFlagRequired("contract-address")
	_ = rootCmd.MarkFlagRequired("from-block")
	_ = rootCmd.MarkFlagRequired("to-block")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func mustEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Fatal().Str("name", name).Msg("required environment variable isn't set")
	}
	return v
}
