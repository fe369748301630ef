package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "frame-commerce",
		Short:        "Farcaster frame storefront API and buyer CLI",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before config")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}

	serveCmd.Flags().String("host", "", "listen host")
	serveCmd.Flags().String("port", "8080", "listen port")
	serveCmd.Flags().String("app-url", "http://localhost:8080", "public base URL used in frame embeds")
	serveCmd.Flags().String("store-driver", "redis", "ledger backend (redis, sqlite, memory)")
	serveCmd.Flags().String("redis-url", "", "redis URL (overrides --redis-addr)")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "redis address")
	serveCmd.Flags().String("sqlite-path", "./purchases.db", "sqlite database path")
	serveCmd.Flags().String("ipfs-gateway", "https://gateway.pinata.cloud/ipfs", "IPFS HTTP gateway")
	serveCmd.Flags().Duration("cache-ttl", 60*time.Second, "attestation cache ttl")
	serveCmd.Flags().Bool("rate-limit-enabled", true, "enable per-client rate limiting")
	serveCmd.Flags().Int("rate-limit-rate", 100, "requests per window")
	serveCmd.Flags().Duration("rate-limit-window", time.Minute, "rate limit window")
	serveCmd.Flags().StringSlice("kafka-brokers", nil, "kafka brokers for purchase events (comma-separated)")
	serveCmd.Flags().String("features", "", "feature overrides (comma-separated name=bool)")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	buyCmd := &cobra.Command{
		Use:   "buy",
		Short: "Buy a product with a local key",
		RunE:  runBuy,
	}

	buyCmd.Flags().String("api-url", "http://localhost:8080", "commerce API base URL")
	buyCmd.Flags().String("product-id", "", "product attestation uid")
	buyCmd.Flags().Int64("ref", 0, "referrer fid")
	buyCmd.Flags().String("private-key", "", "hex private key of the paying account")
	buyCmd.Flags().String("rpc", "https://mainnet.base.org", "chain RPC URL")
	buyCmd.Flags().Int64("chain-id", 8453, "required chain id")
	buyCmd.Flags().String("stablecoin", "", "payment token address")
	buyCmd.Flags().Duration("poll-interval", 2*time.Second, "receipt poll interval")
	buyCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	buyCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(buyCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
