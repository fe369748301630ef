package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"frame-commerce-api/internal/checkout"
	"frame-commerce-api/internal/client"
	"frame-commerce-api/internal/config"
	"frame-commerce-api/internal/wallet"
)

func runBuy(cmd *cobra.Command, _ []string) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadBuy(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var referrerFID *int64
	if cfg.ReferrerFID > 0 {
		referrerFID = &cfg.ReferrerFID
	}

	api := client.NewCommerceClient(cfg.APIURL, cfg.HTTPTimeout)
	product, err := api.GetProduct(ctx, cfg.ProductID, referrerFID)
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s USDC (seller %s)\n", product.Name, product.Price.StringFixed(2), product.Seller.Address)

	opts := wallet.Options{PollInterval: cfg.PollInterval}
	if !cfg.AssumeYes {
		opts.Confirm = terminalConfirm(cmd.InOrStdin(), out, product.Price.StringFixed(2))
	}

	w, err := wallet.Dial(ctx, cfg.Chain.RPCURL, cfg.PrivateKey, opts)
	if err != nil {
		return err
	}
	defer w.Close()

	var referrerName string
	if product.Referrer != nil {
		referrerName = product.Referrer.DisplayName
	}

	ctrl, err := checkout.New(*product, w, api, checkout.Options{
		ChainID:      cfg.Chain.ID,
		Stablecoin:   common.HexToAddress(cfg.Chain.Stablecoin),
		ReferrerFID:  referrerFID,
		ReferrerName: referrerName,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	snapshots := make(chan checkout.Snapshot, 64)
	unsubscribe := ctrl.Subscribe(forwardSnapshots(snapshots))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run(runCtx) }()

	if err := ctrl.Mount(runCtx); err != nil {
		return err
	}

	result := awaitPurchase(runCtx, ctrl, snapshots, out, cfg.ExplorerURL)
	unsubscribe()
	cancel()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("controller stopped", zap.Error(err))
	}
	return result
}

// forwardSnapshots returns a listener that copies snapshots into ch. The
// listener runs on the controller goroutine, so a full channel drops the
// snapshot instead of blocking.
func forwardSnapshots(ch chan<- checkout.Snapshot) func(checkout.Snapshot) {
	return func(s checkout.Snapshot) {
		select {
		case ch <- s:
		default:
		}
	}
}

// awaitPurchase follows the controller until the purchase is recorded or
// the flow fails.
func awaitPurchase(ctx context.Context, ctrl *checkout.Controller, snapshots <-chan checkout.Snapshot, out io.Writer, explorerURL string) error {
	buying := false
	last := checkout.Disconnected

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-snapshots:
			if s.State != last {
				fmt.Fprintf(out, "status: %s\n", s.State)
				last = s.State
			}

			switch {
			case s.State == checkout.Ready && !buying:
				buying = true
				if err := ctrl.Buy(ctx); err != nil {
					return err
				}
			case s.State == checkout.Disconnected && s.Message != "":
				return fmt.Errorf("wallet unavailable: %s", s.Message)
			case s.State == checkout.WrongChain && s.Message != "":
				return fmt.Errorf("wrong chain: %s", s.Message)
			case s.State == checkout.TxFailed:
				return errors.New(s.Message)
			case s.State == checkout.TxConfirmed && s.Purchase != nil:
				fmt.Fprintf(out, "purchase %s recorded\n", s.Purchase.ID)
				if explorerURL != "" {
					fmt.Fprintf(out, "%s/tx/%s\n", strings.TrimRight(explorerURL, "/"), s.TxHash.Hex())
				}
				return nil
			case s.State == checkout.TxConfirmed && s.RecordError != "":
				return fmt.Errorf("payment confirmed in %s but recording failed: %s", s.TxHash.Hex(), s.RecordError)
			}
		}
	}
}

func terminalConfirm(in io.Reader, out io.Writer, amount string) wallet.ConfirmFunc {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, to common.Address, data []byte) (bool, error) {
		fmt.Fprintf(out, "Send %s USDC via %s? [y/N] ", amount, to.Hex())
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}
