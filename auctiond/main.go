// Command auctiond hosts a single escrowed ascending-price auction behind an
// HTTP API and a JSON socket API, and issues signed receipts for every
// committed operation.
//
// auctiond does not authenticate callers. The HTTP API takes the caller from
// the X-Auction-Caller header and the socket API from the request's caller
// field, so whoever can reach either port can bid as anyone and settle as the
// beneficiary. Deploy it behind a proxy (or, in an enclave, a parent process)
// that authenticates each caller, sets the header itself, and is the only
// thing able to reach HTTP_ADDR and the socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cloudx-io/escrowauction/assets"
	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/custody"
	"github.com/cloudx-io/escrowauction/keys"
	"github.com/cloudx-io/escrowauction/receipts"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "auctiond: %v\n", err)
		os.Exit(1)
	}
	logger, err := newLogger(cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auctiond: invalid LOG_LEVEL: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("auctiond stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	service, closeCustody, err := buildService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCustody()

	errCh := make(chan error, 2)

	server := &http.Server{
		Addr:              cfg.API.HTTPAddr,
		Handler:           NewHTTPHandler(service, logger.Named("http")).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.API.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if cfg.API.SocketTransport != "none" {
		listener, err := listenSocket(cfg.API)
		if err != nil {
			return err
		}
		socket := NewSocketServer(service, logger.Named("socket"), cfg.API)
		go func() {
			if err := socket.Serve(ctx, listener); err != nil {
				errCh <- fmt.Errorf("socket server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildService wires custody, the optional asset, the receipt journal and the
// key manager into a Service.
func buildService(ctx context.Context, cfg Config, logger *zap.Logger) (*Service, func(), error) {
	km, err := keys.NewKeyManager()
	if err != nil {
		return nil, nil, err
	}
	signer, err := km.Signer()
	if err != nil {
		return nil, nil, fmt.Errorf("receipt signer: %w", err)
	}
	journal, err := receipts.NewJournal(logger.Named("receipts"), signer)
	if err != nil {
		return nil, nil, err
	}

	backend, balances, closeCustody, err := openCustody(ctx, cfg.Custody, logger)
	if err != nil {
		return nil, nil, err
	}

	beneficiary := core.Identity(cfg.Auction.Beneficiary)
	opts := []core.Option{core.WithNotifier(journal)}
	if cfg.Auction.ID != "" {
		opts = append(opts, core.WithID(cfg.Auction.ID))
	}
	if asset := cfg.Auction.asset(); asset != nil {
		escrow, deposited, err := depositAsset(*asset, beneficiary, core.Identity(cfg.Custody.EscrowAccount))
		if err != nil {
			closeCustody()
			return nil, nil, err
		}
		opts = append(opts, core.WithAsset(deposited, escrow))
	}

	auction, err := core.New(cfg.Auction.MinimumBid, beneficiary, backend, opts...)
	if err != nil {
		closeCustody()
		return nil, nil, err
	}

	var attester keys.EnclaveAttester
	if cfg.App.AttestKeys {
		attester, err = keys.GetEnclaveAttester()
		if err != nil {
			closeCustody()
			return nil, nil, err
		}
	}

	logger.Info("auction ready",
		zap.String("auction_id", auction.ID()),
		zap.String("beneficiary", string(beneficiary)),
		zap.String("minimum_bid", auction.MinimumBid().String()),
		zap.Bool("attested_keys", attester != nil))

	return NewService(auction, journal, km, attester, balances, logger), closeCustody, nil
}

type custodyBackend interface {
	core.Custody
	BalanceReader
}

func openCustody(ctx context.Context, cfg CustodyConfig, logger *zap.Logger) (core.Custody, BalanceReader, func(), error) {
	escrow := core.Identity(cfg.EscrowAccount)

	if cfg.PostgresDSN == "" {
		var backend custodyBackend = custody.NewBook(escrow, cfg.Balances)
		logger.Info("using in-memory custody", zap.Int("accounts", len(cfg.Balances)))
		return backend, backend, func() {}, nil
	}

	book, err := custody.NewPostgresBook(cfg.PostgresDSN, escrow)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := book.Seed(ctx, cfg.Balances); err != nil {
		_ = book.Close()
		return nil, nil, nil, err
	}
	logger.Info("using postgres custody")
	closeBook := func() {
		if err := book.Close(); err != nil {
			logger.Warn("failed to close custody database", zap.Error(err))
		}
	}
	return book, book, closeBook, nil
}

// depositAsset mints the auctioned token to the beneficiary and moves it into
// escrow so it can be handed to the winner at settlement.
func depositAsset(asset core.Asset, owner, holder core.Identity) (*assets.Escrow, core.Asset, error) {
	registry := assets.NewRegistry(asset.Registry)
	escrow := assets.NewEscrow(registry, holder)

	if err := registry.Mint(asset.TokenID, owner); err != nil {
		return nil, core.Asset{}, err
	}
	if err := registry.Approve(owner, asset.TokenID, holder); err != nil {
		return nil, core.Asset{}, err
	}
	deposited, err := escrow.Deposit(owner, asset.TokenID)
	if err != nil {
		return nil, core.Asset{}, err
	}
	return escrow, deposited, nil
}
