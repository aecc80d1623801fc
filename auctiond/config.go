package main

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/escrowauction/core"
)

// Config is read from the environment once at startup.
type Config struct {
	Auction AuctionConfig
	Custody CustodyConfig
	API     APIConfig
	App     AppConfig
}

type AuctionConfig struct {
	ID          string          `env:"AUCTION_ID"`
	MinimumBid  decimal.Decimal `env:"AUCTION_MINIMUM_BID" envDefault:"0"`
	Beneficiary string          `env:"AUCTION_BENEFICIARY,required"`

	// Optional asset minted to the beneficiary and deposited into escrow at startup.
	AssetRegistry string `env:"AUCTION_ASSET_REGISTRY"`
	AssetTokenID  string `env:"AUCTION_ASSET_TOKEN_ID"`
}

type CustodyConfig struct {
	EscrowAccount string     `env:"CUSTODY_ESCROW_ACCOUNT" envDefault:"escrow"`
	Balances      balanceMap `env:"CUSTODY_BALANCES"`
	PostgresDSN   string     `env:"CUSTODY_POSTGRES_DSN"`
}

type APIConfig struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// SocketTransport is vsock, tcp or none.
	SocketTransport string        `env:"SOCKET_TRANSPORT" envDefault:"tcp"`
	SocketAddr      string        `env:"SOCKET_ADDR" envDefault:"127.0.0.1:5000"`
	VsockPort       uint32        `env:"VSOCK_PORT" envDefault:"5000"`
	MaxWorkers      int           `env:"MAX_WORKERS" envDefault:"16"`
	ReadTimeout     time.Duration `env:"SOCKET_READ_TIMEOUT" envDefault:"30s"`
}

type AppConfig struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`
	// AttestKeys binds the daemon keys to an NSM attestation. Requires a Nitro enclave.
	AttestKeys bool `env:"ATTEST_KEYS" envDefault:"false"`
}

// balanceMap is parsed from "alice:100,carol:25.5".
type balanceMap map[core.Identity]decimal.Decimal

func parseBalances(v string) (interface{}, error) {
	balances := balanceMap{}
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, amount, ok := strings.Cut(pair, ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("balance %q is not identity:amount", pair)
		}
		parsed, err := core.ParseAmount(amount)
		if err != nil {
			return nil, err
		}
		balances[core.Identity(id)] = parsed
	}
	return balances, nil
}

// LoadConfig parses the environment and checks cross-field constraints.
func LoadConfig() (Config, error) {
	var c Config
	if err := env.ParseWithFuncs(&c, map[reflect.Type]env.ParserFunc{
		reflect.TypeOf(balanceMap{}): parseBalances,
	}); err != nil {
		return Config{}, fmt.Errorf("config parsing failed: %w", err)
	}

	if c.Auction.Beneficiary == "" {
		return Config{}, fmt.Errorf("AUCTION_BENEFICIARY must not be empty")
	}
	if c.Auction.Beneficiary == c.Custody.EscrowAccount {
		return Config{}, fmt.Errorf("AUCTION_BENEFICIARY must differ from CUSTODY_ESCROW_ACCOUNT %q", c.Custody.EscrowAccount)
	}
	if c.Auction.MinimumBid.IsNegative() {
		return Config{}, fmt.Errorf("AUCTION_MINIMUM_BID must not be negative")
	}
	if (c.Auction.AssetRegistry == "") != (c.Auction.AssetTokenID == "") {
		return Config{}, fmt.Errorf("AUCTION_ASSET_REGISTRY and AUCTION_ASSET_TOKEN_ID must be set together")
	}
	switch c.API.SocketTransport {
	case "vsock", "tcp", "none":
	default:
		return Config{}, fmt.Errorf("unknown SOCKET_TRANSPORT %q", c.API.SocketTransport)
	}
	if c.API.MaxWorkers < 1 {
		return Config{}, fmt.Errorf("MAX_WORKERS must be at least 1")
	}
	return c, nil
}

func (c AuctionConfig) asset() *core.Asset {
	if c.AssetRegistry == "" {
		return nil
	}
	return &core.Asset{Registry: c.AssetRegistry, TokenID: c.AssetTokenID}
}
