package main

import (
	"crypto/ecdsa"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/keys"
	"github.com/cloudx-io/escrowauction/validation"
)

const (
	exitValid   = 0
	exitInvalid = 1
	exitError   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func newLogger(w io.Writer) *zap.Logger {
	return zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(zapcore.EncoderConfig{MessageKey: "msg", LineEnding: zapcore.DefaultLineEnding}),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	))
}

func run(args []string, stdout, stderr io.Writer) int {
	logger := newLogger(stdout)
	defer func() { _ = logger.Sync() }()

	flags := flag.NewFlagSet("receipt-verifier", flag.ContinueOnError)
	flags.SetOutput(stderr)
	var (
		receiptsPath    = flags.String("receipts", "", "Path to receipts JSON from GET /receipts (required)")
		publicKeyPath   = flags.String("public-key", "", "Path to the receipt signing key PEM")
		keyResponsePath = flags.String("key-response", "", "Path to key response JSON; its signing_key is used")
		outputFormat    = flags.String("format", "text", "Output format: text or json")
	)
	if err := flags.Parse(args); err != nil {
		return exitError
	}
	if *receiptsPath == "" || (*publicKeyPath == "") == (*keyResponsePath == "") {
		fmt.Fprintln(stderr, "usage: receipt-verifier --receipts <path> (--public-key <pem> | --key-response <json>) [--format text|json]")
		return exitError
	}

	chain, err := readReceipts(*receiptsPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading receipts: %v\n", err)
		return exitError
	}

	key, err := readSigningKey(*publicKeyPath, *keyResponsePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading signing key: %v\n", err)
		return exitError
	}

	result, err := validation.ValidateReceiptChain(chain, key)
	if err != nil {
		fmt.Fprintf(stderr, "Validation error: %v\n", err)
		return exitError
	}

	if *outputFormat == "json" {
		data, err := json.MarshalIndent(map[string]any{
			"valid":             result.IsValid(),
			"receipts":          result.Receipts,
			"auction_id":        result.AuctionID,
			"leader":            result.Leader,
			"held_funds":        result.HeldFunds,
			"settled":           result.Settled,
			"signatures_valid":  result.SignaturesValid,
			"sequence_valid":    result.SequenceValid,
			"links_valid":       result.LinksValid,
			"hashes_valid":      result.HashesValid,
			"bids_ascending":    result.BidsAscending,
			"refunds_valid":     result.RefundsValid,
			"settlement_valid":  result.SettlementValid,
			"conservation_held": result.ConservationHeld,
			"details":           result.ValidationDetails,
		}, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "Error marshaling JSON: %v\n", err)
			return exitError
		}
		logger.Info(string(data))
	} else {
		outputText(logger, result)
	}

	if !result.IsValid() {
		return exitInvalid
	}
	return exitValid
}

func readReceipts(path string) ([]auctionapi.COSE, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var resp auctionapi.ReceiptsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	// Only the signed bytes are trusted; the decoded copies are ignored.
	chain := make([]auctionapi.COSE, 0, len(resp.Receipts))
	for i, r := range resp.Receipts {
		raw, err := r.COSEBase64.Decode()
		if err != nil {
			return nil, fmt.Errorf("receipt %d: %w", i+1, err)
		}
		chain = append(chain, raw)
	}
	return chain, nil
}

func readSigningKey(publicKeyPath, keyResponsePath string) (*ecdsa.PublicKey, error) {
	if publicKeyPath != "" {
		data, err := os.ReadFile(publicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		return keys.ParseECDSAPublicKeyPEM(data)
	}

	data, err := os.ReadFile(keyResponsePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var resp auctionapi.KeyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return keys.ParseECDSAPublicKeyPEM([]byte(resp.SigningKey))
}

func outputText(logger *zap.Logger, result *validation.ReceiptChainResult) {
	logger.Info("Auction Receipt Verifier")
	logger.Info("========================")
	for _, detail := range result.ValidationDetails {
		logger.Info("  " + detail)
	}
	logger.Info("")
	logger.Info("Summary:")
	logger.Info(fmt.Sprintf("  Auction:           %s", result.AuctionID))
	logger.Info(fmt.Sprintf("  Receipts:          %d", result.Receipts))
	logger.Info(fmt.Sprintf("  Leader:            %s", result.Leader))
	logger.Info(fmt.Sprintf("  Held Funds:        %s", result.HeldFunds))
	logger.Info(fmt.Sprintf("  Settled:           %v", result.Settled))
	logger.Info(fmt.Sprintf("  Signatures Valid:  %v", result.SignaturesValid))
	logger.Info(fmt.Sprintf("  Sequence Valid:    %v", result.SequenceValid))
	logger.Info(fmt.Sprintf("  Links Valid:       %v", result.LinksValid))
	logger.Info(fmt.Sprintf("  Hashes Valid:      %v", result.HashesValid))
	logger.Info(fmt.Sprintf("  Bids Ascending:    %v", result.BidsAscending))
	logger.Info(fmt.Sprintf("  Refunds Valid:     %v", result.RefundsValid))
	logger.Info(fmt.Sprintf("  Settlement Valid:  %v", result.SettlementValid))
	logger.Info(fmt.Sprintf("  Conservation Held: %v", result.ConservationHeld))
	logger.Info("")
	if result.IsValid() {
		logger.Info("VERIFICATION: PASSED")
	} else {
		logger.Info("VERIFICATION: FAILED")
	}
}
