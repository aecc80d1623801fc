// Command key-validator checks that the keys served by an auction daemon's
// GET /key are bound to a known enclave image by a Nitro attestation.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/validation"
)

const (
	exitValid   = 0
	exitInvalid = 1
	exitError   = 2
)

const usage = `usage: key-validator --key-response <path> [--pcrs <path>] [--format text|json]

Exit codes: 0 attestation valid, 1 attestation invalid, 2 bad input.`

// report is the --format json output.
type report struct {
	Valid              bool     `json:"valid"`
	PCRsValid          bool     `json:"pcrs_valid"`
	CertificateValid   bool     `json:"certificate_valid"`
	SignatureValid     bool     `json:"signature_valid"`
	SigningKeyMatch    bool     `json:"signing_key_match"`
	EncryptionKeyMatch bool     `json:"encryption_key_match"`
	AuctionIDMatch     bool     `json:"auction_id_match"`
	Details            []string `json:"details"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	out := zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(zapcore.EncoderConfig{MessageKey: "msg", LineEnding: zapcore.DefaultLineEnding}),
		zapcore.AddSync(stdout),
		zapcore.DebugLevel,
	))
	defer func() { _ = out.Sync() }()

	flags := flag.NewFlagSet("key-validator", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() { fmt.Fprintln(stderr, usage) }
	keyResponsePath := flags.String("key-response", "", "key response JSON from GET /key")
	pcrsPath := flags.String("pcrs", "", "PCR config JSON, defaults to the released measurements")
	format := flags.String("format", "text", "text or json")
	if err := flags.Parse(args); err != nil {
		return exitError
	}
	if *keyResponsePath == "" {
		flags.Usage()
		return exitError
	}

	resp, err := readKeyResponse(*keyResponsePath)
	if err != nil {
		fmt.Fprintf(stderr, "key-validator: %v\n", err)
		return exitError
	}

	validator, err := validation.NewValidator()
	if err != nil {
		fmt.Fprintf(stderr, "key-validator: load trust anchors: %v\n", err)
		return exitError
	}
	if *pcrsPath != "" {
		if validator.KnownPCRs, err = validation.LoadPCRsFromFile(*pcrsPath); err != nil {
			fmt.Fprintf(stderr, "key-validator: %v\n", err)
			return exitError
		}
	}

	result, err := validator.ValidateKeyResponse(resp)
	if err != nil {
		fmt.Fprintf(stderr, "key-validator: %v\n", err)
		return exitError
	}

	switch *format {
	case "json":
		data, err := json.MarshalIndent(report{
			Valid:              result.IsValid(),
			PCRsValid:          result.PCRsValid,
			CertificateValid:   result.CertificateValid,
			SignatureValid:     result.SignatureValid,
			SigningKeyMatch:    result.SigningKeyMatch,
			EncryptionKeyMatch: result.EncryptionKeyMatch,
			AuctionIDMatch:     result.AuctionIDMatch,
			Details:            result.ValidationDetails,
		}, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "key-validator: %v\n", err)
			return exitError
		}
		out.Info(string(data))
	default:
		printText(out, result)
	}

	if !result.IsValid() {
		return exitInvalid
	}
	return exitValid
}

func readKeyResponse(path string) (*auctionapi.KeyResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var resp auctionapi.KeyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if resp.AttestationCOSEBase64 == "" {
		return nil, fmt.Errorf("%s carries no attestation; was the daemon started with ATTEST_KEYS?", path)
	}
	return &resp, nil
}

func printText(out *zap.Logger, result *validation.KeyValidationResult) {
	for _, detail := range result.ValidationDetails {
		out.Info(detail)
	}
	checks := []struct {
		name string
		ok   bool
	}{
		{"pcrs", result.PCRsValid},
		{"certificate chain", result.CertificateValid},
		{"attestation signature", result.SignatureValid},
		{"signing key", result.SigningKeyMatch},
		{"encryption key", result.EncryptionKeyMatch},
		{"auction id", result.AuctionIDMatch},
	}
	for _, c := range checks {
		mark := "ok"
		if !c.ok {
			mark = "FAIL"
		}
		out.Info(fmt.Sprintf("%-22s %s", c.name, mark))
	}
	if result.IsValid() {
		out.Info("key attestation valid")
	} else {
		out.Info("key attestation INVALID")
	}
}
