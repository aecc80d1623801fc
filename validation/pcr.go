package validation

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cloudx-io/escrowauction/auctionapi"
)

//go:embed pcrs.json
var defaultPCRConfig []byte

// DefaultPCRSets returns the measurements of released daemon images.
func DefaultPCRSets() ([]PCRSet, error) {
	return parsePCRConfig(defaultPCRConfig)
}

// LoadPCRsFromFile loads known PCR sets from a JSON file
func LoadPCRsFromFile(path string) ([]PCRSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCR config file: %w", err)
	}
	return parsePCRConfig(data)
}

func parsePCRConfig(data []byte) ([]PCRSet, error) {
	var config PCRConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse PCR config: %w", err)
	}
	if len(config.PCRSets) == 0 {
		return nil, fmt.Errorf("no PCR sets found in config file")
	}
	return config.PCRSets, nil
}

// MatchPCRs returns the index of the known set equal to pcrs, or -1.
// Comparison ignores hex case.
func MatchPCRs(pcrs auctionapi.PCRs, knownSets []PCRSet) int {
	for i, known := range knownSets {
		if strings.EqualFold(pcrs.ImageFileHash, known.PCR0) &&
			strings.EqualFold(pcrs.KernelHash, known.PCR1) &&
			strings.EqualFold(pcrs.ApplicationHash, known.PCR2) {
			return i
		}
	}
	return -1
}
