package parsing

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// NitroDocument is the CBOR payload of an NSM attestation.
type NitroDocument struct {
	ModuleID    string            `cbor:"module_id"`
	Digest      string            `cbor:"digest"`
	Timestamp   uint64            `cbor:"timestamp"`
	PCRs        map[uint64][]byte `cbor:"pcrs"`
	Certificate []byte            `cbor:"certificate"`
	CABundle    [][]byte          `cbor:"cabundle"`
	PublicKey   []byte            `cbor:"public_key"`
	UserData    []byte            `cbor:"user_data"`
	Nonce       []byte            `cbor:"nonce"`
}

// DecodeNitroDocument unwraps a COSE_Sign1 attestation and decodes its
// payload. The signature is not checked.
func DecodeNitroDocument(coseBytes []byte) (*NitroDocument, error) {
	payload, err := ExtractCOSEPayload(coseBytes)
	if err != nil {
		return nil, err
	}
	var doc NitroDocument
	if err := cbor.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode attestation document: %w", err)
	}
	return &doc, nil
}

// PCRHex returns register i as lowercase hex, or "" when it is absent.
func (d *NitroDocument) PCRHex(i uint64) string {
	return hex.EncodeToString(d.PCRs[i])
}

// CABundleBase64 returns the intermediate certificates, root first.
func (d *NitroDocument) CABundleBase64() []string {
	out := make([]string, 0, len(d.CABundle))
	for _, der := range d.CABundle {
		out = append(out, base64.StdEncoding.EncodeToString(der))
	}
	return out
}
