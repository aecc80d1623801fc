package parsing

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// COSESign1Parts holds the elements of an untagged COSE_Sign1 array:
// [protected, unprotected, payload, signature].
type COSESign1Parts struct {
	Protected []byte
	Payload   []byte
	Signature []byte
}

// SplitCOSESign1 decodes a 4-element COSE_Sign1 array. AWS Nitro emits the
// untagged form; the tag of a tagged message (18) is ignored by the decoder.
func SplitCOSESign1(coseBytes []byte) (*COSESign1Parts, error) {
	var coseArray []any
	if err := cbor.Unmarshal(coseBytes, &coseArray); err != nil {
		return nil, fmt.Errorf("parse COSE array: %w", err)
	}

	if len(coseArray) != 4 {
		return nil, fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(coseArray))
	}

	protected, ok := coseArray[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid protected headers in COSE structure")
	}
	payload, ok := coseArray[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid payload in COSE structure")
	}
	signature, ok := coseArray[3].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid signature in COSE structure")
	}

	return &COSESign1Parts{Protected: protected, Payload: payload, Signature: signature}, nil
}

// ExtractCOSEPayload returns the payload (element 2) of a COSE_Sign1 message.
func ExtractCOSEPayload(coseBytes []byte) ([]byte, error) {
	parts, err := SplitCOSESign1(coseBytes)
	if err != nil {
		return nil, err
	}
	return parts.Payload, nil
}
