package auctionapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudx-io/escrowauction/auctionapi/parsing"
)

// PCRsFromRaw formats the registers a verifier cares about as hex.
func PCRsFromRaw(rawPCRs map[uint64][]byte) PCRs {
	doc := parsing.NitroDocument{PCRs: rawPCRs}
	return PCRs{
		ImageFileHash:   doc.PCRHex(0),
		KernelHash:      doc.PCRHex(1),
		ApplicationHash: doc.PCRHex(2),
		IAMRoleHash:     doc.PCRHex(3),
		InstanceIDHash:  doc.PCRHex(4),
		SigningCertHash: doc.PCRHex(8),
	}
}

// ParseAttestationDoc decodes a Nitro attestation and returns the document and
// its raw user data. The signature is not checked here.
func (c COSE) ParseAttestationDoc() (AttestationDoc, []byte, error) {
	raw, err := parsing.DecodeNitroDocument(c)
	if err != nil {
		return AttestationDoc{}, nil, err
	}

	doc := AttestationDoc{
		ModuleID:        raw.ModuleID,
		Timestamp:       time.UnixMilli(int64(raw.Timestamp)).UTC(),
		DigestAlgorithm: raw.Digest,
		PCRs:            PCRsFromRaw(raw.PCRs),
		Certificate:     base64.StdEncoding.EncodeToString(raw.Certificate),
		CABundle:        raw.CABundleBase64(),
		PublicKey:       base64.StdEncoding.EncodeToString(raw.PublicKey),
		Nonce:           string(raw.Nonce),
	}
	return doc, raw.UserData, nil
}

// ParseKeyAttestation decodes a key attestation including its user data.
func (c COSE) ParseKeyAttestation() (*KeyAttestationDoc, error) {
	doc, userData, err := c.ParseAttestationDoc()
	if err != nil {
		return nil, err
	}

	var keyUserData KeyAttestationUserData
	if len(userData) > 0 {
		if err := json.Unmarshal(userData, &keyUserData); err != nil {
			return nil, fmt.Errorf("parse user data: %w", err)
		}
	}

	return &KeyAttestationDoc{
		AttestationDoc: doc,
		UserData:       &keyUserData,
	}, nil
}
