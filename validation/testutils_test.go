package validation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/keys"
	"github.com/cloudx-io/escrowauction/keys/keystest"
)

// testPKI mimics the Nitro hierarchy: root, one intermediate and a short-lived
// leaf that signs attestation documents.
type testPKI struct {
	root         *x509.Certificate
	intermediate *x509.Certificate
	leaf         *x509.Certificate
	leafKey      *ecdsa.PrivateKey
	notBefore    time.Time
	notAfter     time.Time
}

func issueCert(t *testing.T, serial int64, cn string, isCA bool, parent *x509.Certificate, pub *ecdsa.PublicKey, parentKey *ecdsa.PrivateKey, notBefore, notAfter time.Time) *x509.Certificate {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		BasicConstraintsValid: true,
		IsCA:                  isCA,
	}
	if isCA {
		tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	} else {
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature
	}
	if parent == nil {
		parent = tmpl
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, parentKey)
	assert.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	assert.NoError(t, err)
	return cert
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()
	notBefore := time.Now().Add(-time.Hour).Truncate(time.Second)
	notAfter := time.Now().Add(time.Hour).Truncate(time.Second)

	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)
	interKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)
	leafKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)

	root := issueCert(t, 1, "test.nitro-enclaves", true, nil, &rootKey.PublicKey, rootKey, notBefore, notAfter)
	intermediate := issueCert(t, 2, "zonal.test", true, root, &interKey.PublicKey, rootKey, notBefore, notAfter)
	leaf := issueCert(t, 3, "i-0123.enclave", false, intermediate, &leafKey.PublicKey, interKey, notBefore, notAfter)

	return &testPKI{
		root:         root,
		intermediate: intermediate,
		leaf:         leaf,
		leafKey:      leafKey,
		notBefore:    notBefore,
		notAfter:     notAfter,
	}
}

func (p *testPKI) roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(p.root)
	return pool
}

func (p *testPKI) validator(t *testing.T) *Validator {
	t.Helper()
	known, err := DefaultPCRSets()
	assert.NoError(t, err)
	return &Validator{KnownPCRs: known, Roots: p.roots()}
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	assert.NoError(t, err)
	return b
}

func keystestPCRs(t *testing.T) map[uint64][]byte {
	return map[uint64][]byte{
		0: mustHex(t, keystest.PCR0),
		1: mustHex(t, keystest.PCR1),
		2: mustHex(t, keystest.PCR2),
	}
}

// attest produces an untagged COSE_Sign1 Nitro document signed by the leaf key.
func (p *testPKI) attest(t *testing.T, userData []byte, pcrs map[uint64][]byte, at time.Time) auctionapi.COSE {
	t.Helper()
	payload, err := cbor.Marshal(map[string]any{
		"module_id":   "i-0123-enc0456",
		"digest":      "SHA384",
		"timestamp":   uint64(at.UnixMilli()),
		"pcrs":        pcrs,
		"certificate": p.leaf.Raw,
		"cabundle":    [][]byte{p.root.Raw, p.intermediate.Raw},
		"public_key":  []byte("pk"),
		"user_data":   userData,
		"nonce":       []byte("attestation-nonce"),
	})
	assert.NoError(t, err)

	protected, err := cbor.Marshal(map[int]int{1: -35})
	assert.NoError(t, err)

	sigStructure, err := cbor.Marshal([]any{"Signature1", protected, []byte{}, payload})
	assert.NoError(t, err)

	signer, err := cose.NewSigner(cose.AlgorithmES384, p.leafKey)
	assert.NoError(t, err)
	signature, err := signer.Sign(rand.Reader, sigStructure)
	assert.NoError(t, err)

	out, err := cbor.Marshal([]any{protected, map[int]any{}, payload, signature})
	assert.NoError(t, err)
	return auctionapi.COSE(out)
}

// keyResponse builds an attested key response for km the way the daemon does.
func (p *testPKI) keyResponse(t *testing.T, km *keys.KeyManager, auctionID string, at time.Time) *auctionapi.KeyResponse {
	t.Helper()
	userData, err := keys.KeyUserData(km, auctionID)
	assert.NoError(t, err)
	userDataJSON, err := json.Marshal(userData)
	assert.NoError(t, err)

	attestation := p.attest(t, userDataJSON, keystestPCRs(t), at)
	return &auctionapi.KeyResponse{
		Type:                  auctionapi.TypeKeyResponse,
		AuctionID:             auctionID,
		SigningKey:            userData.SigningKey,
		EncryptionKey:         userData.EncryptionKey,
		AttestationCOSEBase64: attestation.EncodeBase64(),
	}
}
