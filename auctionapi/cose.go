package auctionapi

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// COSE is a raw COSE_Sign1 message: a Nitro attestation document or a signed receipt.
type COSE []byte

// COSEBase64 is a COSE message in standard base64, used in JSON responses.
type COSEBase64 string

// COSEURLBase64 is a COSE message in unpadded URL-safe base64.
type COSEURLBase64 string

// COSEGzip is a gzip-compressed COSE message in unpadded URL-safe base64.
// Receipts are exported in this form for links and query strings.
type COSEGzip string

// EncodeBase64 encodes the message with standard base64.
func (c COSE) EncodeBase64() COSEBase64 {
	return COSEBase64(base64.StdEncoding.EncodeToString(c))
}

// EncodeURLSafe encodes the message with unpadded URL-safe base64.
func (c COSE) EncodeURLSafe() COSEURLBase64 {
	return COSEURLBase64(base64.RawURLEncoding.EncodeToString(c))
}

// CompressGzip compresses the message and encodes it with unpadded URL-safe base64.
// The output is deterministic for a given input.
func (c COSE) CompressGzip() (COSEGzip, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return "", fmt.Errorf("create gzip writer: %w", err)
	}
	if _, err := zw.Write(c); err != nil {
		return "", fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("gzip close: %w", err)
	}
	return COSEGzip(base64.RawURLEncoding.EncodeToString(buf.Bytes())), nil
}

func (b COSEBase64) String() string { return string(b) }

// Decode returns the raw COSE bytes.
func (b COSEBase64) Decode() (COSE, error) {
	raw, err := base64.StdEncoding.DecodeString(string(b))
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64: %w", err)
	}
	return COSE(raw), nil
}

// CompressGzip is shorthand for Decode followed by COSE.CompressGzip.
func (b COSEBase64) CompressGzip() (COSEGzip, error) {
	raw, err := b.Decode()
	if err != nil {
		return "", err
	}
	return raw.CompressGzip()
}

func (u COSEURLBase64) String() string { return string(u) }

// Decode returns the raw COSE bytes. Padding is optional.
func (u COSEURLBase64) Decode() (COSE, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(string(u), "="))
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64url: %w", err)
	}
	return COSE(raw), nil
}

func (g COSEGzip) String() string { return string(g) }

// Decompress returns the raw COSE bytes.
func (g COSEGzip) Decompress() (COSE, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(string(g), "="))
	if err != nil {
		return nil, fmt.Errorf("decode base64url: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read gzip stream: %w", err)
	}
	return COSE(raw), nil
}
