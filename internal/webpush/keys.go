package webpush

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

const (
	// uncompressedPointLen is the length of an uncompressed P-256 point
	// (0x04 prefix plus two 32-byte coordinates).
	uncompressedPointLen = 65

	authSecretLen = 16
	scalarLen     = 32
)

// decodeBase64 accepts the base64url encoding browsers hand out for
// subscription keys, with or without padding.
func decodeBase64(value string) ([]byte, error) {
	value = strings.TrimRight(value, "=")
	return base64.RawURLEncoding.DecodeString(value)
}

// EncodeKey renders raw key bytes in the unpadded base64url form used on
// the wire and in configuration.
func EncodeKey(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// ParseSubscriberKey decodes a subscriber's base64url public key into a
// P-256 ECDH key. The encoding must be a 65-byte uncompressed curve point.
func ParseSubscriberKey(encoded string) (*ecdh.PublicKey, error) {
	raw, err := decodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64url public key: %w", err)
	}
	if len(raw) != uncompressedPointLen {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", uncompressedPointLen, len(raw))
	}
	key, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("public key is not a valid P-256 point: %w", err)
	}
	return key, nil
}

// ParseAuthSecret decodes a subscriber's base64url auth secret.
func ParseAuthSecret(encoded string) ([]byte, error) {
	raw, err := decodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64url auth secret: %w", err)
	}
	if len(raw) != authSecretLen {
		return nil, fmt.Errorf("auth secret must be %d bytes, got %d", authSecretLen, len(raw))
	}
	return raw, nil
}

// ParseSigningKey decodes a base64url 32-byte P-256 scalar into an ECDSA
// private key for VAPID signing.
func ParseSigningKey(encoded string) (*ecdsa.PrivateKey, error) {
	raw, err := decodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64url private key: %w", err)
	}
	if len(raw) != scalarLen {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", scalarLen, len(raw))
	}

	d := new(big.Int).SetBytes(raw)
	if d.Sign() == 0 {
		return nil, fmt.Errorf("private key scalar is zero")
	}

	key := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: elliptic.P256()},
		D:         d,
	}
	key.PublicKey.X, key.PublicKey.Y = key.Curve.ScalarBaseMult(raw)
	if key.PublicKey.X == nil {
		return nil, fmt.Errorf("private key scalar is out of range")
	}
	return key, nil
}
