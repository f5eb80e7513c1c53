package webpush

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// RFC 8291 / RFC 8188 aes128gcm constants.
const (
	saltLen    = 16
	keyLen     = 16
	nonceLen   = 12
	gcmTagLen  = 16
	recordSize = 4096

	// maxPlaintextLen leaves room in a single record for the GCM tag and
	// the one-byte last-record delimiter.
	maxPlaintextLen = recordSize - gcmTagLen - 1
)

var (
	keyInfoPrefix = []byte("WebPush: info\x00")
	cekInfo       = []byte("Content-Encoding: aes128gcm\x00")
	nonceInfo     = []byte("Content-Encoding: nonce\x00")
)

// Encrypt seals plaintext for the subscriber identified by its base64url
// public key and auth secret, producing the aes128gcm content-coding
// record the push relay forwards verbatim to the device.
//
// Every call generates a fresh ephemeral key pair and salt. Reusing either
// across messages would break forward secrecy, so there is deliberately no
// way to supply them from outside.
func Encrypt(plaintext []byte, subscriberKey, authSecret string) ([]byte, error) {
	if len(plaintext) > maxPlaintextLen {
		return nil, &EncryptionError{Err: fmt.Errorf("payload of %d bytes exceeds the %d byte single-record limit", len(plaintext), maxPlaintextLen)}
	}

	clientPub, err := ParseSubscriberKey(subscriberKey)
	if err != nil {
		return nil, &EncryptionError{Err: err}
	}

	auth, err := ParseAuthSecret(authSecret)
	if err != nil {
		return nil, &EncryptionError{Err: err}
	}

	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, &EncryptionError{Err: fmt.Errorf("ephemeral key generation: %w", err)}
	}

	sharedSecret, err := ephemeral.ECDH(clientPub)
	if err != nil {
		return nil, &EncryptionError{Err: fmt.Errorf("ECDH agreement: %w", err)}
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, &EncryptionError{Err: fmt.Errorf("salt generation: %w", err)}
	}

	return seal(plaintext, sharedSecret, auth, salt, clientPub.Bytes(), ephemeral.PublicKey().Bytes())
}

// seal performs the HKDF derivations and AES-128-GCM encryption, then
// assembles the content-coding header. Split from Encrypt so the inverse
// in tests can reuse the exact derivation.
func seal(plaintext, sharedSecret, auth, salt, clientPubBytes, serverPubBytes []byte) ([]byte, error) {
	cek, nonce, err := deriveKeyAndNonce(sharedSecret, auth, salt, clientPubBytes, serverPubBytes)
	if err != nil {
		return nil, &EncryptionError{Err: err}
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, &EncryptionError{Err: err}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &EncryptionError{Err: err}
	}

	// A single record carries the whole payload, terminated by the 0x02
	// last-record delimiter from RFC 8188.
	record := make([]byte, 0, len(plaintext)+1)
	record = append(record, plaintext...)
	record = append(record, 0x02)

	ciphertext := gcm.Seal(nil, nonce, record, nil)

	// salt(16) || rs(4, big-endian) || idlen(1) || server public key || ciphertext
	out := make([]byte, 0, saltLen+4+1+len(serverPubBytes)+len(ciphertext))
	out = append(out, salt...)
	out = binary.BigEndian.AppendUint32(out, recordSize)
	out = append(out, byte(len(serverPubBytes)))
	out = append(out, serverPubBytes...)
	out = append(out, ciphertext...)
	return out, nil
}

// deriveKeyAndNonce runs the two-stage HKDF-SHA-256 schedule from
// RFC 8291 §3.3-3.4: the auth secret keys the extraction of an
// input-keying-material bound to both public keys, and the message salt
// keys the content-encryption key and nonce expansions.
func deriveKeyAndNonce(sharedSecret, auth, salt, clientPubBytes, serverPubBytes []byte) (cek, nonce []byte, err error) {
	keyInfo := make([]byte, 0, len(keyInfoPrefix)+len(clientPubBytes)+len(serverPubBytes))
	keyInfo = append(keyInfo, keyInfoPrefix...)
	keyInfo = append(keyInfo, clientPubBytes...)
	keyInfo = append(keyInfo, serverPubBytes...)

	ikm := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, sharedSecret, auth, keyInfo), ikm); err != nil {
		return nil, nil, fmt.Errorf("IKM derivation: %w", err)
	}

	cek = make([]byte, keyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, cekInfo), cek); err != nil {
		return nil, nil, fmt.Errorf("CEK derivation: %w", err)
	}

	nonce = make([]byte, nonceLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, nonceInfo), nonce); err != nil {
		return nil, nil, fmt.Errorf("nonce derivation: %w", err)
	}

	return cek, nonce, nil
}
