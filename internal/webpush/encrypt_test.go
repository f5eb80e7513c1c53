package webpush

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"testing"
)

// testSubscriber generates the key material a browser would hand out when
// a device opts in.
func testSubscriber(t *testing.T) (priv *ecdh.PrivateKey, publicKey string, authSecret string, authRaw []byte) {
	t.Helper()

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate subscriber key: %v", err)
	}

	authRaw = make([]byte, authSecretLen)
	if _, err := rand.Read(authRaw); err != nil {
		t.Fatalf("failed to generate auth secret: %v", err)
	}

	return priv, EncodeKey(priv.PublicKey().Bytes()), EncodeKey(authRaw), authRaw
}

// decrypt is the receiving side of the aes128gcm content coding, built
// with the subscriber's private half of the key agreement.
func decrypt(t *testing.T, record []byte, priv *ecdh.PrivateKey, auth []byte) []byte {
	t.Helper()

	if len(record) < saltLen+4+1 {
		t.Fatalf("record too short: %d bytes", len(record))
	}

	salt := record[:saltLen]
	rs := binary.BigEndian.Uint32(record[saltLen : saltLen+4])
	if rs != recordSize {
		t.Fatalf("expected record size %d, got %d", recordSize, rs)
	}

	idLen := int(record[saltLen+4])
	if idLen != uncompressedPointLen {
		t.Fatalf("expected key id length %d, got %d", uncompressedPointLen, idLen)
	}

	keyStart := saltLen + 4 + 1
	serverPubBytes := record[keyStart : keyStart+idLen]
	ciphertext := record[keyStart+idLen:]

	serverPub, err := ecdh.P256().NewPublicKey(serverPubBytes)
	if err != nil {
		t.Fatalf("ephemeral key in record is invalid: %v", err)
	}

	shared, err := priv.ECDH(serverPub)
	if err != nil {
		t.Fatalf("ECDH failed: %v", err)
	}

	cek, nonce, err := deriveKeyAndNonce(shared, auth, salt, priv.PublicKey().Bytes(), serverPubBytes)
	if err != nil {
		t.Fatalf("derivation failed: %v", err)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		t.Fatalf("cipher init failed: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("GCM init failed: %v", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		t.Fatalf("decryption failed: %v", err)
	}

	if len(plaintext) == 0 || plaintext[len(plaintext)-1] != 0x02 {
		t.Fatalf("missing last-record delimiter, trailing byte %x", plaintext[len(plaintext)-1])
	}
	return plaintext[:len(plaintext)-1]
}

func TestEncryptRoundTrip(t *testing.T) {
	priv, publicKey, authSecret, authRaw := testSubscriber(t)

	plaintext := []byte(`{"title":"Order delivered","body":"Your groceries have arrived","type":"order_update"}`)

	record, err := Encrypt(plaintext, publicKey, authSecret)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	got := decrypt(t, record, priv, authRaw)
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch:\n got %q\nwant %q", got, plaintext)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	_, publicKey, authSecret, _ := testSubscriber(t)

	plaintext := []byte(`{"title":"same payload"}`)

	first, err := Encrypt(plaintext, publicKey, authSecret)
	if err != nil {
		t.Fatalf("first encrypt failed: %v", err)
	}
	second, err := Encrypt(plaintext, publicKey, authSecret)
	if err != nil {
		t.Fatalf("second encrypt failed: %v", err)
	}

	// Fresh salt and ephemeral key per message: identical output would
	// mean reuse, which breaks forward secrecy.
	if bytes.Equal(first, second) {
		t.Fatal("two encryptions of the same plaintext produced identical records")
	}
	if bytes.Equal(first[:saltLen], second[:saltLen]) {
		t.Fatal("salt was reused across messages")
	}
}

func TestEncryptRejectsMalformedKeyMaterial(t *testing.T) {
	_, publicKey, authSecret, _ := testSubscriber(t)

	tests := []struct {
		name       string
		publicKey  string
		authSecret string
	}{
		{"truncated public key", EncodeKey([]byte{0x04, 0x01, 0x02}), authSecret},
		{"not base64", "!!!not-base64!!!", authSecret},
		{"short auth secret", publicKey, EncodeKey([]byte{0x01, 0x02})},
		{"point not on curve", EncodeKey(append([]byte{0x04}, make([]byte, 64)...)), authSecret},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Encrypt([]byte("payload"), tc.publicKey, tc.authSecret)
			var encErr *EncryptionError
			if !errors.As(err, &encErr) {
				t.Fatalf("expected EncryptionError, got %v", err)
			}
		})
	}
}

func TestEncryptRejectsOversizedPayload(t *testing.T) {
	_, publicKey, authSecret, _ := testSubscriber(t)

	_, err := Encrypt(make([]byte, maxPlaintextLen+1), publicKey, authSecret)
	var encErr *EncryptionError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncryptionError for oversized payload, got %v", err)
	}
}
