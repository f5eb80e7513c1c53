// Command vapid-keygen generates a VAPID P-256 key pair in the base64url
// form the engine's configuration expects.
package main

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/freshcart/push-engine/internal/webpush"
)

func main() {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate key pair: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("VAPID_PUBLIC_KEY=%s\n", webpush.EncodeKey(key.PublicKey().Bytes()))
	fmt.Printf("VAPID_PRIVATE_KEY=%s\n", webpush.EncodeKey(key.Bytes()))
}
