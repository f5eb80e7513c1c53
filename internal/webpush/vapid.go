package webpush

import (
	"crypto/ecdsa"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// tokenTTL is the lifetime of a VAPID assertion. RFC 8292 caps it at 24
// hours; 12 keeps a healthy margin for relay clock skew.
const tokenTTL = 12 * time.Hour

// Signer produces VAPID authorization headers proving the application's
// identity to a push relay, scoped to the receiving endpoint's origin.
type Signer struct {
	key       *ecdsa.PrivateKey
	publicKey string // base64url raw uncompressed point, sent in the k= parameter
	subject   string
}

// NewSigner builds a Signer from the configured base64url key pair and
// contact subject.
func NewSigner(publicKey, privateKey, subject string) (*Signer, error) {
	key, err := ParseSigningKey(privateKey)
	if err != nil {
		return nil, &SigningError{Err: err}
	}

	if _, err := decodeBase64(publicKey); err != nil {
		return nil, &SigningError{Err: fmt.Errorf("invalid base64url public key: %w", err)}
	}

	return &Signer{
		key:       key,
		publicKey: publicKey,
		subject:   subject,
	}, nil
}

// Sign returns a signed assertion token for the origin of endpoint.
func (s *Signer) Sign(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", &SigningError{Err: fmt.Errorf("invalid endpoint URL: %w", err)}
	}
	if u.Scheme == "" || u.Host == "" {
		return "", &SigningError{Err: fmt.Errorf("endpoint URL %q has no origin", endpoint)}
	}

	claims := jwt.MapClaims{
		"aud": u.Scheme + "://" + u.Host,
		"exp": time.Now().Add(tokenTTL).Unix(),
		"sub": s.subject,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(s.key)
	if err != nil {
		return "", &SigningError{Err: err}
	}
	return token, nil
}

// AuthorizationHeader returns the full Authorization header value for a
// post to endpoint: the signed token plus the application public key.
func (s *Signer) AuthorizationHeader(endpoint string) (string, error) {
	token, err := s.Sign(endpoint)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("vapid t=%s, k=%s", token, s.publicKey), nil
}

// PublicKey returns the base64url application public key.
func (s *Signer) PublicKey() string {
	return s.publicKey
}
