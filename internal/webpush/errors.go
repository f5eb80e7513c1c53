package webpush

import "fmt"

// SigningError indicates the VAPID key material or claim set could not be
// signed. Fatal for the send that triggered it; not retried.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("webpush: vapid signing failed: %v", e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// EncryptionError indicates the subscriber's key material was malformed or
// a derivation step failed. The subscription is left intact: garbage key
// material is not proof the endpoint is stale.
type EncryptionError struct {
	Err error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("webpush: payload encryption failed: %v", e.Err)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// EndpointGoneError indicates the push relay reported the endpoint as
// permanently invalid (404/410). The subscription should be pruned.
type EndpointGoneError struct {
	Endpoint   string
	StatusCode int
}

func (e *EndpointGoneError) Error() string {
	return fmt.Sprintf("webpush: endpoint gone (status %d)", e.StatusCode)
}

// TransportError indicates a network or HTTP failure that may be
// transient. The subscription is kept; the next scheduling cycle retries.
type TransportError struct {
	StatusCode int // zero when the request never completed
	Detail     string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webpush: push relay returned status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("webpush: transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
