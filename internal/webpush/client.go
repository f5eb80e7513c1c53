package webpush

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client posts encrypted messages to push relays. It is a thin transport:
// signing and encryption happen before a body reaches Send, and result
// classification is surfaced through the typed errors in this package.
type Client struct {
	http *http.Client
	ttl  int
}

// NewClient creates a push relay client. ttlSeconds becomes the TTL header
// on every post; timeout bounds the underlying HTTP request independently
// of the circuit breaker's call timeout.
func NewClient(ttlSeconds int, timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{
			Timeout: timeout,
		},
		ttl: ttlSeconds,
	}
}

// Send posts an encrypted body to the subscription endpoint. A nil return
// means the relay accepted the message (2xx). 404 and 410 map to
// *EndpointGoneError; everything else maps to *TransportError.
func (c *Client) Send(ctx context.Context, endpoint, authorization string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Err: err}
	}

	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Encoding", "aes128gcm")
	req.Header.Set("Authorization", authorization)
	req.Header.Set("TTL", strconv.Itoa(c.ttl))
	req.Header.Set("Urgency", "high")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return &EndpointGoneError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	return &TransportError{
		StatusCode: resp.StatusCode,
		Detail:     readErrorDetail(resp.Body),
	}
}

// readErrorDetail captures a short excerpt of the relay's error body for
// the delivery log.
func readErrorDetail(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	detail := strings.TrimSpace(string(b))
	if detail == "" {
		return "no response body"
	}
	return detail
}
