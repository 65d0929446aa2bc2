package outbox

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// outcomeKind classifies a delivery attempt's result for the state machine.
type outcomeKind int

const (
	outcomeSucceeded outcomeKind = iota
	outcomeRetryable             // timeout, network error, or 5xx/429
	outcomeTerminal              // non-retryable 4xx
)

type deliveryOutcome struct {
	kind outcomeKind
	err  error
}

// Deliverer POSTs an Entry's payload to its target URL, signing the body
// with HMAC-SHA256 over the target's signing secret and including the
// event id for caller-side dedup.
type Deliverer struct {
	client *http.Client
}

func NewDeliverer(client *http.Client) *Deliverer {
	if client == nil {
		client = &http.Client{}
	}
	return &Deliverer{client: client}
}

func (d *Deliverer) Deliver(ctx context.Context, e Entry) deliveryOutcome {
	timeout := time.Duration(e.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultClaimTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.URL, bytes.NewReader(e.PayloadJSON))
	if err != nil {
		return deliveryOutcome{kind: outcomeTerminal, err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", e.EventID)
	if e.SigningSecretRef != "" {
		req.Header.Set("X-Hub-Signature-256", "sha256="+signHex(e.PayloadJSON, e.SigningSecretRef))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return deliveryOutcome{kind: outcomeRetryable, err: fmt.Errorf("outbox: delivery timeout: %w", err)}
		}
		return deliveryOutcome{kind: outcomeRetryable, err: fmt.Errorf("outbox: network error: %w", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return deliveryOutcome{kind: outcomeSucceeded}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return deliveryOutcome{kind: outcomeRetryable, err: fmt.Errorf("outbox: remote returned %d", resp.StatusCode)}
	default:
		return deliveryOutcome{kind: outcomeTerminal, err: fmt.Errorf("outbox: remote returned %d", resp.StatusCode)}
	}
}

func signHex(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
