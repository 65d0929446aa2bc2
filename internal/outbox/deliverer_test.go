package outbox

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestEntry(url string) Entry {
	return Entry{
		ID:               "entry-1",
		ContractID:       "contract-1",
		EventID:          "event-1",
		URL:              url,
		SigningSecretRef: "s3cr3t",
		PayloadJSON:      []byte(`{"hello":"world"}`),
		TimeoutMS:        1000,
	}
}

func TestDeliverSignsBodyAndSucceedsOn2xx(t *testing.T) {
	var gotSig, gotEventID string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Hub-Signature-256")
		gotEventID = r.Header.Get("X-Event-Id")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDeliverer(nil)
	e := newTestEntry(srv.URL)
	outcome := d.Deliver(context.Background(), e)
	if outcome.kind != outcomeSucceeded {
		t.Fatalf("expected succeeded, got %v (%v)", outcome.kind, outcome.err)
	}
	if gotEventID != "event-1" {
		t.Fatalf("expected event id header, got %q", gotEventID)
	}

	mac := hmac.New(sha256.New, []byte("s3cr3t"))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Fatalf("signature mismatch: got %q want %q", gotSig, want)
	}
}

func TestDeliverClassifies5xxAndTooManyRequestsAsRetryable(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusTooManyRequests, http.StatusBadGateway} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		d := NewDeliverer(nil)
		outcome := d.Deliver(context.Background(), newTestEntry(srv.URL))
		srv.Close()
		if outcome.kind != outcomeRetryable {
			t.Fatalf("status %d: expected retryable, got %v", status, outcome.kind)
		}
	}
}

func TestDeliverClassifiesOther4xxAsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	d := NewDeliverer(nil)
	outcome := d.Deliver(context.Background(), newTestEntry(srv.URL))
	if outcome.kind != outcomeTerminal {
		t.Fatalf("expected terminal, got %v", outcome.kind)
	}
}

func TestDeliverClassifiesUnreachableHostAsRetryable(t *testing.T) {
	d := NewDeliverer(nil)
	e := newTestEntry("http://127.0.0.1:1")
	outcome := d.Deliver(context.Background(), e)
	if outcome.kind != outcomeRetryable {
		t.Fatalf("expected retryable, got %v (%v)", outcome.kind, outcome.err)
	}
}
