package inbound

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gorilla/mux"

	"github.com/inboundhook/hookservice/internal/normalize"
	"github.com/inboundhook/hookservice/pkg/canonical"
)

type captureDispatcher struct {
	events []*canonical.Event
}

func (c *captureDispatcher) Dispatch(_ context.Context, event *canonical.Event) error {
	c.events = append(c.events, event)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *mux.Router, *captureDispatcher) {
	t.Helper()
	norms := normalize.NewRegistry()
	if err := norms.RegisterBuiltins(); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	disp := &captureDispatcher{}
	reg := NewRegistry(norms, disp, nil)
	router := mux.NewRouter()
	return reg, router, disp
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestPostAcceptsValidSignedPayload(t *testing.T) {
	reg, router, disp := newTestRegistry(t)
	src := Source{Name: "github", Secret: "topsecret"}
	if err := reg.Mount(router, src); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	body := []byte(`{"repository":{"full_name":"acme/widgets"}}`)
	req := httptest.NewRequest(http.MethodPost, "/hooks/inbound/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", sign(body, "topsecret"))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(disp.events) != 1 {
		t.Fatalf("expected one dispatched event, got %d", len(disp.events))
	}
}

func TestPostRejectsMissingSignature(t *testing.T) {
	reg, router, _ := newTestRegistry(t)
	if err := reg.Mount(router, Source{Name: "github", Secret: "topsecret"}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/hooks/inbound/github", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPostRejectsTamperedBody(t *testing.T) {
	reg, router, _ := newTestRegistry(t)
	if err := reg.Mount(router, Source{Name: "github", Secret: "topsecret"}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	body := []byte(`{"a":1}`)
	sig := sign(body, "topsecret")
	tampered := []byte(`{"a":2}`)
	req := httptest.NewRequest(http.MethodPost, "/hooks/inbound/github", bytes.NewReader(tampered))
	req.Header.Set("X-Hub-Signature-256", sig)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered body, got %d", rec.Code)
	}
}

func TestPostRejectsMalformedJSON(t *testing.T) {
	reg, router, _ := newTestRegistry(t)
	if err := reg.Mount(router, Source{Name: "github"}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/hooks/inbound/github", bytes.NewReader([]byte(`not json`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetHandshakeEchoesChallengeOnMatch(t *testing.T) {
	reg, router, _ := newTestRegistry(t)
	if err := reg.Mount(router, Source{Name: "github", VerifyToken: "abc"}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	q := url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"abc"}, "hub.challenge": {"xyz"}}
	req := httptest.NewRequest(http.MethodGet, "/hooks/inbound/github?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "xyz" {
		t.Fatalf("expected echoed challenge, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestGetHandshakeRejectsTokenMismatch(t *testing.T) {
	reg, router, _ := newTestRegistry(t)
	if err := reg.Mount(router, Source{Name: "github", VerifyToken: "abc"}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	q := url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"wrong"}, "hub.challenge": {"xyz"}}
	req := httptest.NewRequest(http.MethodGet, "/hooks/inbound/github?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestMountRejectsDuplicateSource(t *testing.T) {
	reg, router, _ := newTestRegistry(t)
	if err := reg.Mount(router, Source{Name: "github"}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if err := reg.Mount(router, Source{Name: "github"}); err == nil {
		t.Fatal("expected duplicate mount error")
	}
}
