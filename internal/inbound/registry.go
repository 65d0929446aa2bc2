// Package inbound mounts one HTTP route per configured source onto a
// gorilla/mux router: a GET handshake endpoint and a POST ingress endpoint
// that verifies, normalizes, and hands events to a dispatcher.
package inbound

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"

	"github.com/inboundhook/hookservice/internal/normalize"
	"github.com/inboundhook/hookservice/internal/obslog"
	"github.com/inboundhook/hookservice/pkg/apperrors"
	"github.com/inboundhook/hookservice/pkg/canonical"
)

// MaxBodyBytes bounds how much of a POST body is read before rejecting the
// request with 413.
const MaxBodyBytes = 10 * 1024 * 1024

// Dispatcher is the narrow interface the registry needs from the dispatch
// component; defined here to avoid an import cycle.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *canonical.Event) error
}

// Source is one configured inbound source.
type Source struct {
	Name        string
	Path        string
	Normalizer  string
	Secret      string
	VerifyToken string
}

// Registry mounts sources onto a mux.Router.
type Registry struct {
	normalizers *normalize.Registry
	dispatcher  Dispatcher
	logger      *obslog.Logger

	mu      sync.RWMutex
	sources map[string]Source
}

func NewRegistry(normalizers *normalize.Registry, dispatcher Dispatcher, logger *obslog.Logger) *Registry {
	if logger == nil {
		logger = obslog.Nop
	}
	return &Registry{
		normalizers: normalizers,
		dispatcher:  dispatcher,
		logger:      logger,
		sources:     make(map[string]Source),
	}
}

var ErrDuplicateSource = errors.New("inbound: source already mounted")

// Mount registers src's routes on r and records it for introspection. The
// path is derived deterministically from the source name unless src.Path
// is set; the registry never needs to resolve a path back to a source at
// request time because the mux closure already captures it.
func (reg *Registry) Mount(r *mux.Router, src Source) error {
	src.Name = strings.TrimSpace(src.Name)
	if src.Name == "" {
		return fmt.Errorf("inbound: source name required")
	}
	if src.Path == "" {
		src.Path = "/hooks/inbound/" + src.Name
	}
	if src.Normalizer == "" {
		src.Normalizer = src.Name
	}

	reg.mu.Lock()
	if _, exists := reg.sources[src.Name]; exists {
		reg.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDuplicateSource, src.Name)
	}
	reg.sources[src.Name] = src
	reg.mu.Unlock()

	r.HandleFunc(src.Path, reg.handleGet(src)).Methods(http.MethodGet)
	r.HandleFunc(src.Path, reg.handlePost(src)).Methods(http.MethodPost)
	return nil
}

// Sources returns the currently mounted sources, keyed by name.
func (reg *Registry) Sources() map[string]Source {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make(map[string]Source, len(reg.sources))
	for k, v := range reg.sources {
		out[k] = v
	}
	return out
}

func (reg *Registry) handleGet(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		challenge := q.Get("hub.challenge")
		token := q.Get("hub.verify_token")
		mode := q.Get("hub.mode")

		if mode == "" && token == "" && challenge == "" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if src.VerifyToken == "" || token != src.VerifyToken {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, challenge)
	}
}

func (reg *Registry) handlePost(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readLimited(r.Body, MaxBodyBytes)
		if err != nil {
			if errors.Is(err, errBodyTooLarge) {
				writeError(w, apperrors.PayloadTooLarge, "request body too large")
				return
			}
			writeError(w, apperrors.InvalidPayload, "failed to read body")
			return
		}

		headers := lowercaseHeaders(r.Header)

		if src.Secret != "" {
			sig := firstNonEmpty(headers["x-hub-signature-256"], headers["x-signature-256"])
			if sig == "" {
				writeError(w, apperrors.MissingSignature, "missing signature header")
				return
			}
			if !verifySignature(body, src.Secret, sig) {
				writeError(w, apperrors.InvalidSignature, "signature mismatch")
				return
			}
		}

		if !json.Valid(body) {
			writeError(w, apperrors.InvalidPayload, "malformed JSON body")
			return
		}

		fn, err := reg.normalizers.Get(src.Normalizer)
		if err != nil {
			writeError(w, apperrors.UnknownNormalizer, err.Error())
			return
		}

		event, err := fn(body, headers)
		if err != nil {
			writeError(w, apperrors.NormalizerFailed, err.Error())
			return
		}

		if reg.dispatcher != nil {
			if err := reg.dispatcher.Dispatch(r.Context(), event); err != nil {
				reg.logger.Warn("dispatch failed", map[string]any{
					"source": src.Name, "event_id": event.EventID, "err": err.Error(),
				})
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	}
}

var errBodyTooLarge = errors.New("inbound: body exceeds limit")

func readLimited(r io.Reader, max int64) ([]byte, error) {
	lr := &io.LimitedReader{R: r, N: max + 1}
	b, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errBodyTooLarge
	}
	return b, nil
}

func lowercaseHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		out[strings.ToLower(k)] = v[0]
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func verifySignature(body []byte, secret, sig string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(sig, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig[len(prefix):]), []byte(expected))
}

func writeError(w http.ResponseWriter, code apperrors.Code, msg string) {
	apperrors.WriteHTTP(w, apperrors.HTTPStatusFor(code), apperrors.NewEnvelope(code, msg, nil))
}
