package apperrors

import "testing"

func TestMetaKnownCodes(t *testing.T) {
	for _, c := range List() {
		if _, ok := Meta(c); !ok {
			t.Fatalf("code %q listed but Meta missing", c)
		}
	}
}

func TestHTTPStatusForUnknown(t *testing.T) {
	if got := HTTPStatusFor(Code("not_a_real_code")); got != 500 {
		t.Fatalf("want 500 for unknown code, got %d", got)
	}
}

func TestFromErrorUnwrapsCodedError(t *testing.T) {
	err := New(InvalidSignature, "hmac mismatch")
	env := FromError(err)
	if env.Error.Code != InvalidSignature {
		t.Fatalf("want code %q, got %q", InvalidSignature, env.Error.Code)
	}
	if env.Error.Retryable {
		t.Fatalf("InvalidSignature must not be retryable")
	}
}

func TestFromErrorFallsBackToInternal(t *testing.T) {
	env := FromError(nil)
	if env.Error.Code != Internal {
		t.Fatalf("want internal for nil error, got %q", env.Error.Code)
	}
}

func TestNewEnvelopeSortsDetails(t *testing.T) {
	env := NewEnvelope(InvalidPayload, "bad body", map[string]any{"b": 2, "a": 1})
	if len(env.Error.Details) != 2 || env.Error.Details[0].K != "a" || env.Error.Details[1].K != "b" {
		t.Fatalf("details not sorted: %+v", env.Error.Details)
	}
}
