package canonical

import "testing"

func TestNewEventRejectsBadSource(t *testing.T) {
	if _, err := NewEvent("GitHub!", "push", nil, nil, ""); err == nil {
		t.Fatal("expected error for invalid source charset")
	}
}

func TestNewEventRejectsWildcardType(t *testing.T) {
	if _, err := NewEvent("github", "planning.*", nil, nil, ""); err == nil {
		t.Fatal("expected error for wildcard type")
	}
}

func TestNewEventRejectsNonScalarProperty(t *testing.T) {
	props := map[string]any{"bad": []string{"x"}}
	if _, err := NewEvent("github", "push", props, nil, ""); err == nil {
		t.Fatal("expected error for non-scalar property value")
	}
}

func TestStreamRecordRoundTrip(t *testing.T) {
	ev, err := NewEvent("github", "push", map[string]any{
		"repo":   "owner/repo",
		"sender": "alice",
		"ref":    "refs/heads/main",
	}, []byte(`{"repository":{"full_name":"owner/repo"}}`), "idem-1")
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}

	rec, err := ev.ToStreamRecord()
	if err != nil {
		t.Fatalf("ToStreamRecord: %v", err)
	}

	got, err := FromStreamRecord(rec)
	if err != nil {
		t.Fatalf("FromStreamRecord: %v", err)
	}

	if got.EventID != ev.EventID || got.Source != ev.Source || got.Type != ev.Type {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, ev)
	}
	if got.Properties["repo"] != "owner/repo" {
		t.Fatalf("property not preserved: %+v", got.Properties)
	}
	if got.IdempotencyKey != ev.IdempotencyKey {
		t.Fatalf("idempotency key not preserved: got %q want %q", got.IdempotencyKey, ev.IdempotencyKey)
	}
}

func TestFromStreamRecordRejectsMissingFields(t *testing.T) {
	if _, err := FromStreamRecord(map[string]string{"source": "github"}); err == nil {
		t.Fatal("expected InvalidEnvelope for missing required keys")
	}
}

func TestFromStreamRecordRejectsMalformedPayload(t *testing.T) {
	rec := map[string]string{
		streamKeyEventID:   "abc",
		streamKeySource:    "github",
		streamKeyType:      "push",
		streamKeyTimestamp: "2026-08-01T00:00:00Z",
		streamKeyPayload:   "{not json",
	}
	if _, err := FromStreamRecord(rec); err == nil {
		t.Fatal("expected InvalidEnvelope for malformed payload")
	}
}
