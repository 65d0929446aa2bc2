package idempotency

import "testing"

func TestBuildKeyDeterministic(t *testing.T) {
	k1, err := BuildKey("deploy_update", "order-123")
	if err != nil {
		t.Fatalf("BuildKey: %v", err)
	}
	k2, err := BuildKey("deploy_update", "order-123")
	if err != nil {
		t.Fatalf("BuildKey: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("expected deterministic key, got %q vs %q", k1, k2)
	}
}

func TestBuildKeyNamespacesByHandler(t *testing.T) {
	k1, _ := BuildKey("deploy_update", "order-123")
	k2, _ := BuildKey("notify_slack", "order-123")
	if k1 == k2 {
		t.Fatal("expected different handlers to produce different keys for the same raw key")
	}
}

func TestBuildKeyRejectsEmptyInputs(t *testing.T) {
	if _, err := BuildKey("", "x"); err == nil {
		t.Fatal("expected error for empty handler")
	}
	if _, err := BuildKey("h", ""); err == nil {
		t.Fatal("expected error for empty raw key")
	}
}

func TestParseKeyRoundTrip(t *testing.T) {
	key, err := BuildKey("Deploy_Update", "order-123")
	if err != nil {
		t.Fatalf("BuildKey: %v", err)
	}
	parts, err := ParseKey(key)
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if parts.Handler != "deploy_update" {
		t.Fatalf("expected lowercased handler, got %q", parts.Handler)
	}
}

func TestStoreSeenOrMark(t *testing.T) {
	s := NewStore(0)
	if s.SeenOrMark("k1") {
		t.Fatal("first mark should report unseen")
	}
	if !s.SeenOrMark("k1") {
		t.Fatal("second mark should report seen")
	}
}
