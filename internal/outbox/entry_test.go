package outbox

import (
	"testing"
	"time"
)

func TestBackoffForFollowsSchedule(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 10 * time.Second},
		{1, 10 * time.Second},
		{2, 30 * time.Second},
		{3, 2 * time.Minute},
		{4, 10 * time.Minute},
		{5, 30 * time.Minute},
		{6, time.Hour},
		{50, time.Hour},
	}
	for _, c := range cases {
		if got := BackoffFor(c.attempts); got != c.want {
			t.Errorf("BackoffFor(%d) = %v, want %v", c.attempts, got, c.want)
		}
	}
}

func TestEntryValidateRejectsMissingFields(t *testing.T) {
	e := Entry{ID: "x", ContractID: "c", EventID: "e", URL: ""}
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for missing URL")
	}
	e.URL = "https://example.com/hook"
	if err := e.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeterministicJitterIsStableAndBounded(t *testing.T) {
	base := 10 * time.Second
	a := deterministicJitter(base, 20, "entry-1", 3)
	b := deterministicJitter(base, 20, "entry-1", 3)
	if a != b {
		t.Fatalf("jitter not deterministic: %v != %v", a, b)
	}
	lo := base - base*20/100
	hi := base + base*20/100
	if a < lo || a > hi {
		t.Fatalf("jitter %v outside bound [%v, %v]", a, lo, hi)
	}
	c := deterministicJitter(base, 20, "entry-2", 3)
	if a == c {
		t.Fatalf("jitter did not vary across entries")
	}
}
