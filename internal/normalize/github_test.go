package normalize

import "testing"

func TestNormalizeGitHubPush(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main","repository":{"full_name":"acme/widgets"},"sender":{"login":"octocat"}}`)
	ev, err := NormalizeGitHub(body, map[string]string{"x-github-event": "push"})
	if err != nil {
		t.Fatalf("NormalizeGitHub: %v", err)
	}
	if ev.Type != "push" || ev.Source != "github" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Properties["repo"] != "acme/widgets" || ev.Properties["sender"] != "octocat" {
		t.Fatalf("unexpected properties: %+v", ev.Properties)
	}
	if ev.Properties["ref"] != "refs/heads/main" {
		t.Fatalf("expected ref property, got %+v", ev.Properties)
	}
}

func TestNormalizeGitHubMissingEventHeaderFallsBackToUnknown(t *testing.T) {
	ev, err := NormalizeGitHub([]byte(`{}`), map[string]string{})
	if err != nil {
		t.Fatalf("NormalizeGitHub: %v", err)
	}
	if ev.Type != "unknown" {
		t.Fatalf("expected unknown type, got %q", ev.Type)
	}
}

func TestNormalizeGitHubPingExtractsZenAndHookID(t *testing.T) {
	body := []byte(`{"zen":"Keep it logically awesome.","hook_id":12345}`)
	ev, err := NormalizeGitHub(body, map[string]string{"x-github-event": "ping"})
	if err != nil {
		t.Fatalf("NormalizeGitHub: %v", err)
	}
	if ev.Properties["zen"] != "Keep it logically awesome." {
		t.Fatalf("expected zen property, got %+v", ev.Properties)
	}
	if ev.Properties["hook_id"] == nil {
		t.Fatal("expected hook_id property")
	}
}

func TestNormalizeGitHubRejectsMalformedJSON(t *testing.T) {
	if _, err := NormalizeGitHub([]byte(`{not json`), map[string]string{"x-github-event": "push"}); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
