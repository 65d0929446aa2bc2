package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/inboundhook/hookservice/pkg/canonical"
)

// NormalizeGitHub is the reference normalizer: it reads the x-github-event
// header for the event type, falls back to "unknown" when absent, and
// extracts a small set of properties used for contract matching. Unknown
// event types still normalize successfully; normalizer failure is reserved
// for malformed payloads, not unrecognized event kinds.
func NormalizeGitHub(payload []byte, headers map[string]string) (*canonical.Event, error) {
	var body map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, fmt.Errorf("normalize github: %w", err)
		}
	}

	eventType := headers["x-github-event"]
	if eventType == "" {
		eventType = "unknown"
	}

	props := map[string]any{}
	if repo, ok := body["repository"].(map[string]any); ok {
		if fullName, ok := repo["full_name"].(string); ok && fullName != "" {
			props["repo"] = fullName
		}
	}
	if sender, ok := body["sender"].(map[string]any); ok {
		if login, ok := sender["login"].(string); ok && login != "" {
			props["sender"] = login
		}
	}
	if action, ok := body["action"].(string); ok && action != "" {
		props["action"] = action
	}
	if ref, ok := body["ref"].(string); ok && ref != "" {
		props["ref"] = ref
	}

	if eventType == "ping" {
		if zen, ok := body["zen"].(string); ok {
			props["zen"] = zen
		}
		if hookID, ok := body["hook_id"]; ok {
			props["hook_id"] = hookID
		}
	}

	return canonical.NewEvent("github", eventType, props, payload, "")
}
