package config

import (
	"fmt"
	"regexp"
	"strings"
)

var reSourceName = regexp.MustCompile(`^[a-z0-9._-]+$`)

// Normalize fills in derived defaults for each inbound source: its path and
// its normalizer name, both derived from the source name.
func Normalize(doc *Document) {
	if doc == nil {
		return
	}
	for name, src := range doc.Inbound {
		if src.Path == "" {
			src.Path = "/hooks/inbound/" + name
		}
		if src.Normalizer == "" {
			src.Normalizer = name
		}
		doc.Inbound[name] = src
	}
}

// Validate checks structural invariants of a parsed Document: subscription
// targets are exclusive (handler XOR url), ids are unique, source names are
// well-formed.
func Validate(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrInvalid)
	}
	for name := range doc.Inbound {
		if !reSourceName.MatchString(name) {
			return fmt.Errorf("%w: invalid source name %q", ErrInvalid, name)
		}
	}
	seen := map[string]bool{}
	for _, sub := range doc.Subscriptions {
		id := strings.TrimSpace(sub.ID)
		if id == "" {
			return fmt.Errorf("%w: subscription missing id", ErrInvalid)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate subscription id %q", ErrInvalid, id)
		}
		seen[id] = true

		hasHandler := strings.TrimSpace(sub.Target.Handler) != ""
		hasURL := strings.TrimSpace(sub.Target.URL) != ""
		if hasHandler == hasURL {
			return fmt.Errorf("%w: subscription %q target must set exactly one of handler/url", ErrInvalid, id)
		}
		if sub.SourceCriterion.Match == nil {
			return fmt.Errorf("%w: subscription %q missing source_criterion", ErrInvalid, id)
		}
		if sub.TypeCriterion.Match == nil {
			return fmt.Errorf("%w: subscription %q missing type_criterion", ErrInvalid, id)
		}
		if sub.TTLSeconds < 0 {
			return fmt.Errorf("%w: subscription %q has negative ttl_seconds", ErrInvalid, id)
		}
		if sub.Target.TimeoutMS < 0 {
			return fmt.Errorf("%w: subscription %q has negative timeout_ms", ErrInvalid, id)
		}
	}
	return nil
}
