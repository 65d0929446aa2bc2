// Package config loads the inbound/subscription document that drives the
// hook service: which sources are mounted, how their payloads are
// normalized, and which subscriptions route events to handlers or URLs.
package config

// InboundSource is one entry under the top-level "inbound" map, keyed by
// source name (e.g. "github").
type InboundSource struct {
	Path        string `yaml:"path,omitempty" json:"path,omitempty"`
	Normalizer  string `yaml:"normalizer,omitempty" json:"normalizer,omitempty"`
	Secret      string `yaml:"secret,omitempty" json:"secret,omitempty"`
	VerifyToken string `yaml:"verify_token,omitempty" json:"verify_token,omitempty"`
}

// Criterion matches a single scalar field (source or type) against an exact
// string, a set of alternatives, or a {regex: pattern} map.
type Criterion struct {
	Match any `yaml:"match" json:"match"`
}

// PropertyCriterion matches one entry of Event.Properties.
type PropertyCriterion struct {
	Key   string `yaml:"key" json:"key"`
	Match any    `yaml:"match" json:"match"`
}

// Target is the delivery destination of a subscription: exactly one of
// Handler or URL must be set.
type Target struct {
	Handler       string `yaml:"handler,omitempty" json:"handler,omitempty"`
	URL           string `yaml:"url,omitempty" json:"url,omitempty"`
	SigningSecret string `yaml:"signing_secret,omitempty" json:"signing_secret,omitempty"`
	TimeoutMS     int    `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
}

// Subscription is a contract definition as it appears in configuration,
// before being registered with the contract registry.
type Subscription struct {
	ID               string              `yaml:"id" json:"id"`
	SourceCriterion  Criterion           `yaml:"source_criterion" json:"source_criterion"`
	TypeCriterion    Criterion           `yaml:"type_criterion" json:"type_criterion"`
	PropertyCriteria []PropertyCriterion `yaml:"property_criteria,omitempty" json:"property_criteria,omitempty"`
	Target           Target              `yaml:"target" json:"target"`
	TTLSeconds       int                 `yaml:"ttl_seconds,omitempty" json:"ttl_seconds,omitempty"`
}

// Document is the full parsed configuration shape.
type Document struct {
	Inbound       map[string]InboundSource `yaml:"inbound" json:"inbound"`
	Subscriptions []Subscription           `yaml:"subscriptions" json:"subscriptions"`
}
