// Package canonical defines the Event envelope shared by every component of
// the hook service: inbound normalizers produce it, the contract registry
// matches against it, and the stream fan-out consumer serializes it onto the
// broker stream and back.
package canonical

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is the canonical internal representation of an external or
// inter-process signal. Immutable once constructed.
type Event struct {
	EventID        string         `json:"event_id"`
	Source         string         `json:"source"`
	Type           string         `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	Properties     map[string]any `json:"properties,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

var (
	ErrEmptySource     = errors.New("canonical: source is required")
	ErrEmptyType       = errors.New("canonical: type is required")
	ErrInvalidSource   = errors.New("canonical: source has invalid characters")
	ErrInvalidType     = errors.New("canonical: type has invalid characters")
	ErrWildcardType    = errors.New("canonical: type must not contain a wildcard")
	ErrNonScalarProp   = errors.New("canonical: property value must be a string, number, or bool")
	ErrInvalidPayload  = errors.New("canonical: payload is not valid JSON")
	ErrInvalidEnvelope = errors.New("canonical: stream record is not a valid event")
)

// validIdent reports whether s is non-empty and uses only the `[a-z0-9._-]`
// charset allowed for source and type.
func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-'
		if !ok {
			return false
		}
	}
	return true
}

// NewEvent constructs an Event, assigning event_id and timestamp. payload
// may be nil, in which case it defaults to an empty JSON object.
func NewEvent(source, typ string, properties map[string]any, payload []byte, idempotencyKey string) (*Event, error) {
	source = strings.TrimSpace(source)
	typ = strings.TrimSpace(typ)

	if source == "" {
		return nil, ErrEmptySource
	}
	if !validIdent(source) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}
	if typ == "" {
		return nil, ErrEmptyType
	}
	if strings.Contains(typ, "*") {
		return nil, fmt.Errorf("%w: %q", ErrWildcardType, typ)
	}
	if !validIdent(typ) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}

	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if !json.Valid(payload) {
		return nil, ErrInvalidPayload
	}

	if err := validateProperties(properties); err != nil {
		return nil, err
	}

	ev := &Event{
		EventID:        uuid.NewString(),
		Source:         source,
		Type:           typ,
		Timestamp:      time.Now().UTC(),
		Properties:     properties,
		Payload:        json.RawMessage(payload),
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
	}
	return ev, nil
}

func validateProperties(props map[string]any) error {
	for k, v := range props {
		if k == "" {
			return fmt.Errorf("%w: empty property key", ErrNonScalarProp)
		}
		switch v.(type) {
		case string, bool, int, int32, int64, float32, float64, json.Number, nil:
			continue
		default:
			return fmt.Errorf("%w: key %q", ErrNonScalarProp, k)
		}
	}
	return nil
}

// Validate re-checks the invariants of an already-constructed Event, for
// events rehydrated from storage or the broker stream.
func (e *Event) Validate() error {
	if e == nil {
		return ErrInvalidEnvelope
	}
	if !validIdent(e.Source) {
		return fmt.Errorf("%w: %q", ErrInvalidSource, e.Source)
	}
	if strings.Contains(e.Type, "*") {
		return fmt.Errorf("%w: %q", ErrWildcardType, e.Type)
	}
	if !validIdent(e.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidType, e.Type)
	}
	if len(e.Payload) == 0 || !json.Valid(e.Payload) {
		return ErrInvalidPayload
	}
	return validateProperties(e.Properties)
}

// PartitionKey returns a stable key for stream/outbox partitioning.
func (e *Event) PartitionKey() string {
	return e.Source + ":" + e.Type
}

// reserved stream-record keys. Everything else in the record is treated as
// an opaque top-level property.
const (
	streamKeyEventID    = "event_id"
	streamKeySource     = "source"
	streamKeyType       = "type"
	streamKeyTimestamp  = "timestamp"
	streamKeyIdempotent = "idempotency_key"
	streamKeyProperties = "properties_json"
	streamKeyPayload    = "payload_json"
)

// ToStreamRecord flattens the event into a string-keyed map suitable for
// broker transport (Redis stream field/value pairs). Nested properties and
// payload are JSON-encoded under reserved keys.
func (e *Event) ToStreamRecord() (map[string]string, error) {
	if e == nil {
		return nil, ErrInvalidEnvelope
	}
	rec := map[string]string{
		streamKeyEventID:   e.EventID,
		streamKeySource:    e.Source,
		streamKeyType:      e.Type,
		streamKeyTimestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.IdempotencyKey != "" {
		rec[streamKeyIdempotent] = e.IdempotencyKey
	}
	if len(e.Properties) > 0 {
		b, err := marshalPropertiesDeterministic(e.Properties)
		if err != nil {
			return nil, fmt.Errorf("%w: properties: %v", ErrInvalidEnvelope, err)
		}
		rec[streamKeyProperties] = string(b)
	}
	if len(e.Payload) > 0 {
		rec[streamKeyPayload] = string(e.Payload)
	}
	return rec, nil
}

// FromStreamRecord is the inverse of ToStreamRecord.
func FromStreamRecord(rec map[string]string) (*Event, error) {
	if rec == nil {
		return nil, ErrInvalidEnvelope
	}
	id, ok := rec[streamKeyEventID]
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidEnvelope, streamKeyEventID)
	}
	source, ok := rec[streamKeySource]
	if !ok || source == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidEnvelope, streamKeySource)
	}
	typ, ok := rec[streamKeyType]
	if !ok || typ == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidEnvelope, streamKeyType)
	}
	tsRaw, ok := rec[streamKeyTimestamp]
	if !ok || tsRaw == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidEnvelope, streamKeyTimestamp)
	}
	ts, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp: %v", ErrInvalidEnvelope, err)
	}

	ev := &Event{
		EventID:        id,
		Source:         source,
		Type:           typ,
		Timestamp:      ts,
		IdempotencyKey: rec[streamKeyIdempotent],
	}

	if raw, ok := rec[streamKeyProperties]; ok && raw != "" {
		var props map[string]any
		if err := json.Unmarshal([]byte(raw), &props); err != nil {
			return nil, fmt.Errorf("%w: malformed properties: %v", ErrInvalidEnvelope, err)
		}
		ev.Properties = props
	}
	if raw, ok := rec[streamKeyPayload]; ok && raw != "" {
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("%w: malformed payload", ErrInvalidEnvelope)
		}
		ev.Payload = json.RawMessage(raw)
	} else {
		ev.Payload = json.RawMessage("{}")
	}

	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// marshalPropertiesDeterministic encodes properties with sorted keys so
// ToStreamRecord is reproducible across identical events.
func marshalPropertiesDeterministic(props map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]struct {
		K string
		V any
	}, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, struct {
			K string
			V any
		}{k, props[k]})
	}
	var buf strings.Builder
	buf.WriteByte('{')
	for i, kv := range ordered {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(kv.K)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(kv.V)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return []byte(buf.String()), nil
}
