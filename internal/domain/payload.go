package domain

import (
	"encoding/json"
	"fmt"
)

// KeyPrefix namespaces every key this service writes to a shared store.
const KeyPrefix = "fwcache:"

// DefaultSizeEstimate is charged for payloads whose size cannot be measured.
const DefaultSizeEstimate = 64 << 10

// Content types produced by the audit pipeline.
const (
	ContentTypeAuditResult    = "application/vnd.fwcache.audit+json"
	ContentTypeRecommendation = "application/vnd.fwcache.recommendation+json"
	ContentTypeBatchAnalysis  = "application/vnd.fwcache.batch-analysis+json"
	ContentTypeJSON           = "application/json"
	ContentTypeText           = "text/plain"
)

// Payload is an opaque cached value. Caches store and return it untouched;
// only the producer and consumer agree on the shape behind ContentType.
type Payload struct {
	ContentType string `json:"content_type"`
	Body        any    `json:"body"`
}

// NewJSONPayload serializes v up front so the cache holds an immutable snapshot.
func NewJSONPayload(contentType string, v any) (Payload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Payload{ContentType: contentType, Body: json.RawMessage(raw)}, nil
}

// TextPayload wraps a plain string.
func TextPayload(s string) Payload {
	return Payload{ContentType: ContentTypeText, Body: s}
}

// Decode unmarshals the body into v.
func (p Payload) Decode(v any) error {
	var raw []byte
	switch b := p.Body.(type) {
	case json.RawMessage:
		raw = b
	case []byte:
		raw = b
	case string:
		if p.ContentType == ContentTypeText {
			s, ok := v.(*string)
			if !ok {
				return fmt.Errorf("decode %s payload into %T", p.ContentType, v)
			}
			*s = b
			return nil
		}
		raw = []byte(b)
	default:
		var err error
		if raw, err = json.Marshal(b); err != nil {
			return fmt.Errorf("re-marshal payload: %w", err)
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// SizeBytes estimates the serialized size of the body.
// ok is false when the body could not be measured.
func (p Payload) SizeBytes() (n int, ok bool) {
	switch b := p.Body.(type) {
	case nil:
		return 0, true
	case json.RawMessage:
		return len(b), true
	case []byte:
		return len(b), true
	case string:
		return len(b), true
	}
	raw, err := json.Marshal(p.Body)
	if err != nil {
		return 0, false
	}
	return len(raw), true
}
