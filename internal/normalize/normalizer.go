// Package normalize converts raw input descriptors into canonical
// SecurityEvents. The canonical content string it produces is the only
// thing pattern matchers ever see, so its construction is deterministic.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gatekeep/internal/schema"
)

// matchedHeaders are the request headers folded into the canonical
// content string. Attackers routinely smuggle payloads through these.
var matchedHeaders = []string{"Referer", "Cookie", "X-Forwarded-For"}

// Normalizer builds SecurityEvents from validated descriptors.
type Normalizer struct {
	validator *schema.Validator
}

// New creates a Normalizer backed by the given validator.
func New(validator *schema.Validator) *Normalizer {
	if validator == nil {
		validator = schema.NewValidator()
	}
	return &Normalizer{validator: validator}
}

// FromHTTP normalizes an HTTP descriptor.
func (n *Normalizer) FromHTTP(d *schema.HTTPDescriptor) (*schema.SecurityEvent, error) {
	if err := n.validator.ValidateHTTP(d); err != nil {
		return nil, err
	}

	content := buildCanonicalContent(d)

	event := &schema.SecurityEvent{
		EventID:   uuid.New(),
		Kind:      schema.KindHTTP,
		Timestamp: time.Now().UTC(),
		Subject: schema.Subject{
			Key: "ip:" + d.IP,
			IP:  d.IP,
		},
		Resource:     d.URI,
		Content:      content,
		ContentLower: strings.ToLower(content),
		Digest:       digest(content),
		UserAgent:    d.UserAgent,
		Headers:      d.Headers,
		ReceivedAt:   time.Now().UTC(),
	}

	return event, nil
}

// FromNetwork normalizes a network flow descriptor.
func (n *Normalizer) FromNetwork(d *schema.NetworkDescriptor) (*schema.SecurityEvent, error) {
	if err := n.validator.ValidateNetwork(d); err != nil {
		return nil, err
	}

	content := fmt.Sprintf("%s %s:%d %s", d.Protocol, d.DestIP, d.Port, d.SourceIP)

	event := &schema.SecurityEvent{
		EventID:   uuid.New(),
		Kind:      schema.KindNetwork,
		Timestamp: time.Now().UTC(),
		Subject: schema.Subject{
			Key: "ip:" + d.SourceIP,
			IP:  d.SourceIP,
		},
		Resource:     fmt.Sprintf("%s:%d", d.DestIP, d.Port),
		Content:      content,
		ContentLower: strings.ToLower(content),
		Digest:       digest(content),
		ReceivedAt:   time.Now().UTC(),
	}

	return event, nil
}

// FromAccess normalizes an access-request descriptor.
func (n *Normalizer) FromAccess(d *schema.AccessDescriptor) (*schema.SecurityEvent, error) {
	if err := n.validator.ValidateAccess(d); err != nil {
		return nil, err
	}

	content := d.Resource
	ctx := d.Context

	event := &schema.SecurityEvent{
		EventID:   uuid.New(),
		Kind:      schema.KindAccess,
		Timestamp: time.Now().UTC(),
		Subject: schema.Subject{
			Key:      "user:" + d.UserID + "@" + d.DeviceID,
			UserID:   d.UserID,
			DeviceID: d.DeviceID,
		},
		Resource:     d.Resource,
		Content:      content,
		ContentLower: strings.ToLower(content),
		Digest:       digest(content),
		Context:      &ctx,
		ReceivedAt:   time.Now().UTC(),
	}

	return event, nil
}

// buildCanonicalContent joins URI, query, body and selected headers into
// the single string pattern rules are evaluated against.
func buildCanonicalContent(d *schema.HTTPDescriptor) string {
	var b strings.Builder
	b.WriteString(d.URI)
	if d.Query != "" {
		b.WriteByte('?')
		b.WriteString(d.Query)
	}
	if d.Body != "" {
		b.WriteByte('\n')
		b.WriteString(d.Body)
	}
	for _, name := range matchedHeaders {
		if v, ok := headerLookup(d.Headers, name); ok {
			b.WriteByte('\n')
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(v)
		}
	}
	return b.String()
}

// headerLookup finds a header value case-insensitively.
func headerLookup(headers map[string]string, name string) (string, bool) {
	if headers == nil {
		return "", false
	}
	if v, ok := headers[name]; ok {
		return v, true
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func digest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
