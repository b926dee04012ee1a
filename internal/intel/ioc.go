// Package intel maintains the threat intelligence cache and the
// reputation detection layer that reads from it. Indicators come from
// external feeds pulled by a background refresher; lookups during
// event processing never touch the network.
package intel

import (
	"fmt"
	"time"
)

// IOCType classifies an indicator of compromise.
type IOCType string

const (
	TypeIP     IOCType = "ip"
	TypeDomain IOCType = "domain"
	TypeURL    IOCType = "url"
	TypeHash   IOCType = "hash"
)

// IsValid checks if the IOC type is a known value.
func (t IOCType) IsValid() bool {
	switch t {
	case TypeIP, TypeDomain, TypeURL, TypeHash:
		return true
	}
	return false
}

// IOC is one indicator of compromise as held in the cache.
type IOC struct {
	Value        string    `json:"value"`
	Type         IOCType   `json:"type"`
	Confidence   float64   `json:"confidence"` // 0..1 as reported by the feed
	Source       string    `json:"source"`
	SourceWeight float64   `json:"source_weight"` // 0..1, operator trust in the feed
	AddedAt      time.Time `json:"added_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Validate checks the indicator's fields.
func (i *IOC) Validate() error {
	if i.Value == "" {
		return fmt.Errorf("indicator value is required")
	}
	if !i.Type.IsValid() {
		return fmt.Errorf("indicator %s: unknown type %q", i.Value, i.Type)
	}
	if i.Confidence < 0 || i.Confidence > 1 {
		return fmt.Errorf("indicator %s: confidence %v out of range [0,1]", i.Value, i.Confidence)
	}
	if i.ExpiresAt.IsZero() {
		return fmt.Errorf("indicator %s: expiry is required", i.Value)
	}
	return nil
}

// Expired reports whether the indicator has aged out at the given time.
func (i *IOC) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// Weighted returns the indicator's effective confidence after applying
// the source weight.
func (i *IOC) Weighted() float64 {
	w := i.SourceWeight
	if w <= 0 || w > 1 {
		w = 1
	}
	return i.Confidence * w
}
