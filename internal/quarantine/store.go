// Package quarantine tracks subjects that are temporarily blocked.
// A quarantine entry has an expiry; placing a subject that is already
// quarantined only ever extends the expiry, never shortens it.
package quarantine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrNotQuarantined is returned when a subject has no active entry.
	ErrNotQuarantined = errors.New("subject not quarantined")
)

// Entry describes one quarantined subject.
type Entry struct {
	SubjectKey string    `json:"subject_key"`
	Reason     string    `json:"reason"`
	VerdictID  string    `json:"verdict_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Active reports whether the entry is still in effect at the given time.
func (e *Entry) Active(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Store defines the interface for quarantine persistence.
type Store interface {
	// Place quarantines a subject. If the subject already has an active
	// entry with a later expiry, the existing entry wins and Place
	// returns false. The stored expiry never moves backwards.
	Place(ctx context.Context, entry *Entry) (bool, error)

	// Check returns the active entry for a subject, or ErrNotQuarantined.
	Check(ctx context.Context, subjectKey string) (*Entry, error)

	// Release removes a subject's entry before its expiry.
	Release(ctx context.Context, subjectKey string) error

	// Count returns the number of active entries.
	Count(ctx context.Context) (int, error)

	// Close releases any resources.
	Close() error
}

// MemoryStore implements Store using an in-memory map. Suitable for
// single-instance deployments and testing.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	logger    *slog.Logger
	stopSweep chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore creates an in-memory quarantine store. Starts a
// background goroutine that sweeps expired entries.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MemoryStore{
		entries:   make(map[string]*Entry),
		logger:    logger,
		stopSweep: make(chan struct{}),
	}

	go m.sweepLoop()

	return m
}

func (m *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *MemoryStore) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, entry := range m.entries {
		if !entry.Active(now) {
			delete(m.entries, key)
		}
	}
}

// Place quarantines a subject, extend-only.
func (m *MemoryStore) Place(ctx context.Context, entry *Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.entries[entry.SubjectKey]
	if ok && existing.Active(time.Now()) && !entry.ExpiresAt.After(existing.ExpiresAt) {
		return false, nil
	}

	stored := *entry
	if ok && existing.Active(time.Now()) {
		// Extension keeps the original placement time.
		stored.CreatedAt = existing.CreatedAt
	}
	m.entries[entry.SubjectKey] = &stored
	return true, nil
}

// Check returns the active entry for a subject.
func (m *MemoryStore) Check(ctx context.Context, subjectKey string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[subjectKey]
	if !ok || !entry.Active(time.Now()) {
		return nil, ErrNotQuarantined
	}

	cp := *entry
	return &cp, nil
}

// Release removes a subject's entry.
func (m *MemoryStore) Release(ctx context.Context, subjectKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, subjectKey)
	return nil
}

// Count returns the number of active entries.
func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	count := 0
	for _, entry := range m.entries {
		if entry.Active(now) {
			count++
		}
	}
	return count, nil
}

// Close stops the background sweeper.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() { close(m.stopSweep) })
	return nil
}
