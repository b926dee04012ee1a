package rules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// IntegrityAlertFunc is called when a stored rule fails its checksum
// check. The record is dropped; the load continues with the rest.
type IntegrityAlertFunc func(ruleID, reason string)

// Snapshot is an immutable view of the compiled rule set. Detection
// layers hold a snapshot for the duration of one event, so a reload
// mid-event never changes what they match against.
type Snapshot struct {
	Version    int64
	LoadedAt   time.Time
	byCategory map[Category][]*CompiledRule
	count      int
}

// Count returns the number of compiled rules in the snapshot.
func (s *Snapshot) Count() int {
	return s.count
}

// ByCategory returns the enabled rules for a category in load order.
func (s *Snapshot) ByCategory(c Category) []*CompiledRule {
	return s.byCategory[c]
}

// Store holds the active rule snapshot behind an atomic pointer.
// Readers never block; a single background reloader swaps snapshots
// when the file source changes.
type Store struct {
	snapshot atomic.Pointer[Snapshot]
	version  atomic.Int64

	source   string // "" for builtin-only stores
	onAlert  IntegrityAlertFunc
	logger   *slog.Logger
	lastMod  time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewStore creates a Store preloaded with the given rules.
func NewStore(defs []*Rule, onAlert IntegrityAlertFunc, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		onAlert: onAlert,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	snap, err := s.build(defs)
	if err != nil {
		return nil, err
	}
	s.snapshot.Store(snap)
	return s, nil
}

// NewFileStore creates a Store that loads rules from a YAML file and
// hot-reloads it when the file changes. A load failure at startup is
// fatal; later reload failures keep the last good snapshot.
func NewFileStore(path string, reload time.Duration, onAlert IntegrityAlertFunc, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		source:  path,
		onAlert: onAlert,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	if err := s.loadFile(); err != nil {
		return nil, err
	}

	if reload > 0 {
		s.wg.Add(1)
		go s.reloadLoop(reload)
	}
	return s, nil
}

// Snapshot returns the current rule snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Replace swaps in a new rule set, e.g. from an admin API.
func (s *Store) Replace(defs []*Rule) error {
	snap, err := s.build(defs)
	if err != nil {
		return err
	}
	s.snapshot.Store(snap)
	s.logger.Info("rule set replaced", "version", snap.Version, "rules", snap.count)
	return nil
}

// Stop stops the background reloader.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// build compiles a rule set into a snapshot, dropping tampered records.
func (s *Store) build(defs []*Rule) (*Snapshot, error) {
	snap := &Snapshot{
		Version:    s.version.Add(1),
		LoadedAt:   time.Now(),
		byCategory: make(map[Category][]*CompiledRule),
	}

	for _, def := range defs {
		if def.Checksum != "" && def.Checksum != def.ComputeChecksum() {
			s.logger.Warn("rule checksum mismatch, record rejected", "rule_id", def.ID)
			if s.onAlert != nil {
				s.onAlert(def.ID, "checksum mismatch")
			}
			continue
		}

		cr, err := Compile(def)
		if err != nil {
			return nil, err
		}
		if !cr.Enabled {
			continue
		}
		snap.byCategory[cr.Category] = append(snap.byCategory[cr.Category], cr)
		snap.count++
	}

	if snap.count == 0 {
		return nil, fmt.Errorf("rule set is empty after compilation")
	}
	return snap, nil
}

func (s *Store) loadFile() error {
	info, err := os.Stat(s.source)
	if err != nil {
		return fmt.Errorf("failed to stat rule file: %w", err)
	}

	data, err := os.ReadFile(s.source)
	if err != nil {
		return fmt.Errorf("failed to read rule file: %w", err)
	}

	defs, err := ParseRules(data)
	if err != nil {
		return err
	}

	snap, err := s.build(defs)
	if err != nil {
		return err
	}

	s.snapshot.Store(snap)
	s.lastMod = info.ModTime()
	s.logger.Info("rule file loaded",
		"path", s.source,
		"version", snap.Version,
		"rules", snap.count)
	return nil
}

func (s *Store) reloadLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			info, err := os.Stat(s.source)
			if err != nil {
				s.logger.Warn("rule file stat failed, keeping current rules", "error", err)
				continue
			}
			if !info.ModTime().After(s.lastMod) {
				continue
			}
			if err := s.loadFile(); err != nil {
				s.logger.Error("rule reload failed, keeping current rules", "error", err)
			}
		}
	}
}

// WaitReady blocks until the store has a snapshot or the context ends.
// Mostly useful in tests that construct stores asynchronously.
func (s *Store) WaitReady(ctx context.Context) error {
	for {
		if s.snapshot.Load() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}
