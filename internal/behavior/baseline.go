// Package behavior learns per-subject activity baselines and scores
// events by their deviation from the learned pattern. Baselines use
// exponentially weighted averages so old behavior ages out on its own.
package behavior

import (
	"math"
	"sync"
	"time"

	"gatekeep/internal/config"
)

// maxResourcesPerSubject caps the seen-resource set so a crawler
// cannot grow one subject's baseline without bound.
const maxResourcesPerSubject = 256

// Baseline is the learned activity profile for one subject.
type Baseline struct {
	// AvgInterval is the EWMA of seconds between events.
	AvgInterval float64

	// HourWeight is a decayed histogram of activity by hour of day.
	HourWeight [24]float64

	// resources tracks which resources the subject has touched.
	resources map[string]struct{}

	Samples  int
	LastSeen time.Time
}

// HourShare returns the fraction of decayed activity that falls in
// the given hour.
func (b *Baseline) HourShare(hour int) float64 {
	var total float64
	for _, w := range b.HourWeight {
		total += w
	}
	if total == 0 {
		return 0
	}
	return b.HourWeight[hour] / total
}

// SeenResource reports whether the subject has accessed the resource
// before.
func (b *Baseline) SeenResource(resource string) bool {
	_, ok := b.resources[resource]
	return ok
}

// Store holds baselines keyed by subject. Guarded by one RWMutex; the
// write path is a few float updates, so contention stays low.
type Store struct {
	mu        sync.RWMutex
	baselines map[string]*Baseline

	halfLife   time.Duration
	minSamples int
	maxTracked int
}

// NewStore creates a baseline store.
func NewStore(cfg config.BehaviorConfig) *Store {
	halfLife := cfg.HalfLife
	if halfLife <= 0 {
		halfLife = 10 * time.Minute
	}
	minSamples := cfg.MinSamples
	if minSamples <= 0 {
		minSamples = 10
	}
	maxTracked := cfg.MaxTracked
	if maxTracked <= 0 {
		maxTracked = 100000
	}
	return &Store{
		baselines:  make(map[string]*Baseline),
		halfLife:   halfLife,
		minSamples: minSamples,
		maxTracked: maxTracked,
	}
}

// Snapshot returns a copy of a subject's baseline, or nil if the
// subject is unknown. The copy shares the resource set read-only.
func (s *Store) Snapshot(subjectKey string) *Baseline {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.baselines[subjectKey]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

// Observe folds an event into the subject's baseline. Called after
// scoring so an event never dampens its own anomaly.
func (s *Store) Observe(subjectKey, resource string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.baselines[subjectKey]
	if !ok {
		if len(s.baselines) >= s.maxTracked {
			s.evictStaleLocked(at)
			if len(s.baselines) >= s.maxTracked {
				return
			}
		}
		b = &Baseline{resources: make(map[string]struct{})}
		s.baselines[subjectKey] = b
	}

	if !b.LastSeen.IsZero() {
		interval := at.Sub(b.LastSeen).Seconds()
		if interval < 0 {
			interval = 0
		}
		// Time-based decay from the configured half-life: a sample
		// arriving one half-life after the last moves the average
		// halfway toward the new interval.
		alpha := 1 - math.Exp(-math.Ln2*interval/s.halfLife.Seconds())
		if b.Samples <= 1 {
			b.AvgInterval = interval
		} else {
			b.AvgInterval = (1-alpha)*b.AvgInterval + alpha*interval
		}
	}

	decay := math.Exp(-math.Ln2 * at.Sub(b.LastSeen).Seconds() / s.halfLife.Seconds())
	if b.LastSeen.IsZero() {
		decay = 1
	}
	for i := range b.HourWeight {
		b.HourWeight[i] *= decay
	}
	b.HourWeight[at.Hour()]++

	if resource != "" && len(b.resources) < maxResourcesPerSubject {
		b.resources[resource] = struct{}{}
	}

	b.Samples++
	b.LastSeen = at
}

// Ready reports whether the subject has enough samples for its
// baseline to contribute to scoring.
func (s *Store) Ready(b *Baseline) bool {
	return b != nil && b.Samples >= s.minSamples
}

// Tracked returns the number of subjects with baselines.
func (s *Store) Tracked() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.baselines)
}

func (s *Store) evictStaleLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	for key, b := range s.baselines {
		if b.LastSeen.Before(cutoff) {
			delete(s.baselines, key)
		}
	}
}
