// Package trust maintains per-subject trust profiles and the
// zero-trust verification layer for access-request events.
package trust

import (
	"hash/fnv"
	"math"
	"sync"
	"time"
)

// profileShards spreads subject keys across locks so concurrent
// events from different subjects never contend. Events for the same
// subject serialize on their shard, which preserves per-subject
// update ordering.
const profileShards = 64

// scoreDecayHalfLife pulls idle profiles back toward neutral. A
// subject that earned high trust last month starts near 50 again.
const scoreDecayHalfLife = 7 * 24 * time.Hour

const neutralScore = 50

// TrustProfile is the running trust state for one subject. Profiles
// are created on first sighting and decay rather than being deleted.
type TrustProfile struct {
	SubjectKey    string             `json:"subject_key"`
	UserID        string             `json:"user_id,omitempty"`
	DeviceID      string             `json:"device_id,omitempty"`
	Score         float64            `json:"score"` // 0..100
	Factors       map[string]float64 `json:"factors,omitempty"`
	KnownDevices  map[string]bool    `json:"known_devices,omitempty"`
	KnownGeos     map[string]bool    `json:"known_geos,omitempty"`
	Verifications int64              `json:"verifications"`
	FirstSeen     time.Time          `json:"first_seen"`
	LastUpdated   time.Time          `json:"last_updated"`
}

func (p *TrustProfile) clone() *TrustProfile {
	cp := *p
	cp.Factors = make(map[string]float64, len(p.Factors))
	for k, v := range p.Factors {
		cp.Factors[k] = v
	}
	cp.KnownDevices = make(map[string]bool, len(p.KnownDevices))
	for k, v := range p.KnownDevices {
		cp.KnownDevices[k] = v
	}
	cp.KnownGeos = make(map[string]bool, len(p.KnownGeos))
	for k, v := range p.KnownGeos {
		cp.KnownGeos[k] = v
	}
	return &cp
}

// decayed returns the profile score after pulling it toward neutral
// for the idle time since the last update.
func (p *TrustProfile) decayed(now time.Time) float64 {
	if p.LastUpdated.IsZero() {
		return p.Score
	}
	idle := now.Sub(p.LastUpdated)
	if idle <= 0 {
		return p.Score
	}
	w := math.Exp2(-idle.Hours() / scoreDecayHalfLife.Hours())
	return neutralScore + (p.Score-neutralScore)*w
}

type profileShard struct {
	mu       sync.Mutex
	profiles map[string]*TrustProfile
}

// ProfileStore holds trust profiles behind striped locks.
type ProfileStore struct {
	shards [profileShards]*profileShard
}

// NewProfileStore creates an empty profile store.
func NewProfileStore() *ProfileStore {
	s := &ProfileStore{}
	for i := range s.shards {
		s.shards[i] = &profileShard{profiles: make(map[string]*TrustProfile)}
	}
	return s
}

func (s *ProfileStore) shard(key string) *profileShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%profileShards]
}

// Get returns a decayed copy of a subject's profile, or nil if the
// subject has never been seen.
func (s *ProfileStore) Get(subjectKey string) *TrustProfile {
	sh := s.shard(subjectKey)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.profiles[subjectKey]
	if !ok {
		return nil
	}
	cp := p.clone()
	cp.Score = cp.decayed(time.Now())
	return cp
}

// Update applies fn to a subject's profile under the shard lock,
// creating the profile on first sighting. Concurrent updates for the
// same subject serialize here.
func (s *ProfileStore) Update(subjectKey string, fn func(*TrustProfile)) *TrustProfile {
	now := time.Now()
	sh := s.shard(subjectKey)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.profiles[subjectKey]
	if !ok {
		p = &TrustProfile{
			SubjectKey:   subjectKey,
			Score:        neutralScore,
			Factors:      make(map[string]float64),
			KnownDevices: make(map[string]bool),
			KnownGeos:    make(map[string]bool),
			FirstSeen:    now,
		}
		sh.profiles[subjectKey] = p
	} else {
		p.Score = p.decayed(now)
	}

	fn(p)

	if p.Score < 0 {
		p.Score = 0
	} else if p.Score > 100 {
		p.Score = 100
	}
	p.Verifications++
	p.LastUpdated = now
	return p.clone()
}

// Count returns the number of tracked profiles.
func (s *ProfileStore) Count() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.profiles)
		sh.mu.Unlock()
	}
	return total
}
