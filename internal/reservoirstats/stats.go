// Package reservoirstats is the single shared statistics component consumed
// by both the depot and route reservoirs (SPEC_FULL.md §4.6, §9 "Reservoir
// statistics" consolidation note). Counters are atomic; stats are advisory
// and never participate in boarding invariants.
package reservoirstats

import (
	"log"
	"sync/atomic"
	"time"
)

// Stats tracks spawned/boarded/expired/rejected counts for one reservoir.
type Stats struct {
	name      string
	spawned   atomic.Int64
	boarded   atomic.Int64
	expired   atomic.Int64
	rejected  atomic.Int64
	createdAt time.Time
}

// New constructs a Stats tracker labeled name (used in log summaries).
func New(name string) *Stats {
	return &Stats{name: name, createdAt: time.Now()}
}

func (s *Stats) IncSpawned()  { s.spawned.Add(1) }
func (s *Stats) IncBoarded()  { s.boarded.Add(1) }
func (s *Stats) IncExpired()  { s.expired.Add(1) }
func (s *Stats) IncRejected() { s.rejected.Add(1) }

// Snapshot is a point-in-time read of all counters plus derived rates.
type Snapshot struct {
	Spawned       int64
	Boarded       int64
	Expired       int64
	Rejected      int64
	UptimeSeconds float64
	SpawnedPerHr  float64
	BoardedPerHr  float64
}

// Snapshot reads all counters atomically and derives hourly rates.
func (s *Stats) Snapshot() Snapshot {
	elapsedHr := time.Since(s.createdAt).Hours()
	spawned := s.spawned.Load()
	boarded := s.boarded.Load()
	snap := Snapshot{
		Spawned:       spawned,
		Boarded:       boarded,
		Expired:       s.expired.Load(),
		Rejected:      s.rejected.Load(),
		UptimeSeconds: time.Since(s.createdAt).Seconds(),
	}
	if elapsedHr > 0 {
		snap.SpawnedPerHr = float64(spawned) / elapsedHr
		snap.BoardedPerHr = float64(boarded) / elapsedHr
	}
	return snap
}

// LogSummary periodically logs a one-line summary every interval until done
// is closed. Intended to run as a background goroutine, one per reservoir,
// default interval 60s per SPEC_FULL.md §4.6.
func (s *Stats) LogSummary(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			snap := s.Snapshot()
			log.Printf("[%s-stats] spawned=%d boarded=%d expired=%d rejected=%d spawned/hr=%.1f boarded/hr=%.1f",
				s.name, snap.Spawned, snap.Boarded, snap.Expired, snap.Rejected, snap.SpawnedPerHr, snap.BoardedPerHr)
		}
	}
}
