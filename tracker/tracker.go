// Copyright 2024 The Crest Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package tracker aggregates the column families' demand for seqno-time
// information into a single process-wide seqnotime.Mapping and feeds it from
// a periodic sampler. The mapping itself performs no locking; the tracker is
// the single writer and hands clones to readers.
package tracker

import (
	"sync"
	"time"

	"github.com/crestdb/crest/internal/base"
	"github.com/crestdb/crest/seqnotime"
)

// MaxPairsPerTracker bounds the process-wide mapping. It matches the per-SST
// encoding bound: retaining more samples than an SST can carry buys nothing.
const MaxPairsPerTracker = seqnotime.MaxPairsPerSST

// Tracker owns the process-wide seqno-time mapping. Column families that
// enable preclude-last-level or preserve-internal-time register their
// requested durations; the shared mapping tracks the minimum duration across
// the registered families.
type Tracker struct {
	metrics *Metrics

	mu struct {
		sync.Mutex
		// families maps a column family ID to its requested tracking
		// duration in seconds.
		families map[uint32]uint64
		mapping  *seqnotime.Mapping
	}
}

// New returns a tracker with no registered families. metrics may be nil.
func New(metrics *Metrics) *Tracker {
	t := &Tracker{metrics: metrics}
	t.mu.families = make(map[uint32]uint64)
	t.mu.mapping = seqnotime.New(0, MaxPairsPerTracker)
	return t
}

// ProvideToSeqnoTimeMapping registers (or re-registers) a column family's
// demand for seqno-time tracking. The requested duration is the larger of
// the family's preclude-last-level and preserve-internal-time horizons; a
// zero duration deregisters the family.
func (t *Tracker) ProvideToSeqnoTimeMapping(familyID uint32, precludeSeconds, preserveSeconds uint64) {
	duration := max(precludeSeconds, preserveSeconds)
	t.mu.Lock()
	defer t.mu.Unlock()
	if duration == 0 {
		delete(t.mu.families, familyID)
	} else {
		t.mu.families[familyID] = duration
	}
	t.reconfigureLocked()
}

// Remove deregisters a column family, typically on drop.
func (t *Tracker) Remove(familyID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.mu.families, familyID)
	t.reconfigureLocked()
}

// reconfigureLocked rebuilds the shared mapping when the effective duration
// changes. The mapping's caps are fixed at construction, so a new duration
// means a new mapping seeded with the old samples.
func (t *Tracker) reconfigureLocked() {
	duration := t.effectiveDurationLocked()
	if duration == t.mu.mapping.MaxTimeDuration() {
		return
	}
	m := seqnotime.New(duration, MaxPairsPerTracker)
	m.AddPairs(t.mu.mapping.Pairs()...)
	if err := m.Sort(); err != nil {
		// Sort of in-memory pairs cannot encounter decode corruption.
		panic(err)
	}
	t.mu.mapping = m
}

func (t *Tracker) effectiveDurationLocked() uint64 {
	var duration uint64
	for _, d := range t.mu.families {
		if duration == 0 || d < duration {
			duration = d
		}
	}
	return duration
}

// Enabled reports whether any registered family wants tracking.
func (t *Tracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.mu.families) > 0
}

// EffectiveDuration returns the tracked time horizon in seconds: the minimum
// across registered families, or zero when tracking is disabled.
func (t *Tracker) EffectiveDuration() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.effectiveDurationLocked()
}

// Record appends a (seqno, now) sample to the shared mapping and discards
// samples that have aged past the effective duration. It is a no-op while no
// family is registered. Record reports whether the mapping changed.
func (t *Tracker) Record(seqno base.SeqNum, now uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.mu.families) == 0 {
		return false
	}
	recorded := t.mu.mapping.Append(seqno, now)
	if recorded {
		t.mu.mapping.TruncateOldEntries(now)
	}
	if t.metrics != nil {
		if recorded {
			t.metrics.SamplesTaken.Inc()
		} else {
			t.metrics.SamplesRejected.Inc()
		}
		t.metrics.MappingPairs.Set(float64(t.mu.mapping.Len()))
	}
	return recorded
}

// Snapshot returns a clone of the shared mapping. The clone is immutable
// from the tracker's perspective; compaction readers query it without
// further synchronization.
func (t *Tracker) Snapshot() *seqnotime.Mapping {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mu.mapping.Clone()
}

// SamplingInterval returns the cadence at which a duration's time horizon
// should be sampled so that an SST's pair limit covers it: one sample per
// duration/MaxPairsPerSST seconds, no more often than once per second. A
// zero duration (tracking disabled) yields zero.
func SamplingInterval(durationSeconds uint64) time.Duration {
	if durationSeconds == 0 {
		return 0
	}
	secs := durationSeconds / seqnotime.MaxPairsPerSST
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
