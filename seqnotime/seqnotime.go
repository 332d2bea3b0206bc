// Copyright 2024 The Crest Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package seqnotime provides a bounded, ordered mapping from sequence numbers
// to approximate wall clock times, used by compactions to decide which keys
// are old enough to move to colder storage.
//
// The mapping is a sequence of (seqno, time) pairs sampled from the commit
// stream. A pair (s, t) means that at some instant at or before time t, the
// latest committed sequence number was exactly s. Thus t is known to be after
// the commit of s and before the commit of s+1. This asymmetry drives both
// query directions:
//
//   - ProximalTimeBeforeSeqno(q) returns the largest sampled time known to be
//     strictly before the commit of q. A pair (q, t) says nothing about times
//     before q's commit, so a query for a sampled seqno itself skips its own
//     pair.
//   - ProximalSeqnoBeforeTime(q) returns the largest seqno known to have
//     committed strictly before time q. A pair (s, q) does satisfy this: at
//     some instant <= q the latest seqno was s.
//
// The two queries pull in opposite directions when samples collide. Keeping
// the largest seqno for a given time sharpens ProximalSeqnoBeforeTime;
// keeping the smallest time for a given seqno sharpens
// ProximalTimeBeforeSeqno. Since ProximalSeqnoBeforeTime drives the tiering
// decision, ties resolve in its favor (see Append).
//
// A Mapping performs no internal locking. The engine arranges for a single
// writer (the periodic sampler) and hands consistent snapshots to readers.
package seqnotime

import (
	"cmp"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/cockroachdb/redact"
	"github.com/crestdb/crest/internal/base"
	"github.com/crestdb/crest/internal/invariants"
)

const (
	// UnknownSeqnoBeforeAll is returned by ProximalSeqnoBeforeTime when no
	// sampled seqno is known to have committed before the queried time.
	UnknownSeqnoBeforeAll base.SeqNum = 0
	// UnknownTimeBeforeAll is returned by ProximalTimeBeforeSeqno when no
	// sampled time is known to precede the queried seqno.
	UnknownTimeBeforeAll uint64 = 0

	// MaxPairsPerSST bounds the number of pairs encoded into a single
	// sstable's properties block.
	MaxPairsPerSST = 100
)

// Pair is a single sample: at some instant at or before Time, the latest
// committed sequence number was Seqno. Time is in seconds since the engine
// epoch.
type Pair struct {
	Seqno base.SeqNum
	Time  uint64
}

// String implements fmt.Stringer.
func (p Pair) String() string {
	return fmt.Sprintf("(%d,%d)", uint64(p.Seqno), p.Time)
}

// SafeFormat implements redact.SafeFormatter.
func (p Pair) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(p.String()))
}

// Mapping holds an ordered sequence of seqno/time samples. After Append or
// Sort, seqnos are strictly increasing and times are non-decreasing along the
// sequence, and no pair has a zero seqno.
//
// Add and AddEncoded may leave the pairs unordered; callers must Sort before
// issuing queries or encoding.
type Mapping struct {
	// maxTimeDuration is a soft cap on the retained time span. Pairs whose
	// time has fallen more than maxTimeDuration behind the caller-supplied
	// now are discarded by TruncateOldEntries. Zero disables the cap.
	maxTimeDuration uint64
	// maxCapacity is a hard cap on the pair count; exceeding it evicts the
	// oldest pair. Zero disables the cap (the codec's MaxPairsPerSST still
	// bounds what is persisted).
	maxCapacity int

	pairs []Pair
}

// New returns an empty mapping with the given caps, both fixed for the
// lifetime of the mapping.
func New(maxTimeDuration uint64, maxCapacity int) *Mapping {
	return &Mapping{
		maxTimeDuration: maxTimeDuration,
		maxCapacity:     maxCapacity,
	}
}

// Len returns the number of pairs in the mapping.
func (m *Mapping) Len() int { return len(m.pairs) }

// Empty reports whether the mapping holds no pairs.
func (m *Mapping) Empty() bool { return len(m.pairs) == 0 }

// MaxTimeDuration returns the configured soft cap on the retained time span.
func (m *Mapping) MaxTimeDuration() uint64 { return m.maxTimeDuration }

// CapacityLimit returns the configured hard cap on the pair count.
func (m *Mapping) CapacityLimit() int { return m.maxCapacity }

// Clear drops all pairs, retaining the configured caps.
func (m *Mapping) Clear() { m.pairs = m.pairs[:0] }

// Pairs returns a copy of the current pairs, oldest first.
func (m *Mapping) Pairs() []Pair {
	return slices.Clone(m.pairs)
}

// Clone returns an independent copy of the mapping, caps included. Readers
// that must not observe later appends query a clone.
func (m *Mapping) Clone() *Mapping {
	return &Mapping{
		maxTimeDuration: m.maxTimeDuration,
		maxCapacity:     m.maxCapacity,
		pairs:           slices.Clone(m.pairs),
	}
}

// Append extends the mapping with a new sample and reports whether the
// mapping changed. The sample is rejected (returning false) if its seqno is
// zero, if it is out of order on either axis relative to the current last
// pair, or if it carries a newer time for the last pair's seqno (replacing
// the pair would degrade ProximalSeqnoBeforeTime answers for no benefit). A
// sample with a larger seqno at the last pair's exact time replaces the last
// pair in place: it improves ProximalSeqnoBeforeTime at no size cost.
//
// A successful push that exceeds the capacity cap evicts the oldest pair.
func (m *Mapping) Append(seqno base.SeqNum, time uint64) bool {
	if seqno == base.SeqNumZero {
		// A zeroed seqno means a compaction proved no older keys exist; it
		// carries no ordering information.
		return false
	}
	if n := len(m.pairs); n > 0 {
		last := &m.pairs[n-1]
		if seqno < last.Seqno || time < last.Time {
			return false
		}
		if seqno == last.Seqno {
			return false
		}
		if time == last.Time {
			*last = Pair{Seqno: seqno, Time: time}
			m.checkInvariants()
			return true
		}
	}
	m.pairs = append(m.pairs, Pair{Seqno: seqno, Time: time})
	if m.maxCapacity > 0 && len(m.pairs) > m.maxCapacity {
		m.pairs = slices.Delete(m.pairs, 0, 1)
	}
	m.checkInvariants()
	return true
}

// Add appends a single pair without enforcing ordering. It is a bulk-ingest
// path used when merging samples from multiple sstable blocks; duplicates and
// out-of-order pairs are expected and resolved by Sort.
func (m *Mapping) Add(seqno base.SeqNum, time uint64) {
	m.pairs = append(m.pairs, Pair{Seqno: seqno, Time: time})
}

// AddPairs appends pairs without enforcing ordering; see Add.
func (m *Mapping) AddPairs(pairs ...Pair) {
	m.pairs = append(m.pairs, pairs...)
}

// Sort restores the mapping invariants after Add or AddEncoded. Pairs are
// ordered by (seqno, time) ascending, then deduplicated by a single sweep
// that retains a pair only if it strictly increases both the seqno and the
// time of the previously retained pair. Pairs with a zero seqno are dropped.
// If the result exceeds the capacity cap, the oldest pairs are evicted.
func (m *Mapping) Sort() error {
	slices.SortFunc(m.pairs, func(a, b Pair) int {
		if c := cmp.Compare(a.Seqno, b.Seqno); c != 0 {
			return c
		}
		return cmp.Compare(a.Time, b.Time)
	})
	out := m.pairs[:0]
	for _, p := range m.pairs {
		if p.Seqno == base.SeqNumZero {
			continue
		}
		if n := len(out); n > 0 {
			prev := out[n-1]
			// A pair that fails to advance one of the axes would answer no
			// query better than prev does.
			if p.Seqno <= prev.Seqno || p.Time <= prev.Time {
				continue
			}
		}
		out = append(out, p)
	}
	m.pairs = out
	if m.maxCapacity > 0 && len(m.pairs) > m.maxCapacity {
		m.pairs = slices.Delete(m.pairs, 0, len(m.pairs)-m.maxCapacity)
	}
	m.checkInvariants()
	return nil
}

// TruncateOldEntries discards pairs whose time has fallen more than
// maxTimeDuration behind now. The most recent pair with
// time <= now-maxTimeDuration is retained: it still bounds the seqnos
// committed before the cutoff, and retaining it means the mapping never
// shrinks below one pair. No-op if the duration cap is disabled.
func (m *Mapping) TruncateOldEntries(now uint64) {
	if m.maxTimeDuration == 0 {
		return
	}
	var cutoff uint64
	if now > m.maxTimeDuration {
		cutoff = now - m.maxTimeDuration
	}
	// First pair with time > cutoff.
	i := sort.Search(len(m.pairs), func(j int) bool {
		return m.pairs[j].Time > cutoff
	})
	if i == 0 {
		return
	}
	m.pairs = slices.Delete(m.pairs, 0, i-1)
	m.checkInvariants()
}

// ProximalTimeBeforeSeqno returns the largest sampled time known to be
// strictly before the commit of seqno, or UnknownTimeBeforeAll if no such
// time is known. The pair for seqno itself does not qualify: it only tells us
// a time after that commit.
func (m *Mapping) ProximalTimeBeforeSeqno(seqno base.SeqNum) uint64 {
	// First pair with seqno >= the query.
	i := sort.Search(len(m.pairs), func(j int) bool {
		return m.pairs[j].Seqno >= seqno
	})
	if i == 0 {
		return UnknownTimeBeforeAll
	}
	return m.pairs[i-1].Time
}

// ProximalSeqnoBeforeTime returns the largest seqno known to have committed
// strictly before time, or UnknownSeqnoBeforeAll if no such seqno is known. A
// pair with the exact queried time qualifies: at some instant <= time its
// seqno was the latest commit.
func (m *Mapping) ProximalSeqnoBeforeTime(time uint64) base.SeqNum {
	// First pair with time > the query.
	i := sort.Search(len(m.pairs), func(j int) bool {
		return m.pairs[j].Time > time
	})
	if i == 0 {
		return UnknownSeqnoBeforeAll
	}
	return m.pairs[i-1].Seqno
}

// ProximalSeqnoRange brackets the seqnos known to have committed before each
// of the two times. Compactions use it to decide which of a file's keys are
// older than the preserve/preclude thresholds.
func (m *Mapping) ProximalSeqnoRange(fromTime, toTime uint64) (lo, hi base.SeqNum) {
	return m.ProximalSeqnoBeforeTime(fromTime), m.ProximalSeqnoBeforeTime(toTime)
}

// CopyFromSeqnoRange replaces the mapping's pairs with those of src relevant
// to seqnos in [lo, hi]: the in-range pairs plus the closest preceding pair,
// which preserves a lower time bound for the start of the range. src must be
// sorted. The receiver's caps are retained and enforced.
func (m *Mapping) CopyFromSeqnoRange(src *Mapping, lo, hi base.SeqNum) {
	if lo > hi {
		m.pairs = m.pairs[:0]
		return
	}
	first := sort.Search(len(src.pairs), func(j int) bool {
		return src.pairs[j].Seqno >= lo
	})
	if first > 0 {
		first--
	}
	// One past the last pair with seqno <= hi.
	end := sort.Search(len(src.pairs), func(j int) bool {
		return src.pairs[j].Seqno > hi
	})
	m.pairs = append(m.pairs[:0], src.pairs[first:end]...)
	if m.maxCapacity > 0 && len(m.pairs) > m.maxCapacity {
		m.pairs = slices.Delete(m.pairs, 0, len(m.pairs)-m.maxCapacity)
	}
	m.checkInvariants()
}

// String implements fmt.Stringer.
func (m *Mapping) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, p := range m.pairs {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(p.String())
	}
	sb.WriteByte(']')
	return sb.String()
}

// SafeFormat implements redact.SafeFormatter.
func (m *Mapping) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(m.String()))
}

// checkInvariants verifies the ordering invariants in invariant builds.
func (m *Mapping) checkInvariants() {
	if !invariants.Enabled {
		return
	}
	for i, p := range m.pairs {
		if p.Seqno == base.SeqNumZero {
			panic(base.AssertionFailedf("seqnotime: pair %d has zero seqno", i))
		}
		if i > 0 {
			prev := m.pairs[i-1]
			if p.Seqno <= prev.Seqno {
				panic(base.AssertionFailedf(
					"seqnotime: seqnos not strictly increasing: %s then %s", prev, p))
			}
			if p.Time < prev.Time {
				panic(base.AssertionFailedf(
					"seqnotime: times decreasing: %s then %s", prev, p))
			}
		}
	}
	if m.maxCapacity > 0 && len(m.pairs) > m.maxCapacity {
		panic(base.AssertionFailedf(
			"seqnotime: %d pairs exceed capacity %d", len(m.pairs), m.maxCapacity))
	}
}
