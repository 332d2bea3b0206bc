// Copyright 2024 The Crest Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package seqnotime

import (
	"encoding/binary"
	"math"
	"slices"
	"sort"

	"github.com/crestdb/crest/internal/base"
)

// The encoded block is a count followed by delta-compressed pairs:
//
//	block    := uvarint(n) pair[0] pair[1..n-1]
//	pair[0]  := uvarint(seqno0) uvarint(time0)
//	pair[i]  := uvarint(seqno[i]-seqno[i-1]) uvarint(time[i]-time[i-1])
//
// An empty mapping encodes to an empty block. Pairs are emitted oldest first,
// so all deltas are non-negative.

// Encode appends to dst an encoded subset of the pairs whose seqno lies in
// [lo, hi], and returns the extended buffer. At most maxPairs pairs are
// written (maxPairs <= 0 selects MaxPairsPerSST). If the mapping carries a
// duration cap and now is non-zero, pairs that have aged out relative to now
// are skipped the same way TruncateOldEntries would discard them. dst is
// returned unchanged if no pair qualifies.
//
// When the qualifying pairs exceed maxPairs, they are thinned toward an even
// spacing in time: walking oldest to newest with a target stride of
// span/(maxPairs-1) seconds, a pair is kept when it is at least a stride
// later than the previously kept pair. The oldest qualifying pair is always
// kept, preserving the lower bound for the range, and the newest is always
// kept (unless maxPairs is 1, where the lower bound wins). If the walk keeps
// fewer than maxPairs, the remainder is filled with the newest skipped pairs; new
// times are the ones compactions compare against preclude thresholds, so
// they are preferred over old ones.
//
// The thinning is lossy in a controlled way: for any seqno in the range, the
// decoded mapping's ProximalTimeBeforeSeqno answer is at most the original's
// and at most two strides below it.
//
// The mapping must be sorted.
func (m *Mapping) Encode(dst []byte, lo, hi base.SeqNum, now uint64, maxPairs int) []byte {
	if maxPairs <= 0 {
		maxPairs = MaxPairsPerSST
	}
	if lo > hi || len(m.pairs) == 0 {
		return dst
	}
	first := sort.Search(len(m.pairs), func(j int) bool {
		return m.pairs[j].Seqno >= lo
	})
	// One past the last pair with seqno <= hi.
	end := sort.Search(len(m.pairs), func(j int) bool {
		return m.pairs[j].Seqno > hi
	})
	if first >= end {
		return dst
	}
	if m.maxTimeDuration > 0 && now > m.maxTimeDuration {
		// Skip pairs that TruncateOldEntries would have discarded by now,
		// keeping the proximal pair at the cutoff.
		cutoff := now - m.maxTimeDuration
		i := first + sort.Search(end-first, func(j int) bool {
			return m.pairs[first+j].Time > cutoff
		})
		if i > first {
			first = i - 1
		}
	}

	pairs := m.pairs[first:end]
	if len(pairs) > maxPairs {
		pairs = thinPairs(pairs, maxPairs)
	}

	dst = binary.AppendUvarint(dst, uint64(len(pairs)))
	dst = binary.AppendUvarint(dst, uint64(pairs[0].Seqno))
	dst = binary.AppendUvarint(dst, pairs[0].Time)
	for i := 1; i < len(pairs); i++ {
		dst = binary.AppendUvarint(dst, uint64(pairs[i].Seqno-pairs[i-1].Seqno))
		dst = binary.AppendUvarint(dst, pairs[i].Time-pairs[i-1].Time)
	}
	return dst
}

// thinPairs selects maxPairs of the given pairs, aiming for an even time
// spacing while preferring newer pairs. len(pairs) > maxPairs >= 1.
func thinPairs(pairs []Pair, maxPairs int) []Pair {
	if maxPairs == 1 {
		// The lower bound wins when there is room for nothing else.
		return pairs[:1]
	}
	span := pairs[len(pairs)-1].Time - pairs[0].Time
	stride := span / uint64(maxPairs-1)
	if stride == 0 {
		stride = 1
	}
	kept := make([]int, 1, maxPairs)
	var skipped []int
	lastTime := pairs[0].Time
	for i := 1; i < len(pairs); i++ {
		if pairs[i].Time-lastTime >= stride {
			kept = append(kept, i)
			lastTime = pairs[i].Time
		} else {
			skipped = append(skipped, i)
		}
	}
	// The newest pair carries the freshest upper bound; it is never shed.
	if kept[len(kept)-1] != len(pairs)-1 {
		kept = append(kept, len(pairs)-1)
		skipped = skipped[:len(skipped)-1]
	}
	// Prefer new time: backfill from the newest skipped pairs.
	for len(kept) < maxPairs && len(skipped) > 0 {
		kept = append(kept, skipped[len(skipped)-1])
		skipped = skipped[:len(skipped)-1]
	}
	slices.Sort(kept)
	// Integer stride rounding can keep more than maxPairs pairs; shed the
	// oldest pairs after the lower bound.
	for len(kept) > maxPairs {
		kept = slices.Delete(kept, 1, 2)
	}
	out := make([]Pair, len(kept))
	for i, idx := range kept {
		out[i] = pairs[idx]
	}
	return out
}

// AddEncoded appends the pairs of an encoded block without enforcing
// ordering, mirroring Add. A Sort is required before the mapping is queried,
// since blocks from multiple sstables may be merged. If the block is
// truncated or contains deltas that would overflow, a corruption error is
// returned and the mapping is left unchanged.
func (m *Mapping) AddEncoded(src []byte) error {
	if len(src) == 0 {
		return nil
	}
	n, c := binary.Uvarint(src)
	if c <= 0 {
		return base.CorruptionErrorf("seqnotime: invalid pair count")
	}
	src = src[c:]
	if n > math.MaxInt32 {
		return base.CorruptionErrorf("seqnotime: implausible pair count %d", n)
	}
	scratch := make([]Pair, 0, min(int(n), MaxPairsPerSST))
	var prev Pair
	for i := uint64(0); i < n; i++ {
		ds, c := binary.Uvarint(src)
		if c <= 0 {
			return base.CorruptionErrorf(
				"seqnotime: truncated block: %d of %d pairs", i, n)
		}
		src = src[c:]
		dt, c := binary.Uvarint(src)
		if c <= 0 {
			return base.CorruptionErrorf(
				"seqnotime: truncated block: %d of %d pairs", i, n)
		}
		src = src[c:]

		p := Pair{Seqno: prev.Seqno + base.SeqNum(ds), Time: prev.Time + dt}
		if i > 0 && (p.Seqno < prev.Seqno || p.Time < prev.Time) {
			return base.CorruptionErrorf(
				"seqnotime: delta overflow at pair %d", i)
		}
		scratch = append(scratch, p)
		prev = p
	}
	if len(src) > 0 {
		return base.CorruptionErrorf(
			"seqnotime: %d trailing bytes after %d pairs", len(src), n)
	}
	m.pairs = append(m.pairs, scratch...)
	return nil
}
