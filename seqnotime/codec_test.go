// Copyright 2024 The Crest Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package seqnotime

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/crestdb/crest/internal/base"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestEncodeDecodeBasic(t *testing.T) {
	m := New(0, 1000)

	// Encoding an empty mapping produces an empty block.
	out := m.Encode(nil, 0, 1000, 100, 0)
	require.Empty(t, out)

	for i := 1; i <= 1000; i++ {
		require.True(t, m.Append(base.SeqNum(i), uint64(i*10)))
	}
	out = m.Encode(nil, 0, 1000, 100, 0)
	require.NotEmpty(t, out)

	decoded := New(0, 0)
	require.NoError(t, decoded.AddEncoded(out))
	require.NoError(t, decoded.Sort())
	require.Equal(t, MaxPairsPerSST, decoded.Len())
	require.Equal(t, 1000, m.Len())

	// The decoded mapping is thinner and therefore less accurate, but its
	// answers never overshoot and stay within two strides of the original.
	for seq := base.SeqNum(0); seq <= 1000; seq++ {
		target := m.ProximalTimeBeforeSeqno(seq)
		got := decoded.ProximalTimeBeforeSeqno(seq)
		require.LessOrEqual(t, got, target, "seqno %d", seq)
		if target >= 200 {
			require.GreaterOrEqual(t, got, target-200, "seqno %d", seq)
		}
	}
}

func TestEncodeDecodePreferNewTime(t *testing.T) {
	m := New(0, 10)

	require.True(t, m.Append(1, 10))
	require.True(t, m.Append(5, 17))
	require.True(t, m.Append(6, 25))
	require.True(t, m.Append(8, 30))

	out := m.Encode(nil, 1, 10, 0, 3)

	decoded := New(0, 0)
	require.NoError(t, decoded.AddEncoded(out))
	require.NoError(t, decoded.Sort())
	// (5,17) is shed; the newer (6,25) and (8,30) are kept alongside the
	// oldest pair.
	require.Equal(t, []Pair{{1, 10}, {6, 25}, {8, 30}}, decoded.Pairs())

	// Stretch the time axis with a few large samples.
	require.True(t, m.Append(10, 100))
	require.True(t, m.Append(13, 200))
	require.True(t, m.Append(16, 300))

	out = m.Encode(nil, 1, 20, 0, 4)
	decoded.Clear()
	require.NoError(t, decoded.AddEncoded(out))
	require.NoError(t, decoded.Sort())
	// (5,17), (6,25), (8,30) are too close in time to (1,10) for the
	// stride. (10,100) is within the stride as well, but without it only
	// three pairs would be selected, so the newest skipped pair is pulled
	// back in.
	require.Equal(t, []Pair{{1, 10}, {10, 100}, {13, 200}, {16, 300}}, decoded.Pairs())
}

func TestEncodeRange(t *testing.T) {
	m := New(0, 0)
	for i := 1; i <= 10; i++ {
		require.True(t, m.Append(base.SeqNum(i*10), uint64(i*100)))
	}

	// A range covering no pair encodes nothing.
	require.Empty(t, m.Encode(nil, 101, 200, 0, 0))
	require.Empty(t, m.Encode(nil, 1, 9, 0, 0))
	// An inverted range encodes nothing.
	require.Empty(t, m.Encode(nil, 50, 40, 0, 0))

	// A partial range selects only in-range pairs.
	out := m.Encode(nil, 30, 50, 0, 0)
	decoded := New(0, 0)
	require.NoError(t, decoded.AddEncoded(out))
	require.NoError(t, decoded.Sort())
	require.Equal(t, []Pair{{30, 300}, {40, 400}, {50, 500}}, decoded.Pairs())
}

func TestEncodeMaxPairsOne(t *testing.T) {
	m := New(0, 0)
	require.True(t, m.Append(10, 100))
	require.True(t, m.Append(20, 200))
	require.True(t, m.Append(30, 300))

	// With room for a single pair the oldest wins: it is the range's lower
	// bound.
	out := m.Encode(nil, 0, base.SeqNumMax, 0, 1)
	decoded := New(0, 0)
	require.NoError(t, decoded.AddEncoded(out))
	require.NoError(t, decoded.Sort())
	require.Equal(t, []Pair{{10, 100}}, decoded.Pairs())
}

func TestEncodeDurationCutoff(t *testing.T) {
	m := New(100 /* maxTimeDuration */, 0)
	require.True(t, m.Append(10, 500))
	require.True(t, m.Append(20, 600))
	require.True(t, m.Append(30, 700))

	// now=750: (10,500) has aged out (cutoff 650 keeps (20,600) as the
	// proximal lower bound).
	out := m.Encode(nil, 0, base.SeqNumMax, 750, 0)
	decoded := New(0, 0)
	require.NoError(t, decoded.AddEncoded(out))
	require.NoError(t, decoded.Sort())
	require.Equal(t, []Pair{{20, 600}, {30, 700}}, decoded.Pairs())

	// now far in the future: only the newest pair remains relevant.
	out = m.Encode(nil, 0, base.SeqNumMax, 10000000, 0)
	decoded.Clear()
	require.NoError(t, decoded.AddEncoded(out))
	require.NoError(t, decoded.Sort())
	require.Equal(t, []Pair{{30, 700}}, decoded.Pairs())
}

func TestAddEncodedMerge(t *testing.T) {
	a := New(0, 0)
	require.True(t, a.Append(10, 100))
	require.True(t, a.Append(20, 200))
	b := New(0, 0)
	require.True(t, b.Append(15, 150))
	require.True(t, b.Append(25, 250))

	blockA := a.Encode(nil, 0, base.SeqNumMax, 0, 0)
	blockB := b.Encode(nil, 0, base.SeqNumMax, 0, 0)

	merged := New(0, 0)
	require.NoError(t, merged.AddEncoded(blockA))
	require.NoError(t, merged.AddEncoded(blockB))
	require.NoError(t, merged.Sort())
	require.Equal(t, []Pair{{10, 100}, {15, 150}, {20, 200}, {25, 250}}, merged.Pairs())
}

func TestAddEncodedCorruption(t *testing.T) {
	m := New(0, 0)
	for i := 1; i <= 10; i++ {
		require.True(t, m.Append(base.SeqNum(i*10), uint64(i*100)))
	}
	block := m.Encode(nil, 0, base.SeqNumMax, 0, 0)

	// An empty block is a valid encoding of zero pairs.
	fresh := New(0, 0)
	require.NoError(t, fresh.AddEncoded(nil))
	require.True(t, fresh.Empty())

	// Truncation anywhere inside the block is corruption, and the
	// destination mapping is left unchanged.
	for cut := 1; cut < len(block); cut++ {
		dst := New(0, 0)
		dst.Add(1, 1)
		err := dst.AddEncoded(block[:cut])
		require.Error(t, err, "cut=%d", cut)
		require.True(t, base.IsCorruptionError(err), "cut=%d", cut)
		require.Equal(t, 1, dst.Len(), "cut=%d", cut)
	}

	// Trailing garbage after the declared pairs is corruption.
	dst := New(0, 0)
	err := dst.AddEncoded(append(append([]byte(nil), block...), 0x01))
	require.Error(t, err)
	require.True(t, base.IsCorruptionError(err))
	require.True(t, dst.Empty())

	// A malformed varint (ten continuation bytes) is corruption.
	bad := make([]byte, 11)
	for i := range bad {
		bad[i] = 0xff
	}
	err = dst.AddEncoded(bad)
	require.Error(t, err)
	require.True(t, base.IsCorruptionError(err))

	// Deltas that would wrap the seqno axis are corruption.
	var overflow []byte
	overflow = binary.AppendUvarint(overflow, 2)
	overflow = binary.AppendUvarint(overflow, 1<<63) // seqno0
	overflow = binary.AppendUvarint(overflow, 10)    // time0
	overflow = binary.AppendUvarint(overflow, 1<<63) // delta wraps
	overflow = binary.AppendUvarint(overflow, 10)
	err = dst.AddEncoded(overflow)
	require.Error(t, err)
	require.True(t, base.IsCorruptionError(err))
}

func TestEncodeDecodeRandomized(t *testing.T) {
	seed := uint64(time.Now().UnixNano())
	t.Logf("seed %d", seed)
	rng := rand.New(rand.NewSource(seed))

	m := New(0, 0)
	seqno, now := base.SeqNum(0), uint64(0)
	for i := 0; i < 2000; i++ {
		seqno += base.SeqNum(rng.Intn(100) + 1)
		now += uint64(rng.Intn(100) + 1)
		require.True(t, m.Append(seqno, now))
	}

	block := m.Encode(nil, 0, base.SeqNumMax, 0, 0)
	decoded := New(0, 0)
	require.NoError(t, decoded.AddEncoded(block))
	require.NoError(t, decoded.Sort())
	require.Equal(t, MaxPairsPerSST, decoded.Len())

	// The oldest and newest pairs survive thinning exactly.
	orig := m.Pairs()
	dec := decoded.Pairs()
	require.Equal(t, orig[0], dec[0])
	require.Equal(t, orig[len(orig)-1], dec[len(dec)-1])

	// Decoded answers never overshoot the original's on either axis.
	for i := 0; i < 1000; i++ {
		q := base.SeqNum(rng.Uint64n(uint64(seqno) + 100))
		require.LessOrEqual(t, decoded.ProximalTimeBeforeSeqno(q), m.ProximalTimeBeforeSeqno(q))

		qt := rng.Uint64n(now + 100)
		require.LessOrEqual(t, decoded.ProximalSeqnoBeforeTime(qt), m.ProximalSeqnoBeforeTime(qt))
	}
}
