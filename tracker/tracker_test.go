// Copyright 2024 The Crest Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package tracker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/crestdb/crest/internal/base"
	"github.com/crestdb/crest/seqnotime"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestTrackerRegistration(t *testing.T) {
	tr := New(nil)
	require.False(t, tr.Enabled())
	require.Equal(t, uint64(0), tr.EffectiveDuration())

	// Samples are dropped while no family wants tracking.
	require.False(t, tr.Record(10, 500))
	require.True(t, tr.Snapshot().Empty())

	// The effective duration is the minimum across families, each family
	// contributing the larger of its two horizons.
	tr.ProvideToSeqnoTimeMapping(1, 3600, 0)
	require.True(t, tr.Enabled())
	require.Equal(t, uint64(3600), tr.EffectiveDuration())

	tr.ProvideToSeqnoTimeMapping(2, 600, 1800)
	require.Equal(t, uint64(1800), tr.EffectiveDuration())

	tr.ProvideToSeqnoTimeMapping(3, 0, 7200)
	require.Equal(t, uint64(1800), tr.EffectiveDuration())

	tr.Remove(2)
	require.Equal(t, uint64(3600), tr.EffectiveDuration())

	// A zero-duration registration deregisters.
	tr.ProvideToSeqnoTimeMapping(1, 0, 0)
	tr.Remove(3)
	require.False(t, tr.Enabled())
}

func TestTrackerReconfigureKeepsSamples(t *testing.T) {
	tr := New(nil)
	tr.ProvideToSeqnoTimeMapping(1, 10000, 0)

	require.True(t, tr.Record(10, 500))
	require.True(t, tr.Record(20, 600))

	// Tightening the duration preserves the recorded samples.
	tr.ProvideToSeqnoTimeMapping(2, 5000, 0)
	snap := tr.Snapshot()
	require.Equal(t, []seqnotime.Pair{{Seqno: 10, Time: 500}, {Seqno: 20, Time: 600}}, snap.Pairs())
	require.Equal(t, uint64(5000), snap.MaxTimeDuration())
}

func TestTrackerRecordAndTruncate(t *testing.T) {
	m := NewMetrics()
	tr := New(m)
	tr.ProvideToSeqnoTimeMapping(1, 1000, 0)

	require.True(t, tr.Record(10, 500))
	require.True(t, tr.Record(20, 600))
	// Out of order: rejected but counted.
	require.False(t, tr.Record(15, 700))
	require.True(t, tr.Record(30, 700))

	require.Equal(t, 3.0, testutil.ToFloat64(m.SamplesTaken))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SamplesRejected))
	require.Equal(t, 3.0, testutil.ToFloat64(m.MappingPairs))

	// Recording far in the future ages out the old samples; the proximal
	// pair at the cutoff is retained as the lower bound.
	require.True(t, tr.Record(40, 10000))
	snap := tr.Snapshot()
	require.Equal(t, []seqnotime.Pair{{Seqno: 30, Time: 700}, {Seqno: 40, Time: 10000}}, snap.Pairs())
}

func TestTrackerSnapshotIsolation(t *testing.T) {
	tr := New(nil)
	tr.ProvideToSeqnoTimeMapping(1, 10000, 0)
	require.True(t, tr.Record(10, 500))

	snap := tr.Snapshot()
	require.True(t, tr.Record(20, 600))
	require.Equal(t, 1, snap.Len())
	require.Equal(t, base.SeqNum(10), snap.ProximalSeqnoBeforeTime(10000))
}

func TestTrackerConcurrentReaders(t *testing.T) {
	tr := New(nil)
	tr.ProvideToSeqnoTimeMapping(1, 1000000, 0)

	var g errgroup.Group
	g.Go(func() error {
		for i := 1; i <= 1000; i++ {
			tr.Record(base.SeqNum(i*10), uint64(i*100))
		}
		return nil
	})
	for r := 0; r < 4; r++ {
		g.Go(func() error {
			for i := 0; i < 1000; i++ {
				snap := tr.Snapshot()
				// A snapshot is internally consistent regardless of racing
				// appends.
				pairs := snap.Pairs()
				for j := 1; j < len(pairs); j++ {
					if pairs[j].Seqno <= pairs[j-1].Seqno || pairs[j].Time < pairs[j-1].Time {
						return base.AssertionFailedf("snapshot out of order: %s then %s",
							pairs[j-1], pairs[j])
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestSamplingInterval(t *testing.T) {
	require.Equal(t, time.Duration(0), SamplingInterval(0))
	// Sub-second cadences clamp to one second.
	require.Equal(t, time.Second, SamplingInterval(50))
	require.Equal(t, time.Second, SamplingInterval(100))
	require.Equal(t, 36*time.Second, SamplingInterval(3600))
	require.Equal(t, 864*time.Second, SamplingInterval(86400))
}

func TestSampler(t *testing.T) {
	tr := New(nil)
	tr.ProvideToSeqnoTimeMapping(1, 10000, 0)

	var now atomic.Uint64
	var seqno atomic.Uint64
	now.Store(1000)
	seqno.Store(10)

	s := StartSampler(tr, SamplerOptions{
		Interval: time.Millisecond,
		NowFn:    func() uint64 { return now.Load() },
		SeqnoFn:  func() base.SeqNum { return base.SeqNum(seqno.Load()) },
	})
	require.Equal(t, time.Millisecond, s.Interval())

	// Advance the mock clock and commit stream until the sampler has
	// observed a few distinct samples.
	deadline := time.After(10 * time.Second)
	for tr.Snapshot().Len() < 3 {
		now.Add(60)
		seqno.Add(5)
		select {
		case <-deadline:
			t.Fatal("sampler took too long to record samples")
		case <-time.After(time.Millisecond):
		}
	}
	s.Stop()

	snap := tr.Snapshot()
	require.GreaterOrEqual(t, snap.Len(), 3)
	require.Equal(t, base.SeqNum(0), snap.ProximalSeqnoBeforeTime(999))
}
