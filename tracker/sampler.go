// Copyright 2024 The Crest Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package tracker

import (
	"time"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/crestdb/crest/internal/base"
)

// SamplerOptions configures a Sampler. NowFn and SeqnoFn are injected so
// tests can drive a mock clock and a scripted commit stream.
type SamplerOptions struct {
	// Interval between samples. If zero, the interval is derived from the
	// tracker's effective duration via SamplingInterval at start time.
	Interval time.Duration
	// NowFn returns the current wall clock in seconds since the engine
	// epoch.
	NowFn func() uint64
	// SeqnoFn returns the latest committed sequence number.
	SeqnoFn func() base.SeqNum
	// Logger defaults to base.DefaultLogger.
	Logger base.Logger
}

// Sampler periodically records (latest seqno, now) samples into a Tracker.
// It is the tracker's sole writer during normal operation.
type Sampler struct {
	tracker  *Tracker
	opts     SamplerOptions
	interval time.Duration
	started  crtime.Mono
	stop     chan struct{}
	done     chan struct{}
}

// StartSampler spawns the sampling loop. Stop must be called before the
// tracker is discarded.
func StartSampler(t *Tracker, opts SamplerOptions) *Sampler {
	if opts.Logger == nil {
		opts.Logger = base.DefaultLogger{}
	}
	interval := opts.Interval
	if interval == 0 {
		interval = SamplingInterval(t.EffectiveDuration())
	}
	if interval == 0 {
		// Tracking is disabled everywhere; idle at a slow heartbeat so a
		// later registration is picked up.
		interval = time.Minute
	}
	s := &Sampler{
		tracker:  t,
		opts:     opts,
		interval: interval,
		started:  crtime.NowMono(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sampler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tracker.Record(s.opts.SeqnoFn(), s.opts.NowFn())
		}
	}
}

// Interval returns the cadence the sampler is running at.
func (s *Sampler) Interval() time.Duration { return s.interval }

// Stop halts the sampling loop and waits for it to drain.
func (s *Sampler) Stop() {
	close(s.stop)
	<-s.done
	s.opts.Logger.Infof("seqno-time sampler stopped after %s", s.started.Elapsed())
}
