// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAggregator_EmptySnapshot(t *testing.T) {
	s := NewAggregator().Snapshot()

	assert.Equal(t, int64(0), s.TotalAnalyses)
	assert.Empty(t, s.FreqTypeCounts)
	assert.Equal(t, 0.0, s.AvgFinalConfidence)
	assert.Equal(t, 0.0, s.LatencyP50Millis)
}

func TestAggregator_CountsAndRates(t *testing.T) {
	a := NewAggregator()
	a.Observe(Observation{FreqType: "Neutral", DecisionState: "ALLOW", Final: 0.1, Latency: 2 * time.Millisecond})
	a.Observe(Observation{FreqType: "Sharp", DecisionState: "GUIDE", Final: 0.8, Latency: 4 * time.Millisecond, RepairUsed: true})
	a.Observe(Observation{FreqType: "OutOfScope", DecisionState: "BLOCK", Final: 0.95, Latency: 1 * time.Millisecond, SafetyHit: true})
	a.Observe(Observation{FreqType: "Neutral", DecisionState: "ALLOW", Final: 0.1, Latency: 2 * time.Millisecond, CacheHit: true})

	s := a.Snapshot()
	assert.Equal(t, int64(4), s.TotalAnalyses)
	assert.Equal(t, int64(2), s.FreqTypeCounts["Neutral"])
	assert.Equal(t, int64(1), s.FreqTypeCounts["Sharp"])
	assert.Equal(t, int64(2), s.DecisionCounts["ALLOW"])
	assert.Equal(t, 0.25, s.RepairUsageRate)
	assert.Equal(t, 0.25, s.OutOfScopeHitRate)
	assert.Equal(t, 0.25, s.CacheHitRate)
	assert.InDelta(t, (0.1+0.8+0.95+0.1)/4, s.AvgFinalConfidence, 1e-9)
}

func TestAggregator_Percentiles(t *testing.T) {
	a := NewAggregator()
	for i := 1; i <= 100; i++ {
		a.Observe(Observation{FreqType: "Neutral", DecisionState: "ALLOW", Latency: time.Duration(i) * time.Millisecond})
	}

	s := a.Snapshot()
	assert.Equal(t, 50.0, s.LatencyP50Millis)
	assert.Equal(t, 95.0, s.LatencyP95Millis)
	assert.Equal(t, 99.0, s.LatencyP99Millis)
}

func TestAggregator_LatencyWindowBounded(t *testing.T) {
	a := NewAggregator()
	// Old slow samples get overwritten once the ring wraps.
	for i := 0; i < latencyWindow; i++ {
		a.Observe(Observation{FreqType: "Neutral", DecisionState: "ALLOW", Latency: time.Second})
	}
	for i := 0; i < latencyWindow; i++ {
		a.Observe(Observation{FreqType: "Neutral", DecisionState: "ALLOW", Latency: time.Millisecond})
	}

	s := a.Snapshot()
	assert.Equal(t, 1.0, s.LatencyP99Millis)
	assert.Equal(t, int64(2*latencyWindow), s.TotalAnalyses)
}

func TestAggregator_ConcurrentObserve(t *testing.T) {
	a := NewAggregator()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				a.Observe(Observation{FreqType: "Neutral", DecisionState: "ALLOW", Latency: time.Millisecond})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(4000), a.Snapshot().TotalAnalyses)
}

func TestAggregator_SnapshotIsCopy(t *testing.T) {
	a := NewAggregator()
	a.Observe(Observation{FreqType: "Neutral", DecisionState: "ALLOW"})

	s := a.Snapshot()
	s.FreqTypeCounts["Neutral"] = 99

	assert.Equal(t, int64(1), a.Snapshot().FreqTypeCounts["Neutral"])
}
