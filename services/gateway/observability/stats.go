// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"sort"
	"sync"
	"time"
)

// latencyWindow bounds the latency sample buffer; percentiles cover the
// most recent samples only.
const latencyWindow = 4096

// Observation is one completed analyze call, content-free.
type Observation struct {
	FreqType      string
	DecisionState string
	Final         float64
	Latency       time.Duration
	SafetyHit     bool
	RepairUsed    bool
	CacheHit      bool
}

// Snapshot is the aggregate view served by the stats and ops endpoints.
type Snapshot struct {
	TotalAnalyses      int64
	FreqTypeCounts     map[string]int64
	DecisionCounts     map[string]int64
	AvgFinalConfidence float64
	RepairUsageRate    float64
	OutOfScopeHitRate  float64
	CacheHitRate       float64
	LatencyP50Millis   float64
	LatencyP95Millis   float64
	LatencyP99Millis   float64
}

// Aggregator accumulates content-free decision counters and a bounded
// latency ring for percentile reporting.
//
// Thread Safety: safe for concurrent use.
type Aggregator struct {
	mu sync.Mutex

	total      int64
	freqTypes  map[string]int64
	decisions  map[string]int64
	confSum    float64
	repairs    int64
	safetyHits int64
	cacheHits  int64

	latencies []time.Duration
	next      int
	filled    bool
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		freqTypes: make(map[string]int64),
		decisions: make(map[string]int64),
		latencies: make([]time.Duration, 0, latencyWindow),
	}
}

// Observe records one completed analyze call.
func (a *Aggregator) Observe(o Observation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.freqTypes[o.FreqType]++
	a.decisions[o.DecisionState]++
	a.confSum += o.Final
	if o.RepairUsed {
		a.repairs++
	}
	if o.SafetyHit {
		a.safetyHits++
	}
	if o.CacheHit {
		a.cacheHits++
	}

	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, o.Latency)
	} else {
		a.latencies[a.next] = o.Latency
		a.next = (a.next + 1) % latencyWindow
		a.filled = true
	}
}

// Snapshot returns a consistent copy of the aggregate state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		TotalAnalyses:  a.total,
		FreqTypeCounts: make(map[string]int64, len(a.freqTypes)),
		DecisionCounts: make(map[string]int64, len(a.decisions)),
	}
	for k, v := range a.freqTypes {
		s.FreqTypeCounts[k] = v
	}
	for k, v := range a.decisions {
		s.DecisionCounts[k] = v
	}
	if a.total > 0 {
		s.AvgFinalConfidence = a.confSum / float64(a.total)
		s.RepairUsageRate = float64(a.repairs) / float64(a.total)
		s.OutOfScopeHitRate = float64(a.safetyHits) / float64(a.total)
		s.CacheHitRate = float64(a.cacheHits) / float64(a.total)
	}

	if n := len(a.latencies); n > 0 {
		sorted := make([]time.Duration, n)
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		s.LatencyP50Millis = millis(percentile(sorted, 0.50))
		s.LatencyP95Millis = millis(percentile(sorted, 0.95))
		s.LatencyP99Millis = millis(percentile(sorted, 0.99))
	}
	return s
}

// percentile uses nearest-rank on a sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
