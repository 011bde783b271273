// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reqcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rin-protocol/continuum/services/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testValue(id string) *Value {
	return &Value{
		Decision: pipeline.Decision{
			State:        pipeline.StateAllow,
			Mode:         pipeline.ModeNoop,
			Scenario:     "general",
			RepairedText: "hello",
		},
		FreqType:   pipeline.FreqNeutral,
		Confidence: pipeline.CalibratedConfidence{Final: 0.1, Classifier: 0.1},
		EvidenceID: id,
	}
}

func TestFingerprintStableAndDistinct(t *testing.T) {
	a := Fingerprint("hello world", "general")
	assert.Equal(t, a, Fingerprint("hello world", "general"))
	assert.NotEqual(t, a, Fingerprint("hello world", "support"))
	assert.NotEqual(t, a, Fingerprint("hello worlds", "general"))
	assert.Len(t, a, 64)
}

func TestDoCachesResult(t *testing.T) {
	c := New(Options{}, nil)
	fp := Fingerprint("hello", "")
	calls := 0

	compute := func(ctx context.Context) (*Value, error) {
		calls++
		return testValue("ev-1"), nil
	}

	v1, cached, err := c.Do(context.Background(), fp, compute)
	require.NoError(t, err)
	assert.False(t, cached)

	v2, cached, err := c.Do(context.Background(), fp, compute)
	require.NoError(t, err)
	assert.True(t, cached)

	assert.Equal(t, 1, calls)
	assert.Equal(t, v1, v2, "repeat calls within TTL are byte-identical")
}

func TestDoSingleFlight(t *testing.T) {
	c := New(Options{}, nil)
	fp := Fingerprint("concurrent text", "general")

	var executions atomic.Int64
	release := make(chan struct{})
	compute := func(ctx context.Context) (*Value, error) {
		executions.Add(1)
		<-release
		return testValue("ev-sf"), nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*Value, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.Do(context.Background(), fp, compute)
		}(i)
	}

	// Let every goroutine reach the flight before releasing.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, executions.Load(), "exactly one pipeline execution")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i], "all callers observe the identical result")
	}
	assert.Equal(t, 1, c.Len(), "one cache entry")
}

func TestDoErrorNotCommitted(t *testing.T) {
	c := New(Options{}, nil)
	fp := Fingerprint("failing", "")

	_, _, err := c.Do(context.Background(), fp, func(ctx context.Context) (*Value, error) {
		return nil, errors.New("pipeline blew up")
	})
	require.Error(t, err)
	assert.Zero(t, c.Len(), "failed computations leave no entry")

	// A later successful call computes fresh.
	v, cached, err := c.Do(context.Background(), fp, func(ctx context.Context) (*Value, error) {
		return testValue("ev-2"), nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "ev-2", v.EvidenceID)
}

func TestDoRejectsIncompleteValue(t *testing.T) {
	c := New(Options{}, nil)

	_, _, err := c.Do(context.Background(), Fingerprint("x", ""), func(ctx context.Context) (*Value, error) {
		return &Value{}, nil // missing evidence reference
	})
	assert.Error(t, err)
	assert.Zero(t, c.Len())
}

func TestTTLExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := New(Options{TTL: time.Hour, Now: clock}, nil)
	fp := Fingerprint("expiring", "")

	calls := 0
	compute := func(ctx context.Context) (*Value, error) {
		calls++
		return testValue("ev-3"), nil
	}

	_, _, err := c.Do(context.Background(), fp, compute)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, cached, err := c.Do(context.Background(), fp, compute)
	require.NoError(t, err)
	assert.False(t, cached, "expired entry is evicted lazily and recomputed")
	assert.Equal(t, 2, calls)
}

func TestSweepRemovesExpired(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := New(Options{TTL: time.Hour, Now: clock}, nil)

	for _, text := range []string{"a", "b", "c"} {
		_, _, err := c.Do(context.Background(), Fingerprint(text, ""), func(ctx context.Context) (*Value, error) {
			return testValue("ev-" + text), nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, 3, c.Len())

	now = now.Add(2 * time.Hour)
	c.sweep()
	assert.Zero(t, c.Len())

	_, _, evictions := c.Stats()
	assert.EqualValues(t, 3, evictions)
}

func TestStartStop(t *testing.T) {
	c := New(Options{SweepInterval: time.Millisecond}, nil)
	require.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.Start(context.Background()), "double start rejected")
	c.Stop()
	c.Stop() // idempotent
}
