// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package lua

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchMemory_CancelsPastLimit(t *testing.T) {
	var heap atomic.Uint64
	heap.Store(1000)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		watchMemory(ctx, cancel, 100, 1000, heap.Load)
	}()

	heap.Store(1050)
	time.Sleep(10 * watchInterval)
	assert.NoError(t, ctx.Err(), "growth under the limit is allowed")

	heap.Store(1101)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not cancel")
	}
	require.ErrorIs(t, context.Cause(ctx), errMemoryExceeded)
}

func TestWatchMemory_MeasuresFromLowestSample(t *testing.T) {
	var heap atomic.Uint64
	heap.Store(500)

	ctx, cancel := context.WithCancelCause(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		watchMemory(ctx, cancel, 100, 1000, heap.Load)
	}()

	// A collection dropped the heap below the starting point; growth back
	// to the start is within the limit.
	time.Sleep(10 * watchInterval)
	heap.Store(600)
	time.Sleep(10 * watchInterval)
	assert.NoError(t, ctx.Err())

	heap.Store(601)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not cancel")
	}
	assert.ErrorIs(t, context.Cause(ctx), errMemoryExceeded)
}

func TestWatchMemory_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		watchMemory(ctx, cancel, 100, 0, func() uint64 { return 0 })
	}()

	cancel(nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop")
	}
	assert.ErrorIs(t, context.Cause(ctx), context.Canceled)
}

func TestHeapBytes_ReadsRuntimeMetric(t *testing.T) {
	assert.Positive(t, heapBytes())
}
