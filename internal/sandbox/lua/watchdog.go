// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package lua

import (
	"context"
	"errors"
	"runtime/metrics"
	"time"
)

// heapMetric counts bytes in heap objects, live or not yet swept.
const heapMetric = "/memory/classes/heap/objects:bytes"

// watchInterval is how often the memory watchdog samples the heap.
const watchInterval = 2 * time.Millisecond

// errMemoryExceeded is the cancellation cause set by the memory watchdog.
var errMemoryExceeded = errors.New("memory limit exceeded")

// heapBytes reads the current heap object size.
func heapBytes() uint64 {
	sample := []metrics.Sample{{Name: heapMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// watchMemory cancels with errMemoryExceeded once the heap has grown more
// than limit bytes above the lowest sample seen since base. It returns when
// ctx is done.
func watchMemory(ctx context.Context, cancel context.CancelCauseFunc, limit int64, base uint64, read func() uint64) {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	low := base
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := read()
			if cur < low {
				low = cur
			}
			if cur-low > uint64(limit) {
				cancel(errMemoryExceeded)
				return
			}
		}
	}
}
