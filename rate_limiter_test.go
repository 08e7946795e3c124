/*
 * Copyright 2019 Dgraph Labs, Inc. and Contributors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package reverb

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRateLimiterValidatesConfig(t *testing.T) {
	_, err := NewRateLimiter(0, 1, -1, 1)
	require.Error(t, err)
	_, err = NewRateLimiter(-1, 1, -1, 1)
	require.Error(t, err)
	_, err = NewRateLimiter(1, 0, -1, 1)
	require.Error(t, err)
	_, err = NewRateLimiter(1, 1, 2, 1)
	require.Error(t, err)

	_, err = NewRateLimiter(1, 1, -1, 1)
	require.NoError(t, err)
}

func TestRateLimiterRoundTrip(t *testing.T) {
	r, err := NewRateLimiter(1, 1, -1, 1)
	require.NoError(t, err)

	// One insert fits, a second does not until a sample happens.
	require.True(t, r.canInsert())
	r.insert()
	require.False(t, r.canInsert())

	require.True(t, r.canSample(1))
	r.sample()
	require.True(t, r.canInsert())
	r.insert()
	require.False(t, r.canInsert())
}

func TestRateLimiterMinSizeGatesSampling(t *testing.T) {
	r, err := NewMinSizeRateLimiter(3)
	require.NoError(t, err)

	require.False(t, r.canSample(0))
	require.False(t, r.canSample(2))
	require.True(t, r.canSample(3))

	// Inserts are never gated by a min size limiter.
	for i := 0; i < 1000; i++ {
		require.True(t, r.canInsert())
		r.insert()
	}
}

func TestRateLimiterResetZerosCounters(t *testing.T) {
	r, err := NewRateLimiter(1, 1, -1, 1)
	require.NoError(t, err)
	r.insert()
	r.sample()
	r.reset()
	require.Zero(t, r.insertCount)
	require.Zero(t, r.sampleCount)
	require.True(t, r.canInsert())
}

func TestRateLimiterCheckpointRoundTrip(t *testing.T) {
	r, err := NewRateLimiter(1.5, 2, -10, 7)
	require.NoError(t, err)
	r.insert()
	r.insert()
	r.sample()

	got := r.checkpoint()
	require.Equal(t, RateLimiterCheckpoint{
		SamplesPerInsert: 1.5,
		MinSizeToSample:  2,
		MinDiff:          -10,
		MaxDiff:          7,
		InsertCount:      2,
		SampleCount:      1,
	}, got)

	restored, err := NewRateLimiterFromCheckpoint(got)
	require.NoError(t, err)
	require.Equal(t, got, restored.checkpoint())
}

func TestRateLimiterRegistersOnlyOnce(t *testing.T) {
	r, err := NewMinSizeRateLimiter(1)
	require.NoError(t, err)

	var mu sync.Mutex
	require.NoError(t, r.register(&mu))
	require.Error(t, r.register(&mu))
}

func TestAwaitCanInsertBlocksUntilSample(t *testing.T) {
	r, err := NewRateLimiter(1, 1, -1, 1)
	require.NoError(t, err)
	var mu sync.Mutex
	require.NoError(t, r.register(&mu))

	mu.Lock()
	require.NoError(t, r.awaitCanInsert(context.Background()))
	r.insert()
	mu.Unlock()

	done := make(chan error, 1)
	go func() {
		mu.Lock()
		err := r.awaitCanInsert(context.Background())
		mu.Unlock()
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("awaitCanInsert should have blocked")
	case <-time.After(100 * time.Millisecond):
	}

	mu.Lock()
	r.sample()
	mu.Unlock()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("awaitCanInsert did not unblock after sample")
	}
}

func TestAwaitCanInsertDeadline(t *testing.T) {
	r, err := NewRateLimiter(1, 1, -1, 1)
	require.NoError(t, err)
	var mu sync.Mutex
	require.NoError(t, r.register(&mu))

	mu.Lock()
	r.insert()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = r.awaitCanInsert(ctx)
	mu.Unlock()
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAwaitReturnsCancelledAfterCancel(t *testing.T) {
	r, err := NewRateLimiter(1, 1, -1, 1)
	require.NoError(t, err)
	var mu sync.Mutex
	require.NoError(t, r.register(&mu))

	mu.Lock()
	r.insert()
	mu.Unlock()

	done := make(chan error, 1)
	go func() {
		mu.Lock()
		err := r.awaitCanInsert(context.Background())
		mu.Unlock()
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	r.cancel()
	mu.Unlock()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrTableClosed)
	case <-time.After(time.Second):
		t.Fatal("awaitCanInsert did not observe cancellation")
	}

	// Terminal: new awaits fail immediately, even when admissible.
	mu.Lock()
	err = r.awaitCanSample(context.Background(), func() int64 { return math.MaxInt64 })
	mu.Unlock()
	require.ErrorIs(t, err, ErrTableClosed)
}
