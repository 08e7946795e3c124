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
	"errors"
	"fmt"
	"math"
	"sync"
)

// RateLimiter gates Sample and Insert admission on a table so that the
// running quantity
//
//	diff = samplesPerInsert*insertCount - sampleCount
//
// stays within [minDiff, maxDiff], and so that sampling never happens
// before the table holds minSizeToSample items.
//
// A limiter is bound to exactly one table and all its methods run while
// holding that table's lock. Blocked operations release the lock while
// waiting and re-check their predicate under the lock after every state
// change.
type RateLimiter struct {
	samplesPerInsert float64
	minSizeToSample  int64
	minDiff          float64
	maxDiff          float64

	insertCount uint64
	sampleCount uint64

	// The owning table's lock, set at registration.
	mu *sync.Mutex
	// signal is closed and replaced on every state change, waking all
	// blocked operations for a predicate re-check.
	signal    chan struct{}
	cancelled bool
}

// RateLimiterCheckpoint is the limiter slice of a table checkpoint.
type RateLimiterCheckpoint struct {
	SamplesPerInsert float64 `json:"samples_per_insert"`
	MinSizeToSample  int64   `json:"min_size_to_sample"`
	MinDiff          float64 `json:"min_diff"`
	MaxDiff          float64 `json:"max_diff"`
	InsertCount      uint64  `json:"insert_count"`
	SampleCount      uint64  `json:"sample_count"`
}

// NewRateLimiter creates a limiter. samplesPerInsert must be positive,
// minSizeToSample at least 1 and minDiff at most maxDiff.
func NewRateLimiter(samplesPerInsert float64, minSizeToSample int64, minDiff, maxDiff float64) (*RateLimiter, error) {
	switch {
	case samplesPerInsert <= 0 || math.IsNaN(samplesPerInsert):
		return nil, fmt.Errorf("reverb: samples per insert must be positive, got %f", samplesPerInsert)
	case minSizeToSample < 1:
		return nil, fmt.Errorf("reverb: min size to sample must be at least 1, got %d", minSizeToSample)
	case minDiff > maxDiff:
		return nil, fmt.Errorf("reverb: min diff (%f) must not exceed max diff (%f)", minDiff, maxDiff)
	}
	return &RateLimiter{
		samplesPerInsert: samplesPerInsert,
		minSizeToSample:  minSizeToSample,
		minDiff:          minDiff,
		maxDiff:          maxDiff,
		signal:           make(chan struct{}),
	}, nil
}

// NewMinSizeRateLimiter creates a limiter that only blocks sampling
// until the table holds minSizeToSample items. Inserts are never
// blocked.
func NewMinSizeRateLimiter(minSizeToSample int64) (*RateLimiter, error) {
	return NewRateLimiter(1, minSizeToSample, math.Inf(-1), math.Inf(1))
}

// NewQueueRateLimiter creates a limiter that makes a table behave like a
// queue of the given size when combined with fifo sampling and removal
// and maxTimesSampled of 1.
func NewQueueRateLimiter(size int64) (*RateLimiter, error) {
	return NewRateLimiter(1, 1, 0, float64(size))
}

// NewRateLimiterFromCheckpoint reconstructs a limiter, counters
// included.
func NewRateLimiterFromCheckpoint(c RateLimiterCheckpoint) (*RateLimiter, error) {
	r, err := NewRateLimiter(c.SamplesPerInsert, c.MinSizeToSample, c.MinDiff, c.MaxDiff)
	if err != nil {
		return nil, err
	}
	r.insertCount = c.InsertCount
	r.sampleCount = c.SampleCount
	return r, nil
}

// register binds the limiter to its table's lock. A limiter can only
// ever serve one table.
func (r *RateLimiter) register(mu *sync.Mutex) error {
	if r.mu != nil {
		return errors.New("reverb: rate limiter is already registered to a table")
	}
	r.mu = mu
	return nil
}

// canSample reports whether one more sample is admissible at the given
// table size. The diff is computed on the post-sample counters.
func (r *RateLimiter) canSample(size int64) bool {
	if size < r.minSizeToSample {
		return false
	}
	diff := r.samplesPerInsert*float64(r.insertCount) - float64(r.sampleCount+1)
	return diff >= r.minDiff
}

// canInsert reports whether one more insert is admissible. The diff is
// computed on the post-insert counters.
func (r *RateLimiter) canInsert() bool {
	diff := r.samplesPerInsert*float64(r.insertCount+1) - float64(r.sampleCount)
	return diff <= r.maxDiff
}

// awaitCanSample blocks until one more sample is admissible, the
// context expires or the limiter is cancelled. size is re-evaluated
// under the lock on every wake-up.
func (r *RateLimiter) awaitCanSample(ctx context.Context, size func() int64) error {
	for {
		if r.cancelled {
			return ErrTableClosed
		}
		if r.canSample(size()) {
			return nil
		}
		if err := r.wait(ctx); err != nil {
			return err
		}
	}
}

// awaitCanInsert blocks until one more insert is admissible, the
// context expires or the limiter is cancelled.
func (r *RateLimiter) awaitCanInsert(ctx context.Context) error {
	for {
		if r.cancelled {
			return ErrTableClosed
		}
		if r.canInsert() {
			return nil
		}
		if err := r.wait(ctx); err != nil {
			return err
		}
	}
}

// wait releases the table lock until the next state change or context
// expiry, then re-acquires it.
func (r *RateLimiter) wait(ctx context.Context) error {
	ch := r.signal
	r.mu.Unlock()
	select {
	case <-ch:
		r.mu.Lock()
		return nil
	case <-ctx.Done():
		r.mu.Lock()
		return ctx.Err()
	}
}

// insert records a successful insertion and wakes all blocked
// operations. Called after the item has been committed.
func (r *RateLimiter) insert() {
	r.insertCount++
	r.broadcast()
}

// sample records a successful sample and wakes all blocked operations.
func (r *RateLimiter) sample() {
	r.sampleCount++
	r.broadcast()
}

// reset zeros both counters and wakes all blocked operations.
func (r *RateLimiter) reset() {
	r.insertCount = 0
	r.sampleCount = 0
	r.broadcast()
}

// cancel puts the limiter in its terminal state; pending and subsequent
// awaits return ErrTableClosed.
func (r *RateLimiter) cancel() {
	r.cancelled = true
	r.broadcast()
}

// wake re-runs the predicates of all blocked operations without touching
// the counters. Used when the table size changes through deletes.
func (r *RateLimiter) wake() {
	r.broadcast()
}

// broadcast must wake every waiter, not just one: blocked inserters and
// samplers share the channel and a single wake-up could be consumed by
// an operation whose predicate is still false.
func (r *RateLimiter) broadcast() {
	close(r.signal)
	r.signal = make(chan struct{})
}

// checkpoint captures the limiter configuration and counters.
func (r *RateLimiter) checkpoint() RateLimiterCheckpoint {
	return RateLimiterCheckpoint{
		SamplesPerInsert: r.samplesPerInsert,
		MinSizeToSample:  r.minSizeToSample,
		MinDiff:          r.minDiff,
		MaxDiff:          r.maxDiff,
		InsertCount:      r.insertCount,
		SampleCount:      r.sampleCount,
	}
}
