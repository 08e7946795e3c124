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

// Package selectors provides the key selection policies used by replay
// tables for sampling and eviction. A selector maintains a set of keys,
// each with an associated priority, and answers "pick one" according to
// its policy. None of the selectors are safe for concurrent use; the
// owning table serializes access under its own lock.
package selectors

import "fmt"

// KeyWithProbability is the result of a Sample call. Probability is the
// chance that this particular call would have chosen Key: 1/n for the
// uniform selector, weight/total for the prioritized selector and 1 for
// the deterministic selectors (fifo, lifo, heap).
type KeyWithProbability struct {
	Key         uint64
	Probability float64
}

// Selector is the interface fulfilled by all key selection policies.
//
// Insert, Delete and Update report an error when the presence
// precondition is violated (inserting an existing key, deleting or
// updating a missing one). Sample must not be called on an empty
// selector; doing so is a programming error and panics.
type Selector interface {
	// Insert adds the key to the set with the given priority. Fails if
	// the key is already present.
	Insert(key uint64, priority float64) error
	// Delete removes the key from the set. Fails if the key is not
	// present.
	Delete(key uint64) error
	// Update changes the priority of an existing key. Selectors that
	// ignore priorities still verify presence.
	Update(key uint64, priority float64) error
	// Sample picks a key according to the policy.
	Sample() KeyWithProbability
	// Len returns the number of keys in the set.
	Len() int
	// Clear drops all keys.
	Clear()
	// Options returns a tagged record identifying the selector variant
	// and its configuration. Used by checkpointing.
	Options() Options
}

// Options is the tagged record describing a selector variant. Exactly one
// of the fields is set.
type Options struct {
	Uniform     bool                `json:"uniform,omitempty"`
	Fifo        bool                `json:"fifo,omitempty"`
	Lifo        bool                `json:"lifo,omitempty"`
	Heap        *HeapOptions        `json:"heap,omitempty"`
	Prioritized *PrioritizedOptions `json:"prioritized,omitempty"`
}

// HeapOptions configures a heap selector.
type HeapOptions struct {
	MinHeap bool `json:"min_heap"`
}

// PrioritizedOptions configures a prioritized selector.
type PrioritizedOptions struct {
	PriorityExponent float64 `json:"priority_exponent"`
}

// NewFromOptions reconstructs a selector from its Options record. It is
// the inverse of Selector.Options and is used when loading checkpoints.
func NewFromOptions(o Options) (Selector, error) {
	switch {
	case o.Uniform:
		return NewUniform(), nil
	case o.Fifo:
		return NewFifo(), nil
	case o.Lifo:
		return NewLifo(), nil
	case o.Heap != nil:
		return NewHeap(o.Heap.MinHeap), nil
	case o.Prioritized != nil:
		return NewPrioritized(o.Prioritized.PriorityExponent)
	}
	return nil, fmt.Errorf("selectors: options do not identify a variant: %+v", o)
}
