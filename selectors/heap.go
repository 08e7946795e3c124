/*
 * Copyright 2020 Dgraph Labs, Inc. and Contributors
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

package selectors

import "fmt"

// Heap samples the key with the lowest (or highest) priority. Ties are
// broken by insertion order, oldest first. Insert, Delete and Update take
// O(log n) time, Sample O(1).
type Heap struct {
	minHeap bool
	items   []*heapItem
	indices map[uint64]int
	// Monotone counter used to break priority ties deterministically.
	inserts uint64
}

type heapItem struct {
	key      uint64
	priority float64
	seq      uint64
}

// NewHeap creates an empty heap selector. When minHeap is true the lowest
// priority is sampled first, otherwise the highest.
func NewHeap(minHeap bool) *Heap {
	return &Heap{
		minHeap: minHeap,
		indices: make(map[uint64]int),
	}
}

// Insert adds the key with the given priority.
func (s *Heap) Insert(key uint64, priority float64) error {
	if _, ok := s.indices[key]; ok {
		return fmt.Errorf("selectors: key %d already inserted in heap", key)
	}
	i := len(s.items)
	s.items = append(s.items, &heapItem{key: key, priority: priority, seq: s.inserts})
	s.inserts++
	s.indices[key] = i
	s.heapifyUp(i)
	return nil
}

// Delete removes the key from the heap.
func (s *Heap) Delete(key uint64) error {
	i, ok := s.indices[key]
	if !ok {
		return fmt.Errorf("selectors: key %d not found in heap", key)
	}
	last := len(s.items) - 1
	s.swap(i, last)
	s.items = s.items[:last]
	delete(s.indices, key)
	if i != last {
		s.heapifyDown(i)
		s.heapifyUp(i)
	}
	return nil
}

// Update changes the priority of an existing key and restores the heap
// property.
func (s *Heap) Update(key uint64, priority float64) error {
	i, ok := s.indices[key]
	if !ok {
		return fmt.Errorf("selectors: key %d not found in heap", key)
	}
	s.items[i].priority = priority
	s.heapifyDown(i)
	s.heapifyUp(i)
	return nil
}

// Sample returns the extremum key with probability 1.
func (s *Heap) Sample() KeyWithProbability {
	if len(s.items) == 0 {
		panic("selectors: Sample called on empty heap")
	}
	return KeyWithProbability{Key: s.items[0].key, Probability: 1}
}

// Len returns the number of keys in the heap.
func (s *Heap) Len() int { return len(s.items) }

// Clear drops all keys.
func (s *Heap) Clear() {
	s.items = s.items[:0]
	s.indices = make(map[uint64]int)
	s.inserts = 0
}

// Options identifies this selector as a heap with its direction.
func (s *Heap) Options() Options {
	return Options{Heap: &HeapOptions{MinHeap: s.minHeap}}
}

// less orders the heap so that the item to sample is at the root.
func (s *Heap) less(a, b *heapItem) bool {
	if a.priority != b.priority {
		if s.minHeap {
			return a.priority < b.priority
		}
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

func (s *Heap) swap(i, j int) {
	s.items[i], s.items[j] = s.items[j], s.items[i]
	s.indices[s.items[i].key] = i
	s.indices[s.items[j].key] = j
}

// heapifyUp maintains the heap property by moving a node up.
func (s *Heap) heapifyUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !s.less(s.items[i], s.items[parent]) {
			break
		}
		s.swap(i, parent)
		i = parent
	}
}

// heapifyDown maintains the heap property by moving a node down.
func (s *Heap) heapifyDown(i int) {
	for {
		first := i
		left, right := 2*i+1, 2*i+2
		if left < len(s.items) && s.less(s.items[left], s.items[first]) {
			first = left
		}
		if right < len(s.items) && s.less(s.items[right], s.items[first]) {
			first = right
		}
		if first == i {
			return
		}
		s.swap(i, first)
		i = first
	}
}
