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

package selectors

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Prioritized is a categorical distribution over the present keys that
// allows incremental changes to be made efficiently. The probability of
// sampling a key is proportional to its priority raised to a configurable
// exponent.
//
// Since weights and sums are stored as float64, numerical rounding errors
// are introduced when the relative spread of the weights is large. Keep
// priorities at roughly the same scale and the exponent small, e.g. below
// 2.
//
// Insert, Delete, Update and Sample all take O(log n) time.
type Prioritized struct {
	// Controls the degree of prioritization. Priorities are raised to
	// this exponent before being added to the sum tree as weights. An
	// exponent of zero gives every key the same weight, except for keys
	// with zero priority which always have zero weight.
	priorityExponent float64

	// A binary tree stored as a flat slice where each node holds the sum
	// of its own weight and the weights of all its descendants. The
	// weight of a single node is recovered with nodeValue.
	nodes []sumTreeNode

	// Maps a key to the index where it can be found in nodes.
	indices map[uint64]int
}

type sumTreeNode struct {
	key uint64
	// Sum of the weight of this node and all its descendants.
	sum float64
}

// NewPrioritized creates an empty prioritized selector. The exponent must
// be non-negative.
func NewPrioritized(priorityExponent float64) (*Prioritized, error) {
	if priorityExponent < 0 || math.IsNaN(priorityExponent) {
		return nil, fmt.Errorf(
			"selectors: priority exponent must be non-negative, got %f", priorityExponent)
	}
	return &Prioritized{
		priorityExponent: priorityExponent,
		indices:          make(map[uint64]int),
	}, nil
}

// Insert adds the key with the given priority. The priority must be
// non-negative.
func (s *Prioritized) Insert(key uint64, priority float64) error {
	w, err := s.weight(priority)
	if err != nil {
		return err
	}
	if _, ok := s.indices[key]; ok {
		return fmt.Errorf("selectors: key %d already inserted in prioritized", key)
	}
	i := len(s.nodes)
	s.nodes = append(s.nodes, sumTreeNode{key: key})
	s.indices[key] = i
	s.setNode(i, w)
	return nil
}

// Delete removes the key by moving the last node of the tree into its
// slot.
func (s *Prioritized) Delete(key uint64) error {
	i, ok := s.indices[key]
	if !ok {
		return fmt.Errorf("selectors: key %d not found in prioritized", key)
	}
	last := len(s.nodes) - 1
	if i != last {
		s.setNode(i, s.nodeValue(last))
		moved := s.nodes[last].key
		s.nodes[i].key = moved
		s.indices[moved] = i
	}
	s.setNode(last, 0)
	s.nodes = s.nodes[:last]
	delete(s.indices, key)
	return nil
}

// Update changes the priority of an existing key. The priority must be
// non-negative.
func (s *Prioritized) Update(key uint64, priority float64) error {
	w, err := s.weight(priority)
	if err != nil {
		return err
	}
	i, ok := s.indices[key]
	if !ok {
		return fmt.Errorf("selectors: key %d not found in prioritized", key)
	}
	s.setNode(i, w)
	return nil
}

// Sample picks a key with probability proportional to its weight. The
// total weight of the tree must be positive.
func (s *Prioritized) Sample() KeyWithProbability {
	if len(s.nodes) == 0 {
		panic("selectors: Sample called on empty prioritized")
	}
	total := s.nodes[0].sum
	if total <= 0 {
		panic("selectors: Sample called on prioritized with zero total weight")
	}

	// Walk down the tree, consuming the target mass at each node, until
	// the target falls within the weight of the current node itself.
	target := rand.Float64() * total
	i := 0
	for {
		v := s.nodeValue(i)
		if target < v {
			break
		}
		target -= v
		left, right := 2*i+1, 2*i+2
		if left >= len(s.nodes) {
			// Rounding pushed the target past every weight on this
			// path; settle on the leaf.
			break
		}
		if ls := s.nodeSum(left); target < ls || right >= len(s.nodes) {
			i = left
		} else {
			target -= ls
			i = right
		}
	}
	return KeyWithProbability{
		Key:         s.nodes[i].key,
		Probability: s.nodeValue(i) / total,
	}
}

// Len returns the number of keys in the set.
func (s *Prioritized) Len() int { return len(s.nodes) }

// Clear drops all keys.
func (s *Prioritized) Clear() {
	s.nodes = s.nodes[:0]
	s.indices = make(map[uint64]int)
}

// Options identifies this selector as prioritized with its exponent.
func (s *Prioritized) Options() Options {
	return Options{Prioritized: &PrioritizedOptions{PriorityExponent: s.priorityExponent}}
}

func (s *Prioritized) weight(priority float64) (float64, error) {
	if priority < 0 || math.IsNaN(priority) {
		return 0, fmt.Errorf("selectors: priority must be non-negative, got %f", priority)
	}
	if priority == 0 {
		return 0, nil
	}
	return math.Pow(priority, s.priorityExponent), nil
}

// nodeValue is the weight of node i without its descendants.
func (s *Prioritized) nodeValue(i int) float64 {
	return s.nodes[i].sum - s.nodeSum(2*i+1) - s.nodeSum(2*i+2)
}

// nodeSum is the subtree sum of node i, or 0 when i is out of bounds.
func (s *Prioritized) nodeSum(i int) float64 {
	if i >= len(s.nodes) {
		return 0
	}
	return s.nodes[i].sum
}

// setNode sets the weight of node i, propagating the change to all its
// ancestors.
func (s *Prioritized) setNode(i int, w float64) {
	delta := w - s.nodeValue(i)
	for {
		s.nodes[i].sum += delta
		if i == 0 {
			return
		}
		i = (i - 1) / 2
	}
}
