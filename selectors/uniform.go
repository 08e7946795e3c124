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
	"math/rand/v2"
)

// Uniform samples any of the present keys with equal probability,
// ignoring priorities. Insert and Delete are O(1) by keeping the keys in
// a dense slice and swapping the deleted key with the last one.
type Uniform struct {
	keys    []uint64
	indices map[uint64]int
}

// NewUniform creates an empty uniform selector.
func NewUniform() *Uniform {
	return &Uniform{indices: make(map[uint64]int)}
}

// Insert adds the key to the set. The priority is ignored.
func (s *Uniform) Insert(key uint64, priority float64) error {
	if _, ok := s.indices[key]; ok {
		return fmt.Errorf("selectors: key %d already inserted in uniform", key)
	}
	s.indices[key] = len(s.keys)
	s.keys = append(s.keys, key)
	return nil
}

// Delete removes the key by swapping it with the last key in the dense
// slice.
func (s *Uniform) Delete(key uint64) error {
	i, ok := s.indices[key]
	if !ok {
		return fmt.Errorf("selectors: key %d not found in uniform", key)
	}
	last := len(s.keys) - 1
	s.keys[i] = s.keys[last]
	s.indices[s.keys[i]] = i
	s.keys = s.keys[:last]
	delete(s.indices, key)
	return nil
}

// Update is a no-op on the priority but verifies that the key exists.
func (s *Uniform) Update(key uint64, priority float64) error {
	if _, ok := s.indices[key]; !ok {
		return fmt.Errorf("selectors: key %d not found in uniform", key)
	}
	return nil
}

// Sample returns a key chosen uniformly at random, with probability 1/n.
func (s *Uniform) Sample() KeyWithProbability {
	if len(s.keys) == 0 {
		panic("selectors: Sample called on empty uniform")
	}
	return KeyWithProbability{
		Key:         s.keys[rand.IntN(len(s.keys))],
		Probability: 1 / float64(len(s.keys)),
	}
}

// Len returns the number of keys in the set.
func (s *Uniform) Len() int { return len(s.keys) }

// Clear drops all keys.
func (s *Uniform) Clear() {
	s.keys = s.keys[:0]
	s.indices = make(map[uint64]int)
}

// Options identifies this selector as uniform.
func (s *Uniform) Options() Options { return Options{Uniform: true} }
