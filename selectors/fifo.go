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

import "fmt"

// Fifo ignores all priority values. Sample always returns the key that
// was inserted first until that key is deleted. All operations take O(1)
// time.
type Fifo struct {
	keys     *keyList
	elements map[uint64]*keyElement
}

// NewFifo creates an empty fifo selector.
func NewFifo() *Fifo {
	return &Fifo{
		keys:     newKeyList(),
		elements: make(map[uint64]*keyElement),
	}
}

// Insert adds the key at the back of the queue. The priority is ignored.
func (s *Fifo) Insert(key uint64, priority float64) error {
	if _, ok := s.elements[key]; ok {
		return fmt.Errorf("selectors: key %d already inserted in fifo", key)
	}
	e := &keyElement{key: key}
	s.keys.pushBack(e)
	s.elements[key] = e
	return nil
}

// Delete removes the key, which may be anywhere in the queue.
func (s *Fifo) Delete(key uint64) error {
	e, ok := s.elements[key]
	if !ok {
		return fmt.Errorf("selectors: key %d not found in fifo", key)
	}
	e.remove()
	delete(s.elements, key)
	return nil
}

// Update is a no-op on the priority but verifies that the key exists.
func (s *Fifo) Update(key uint64, priority float64) error {
	if _, ok := s.elements[key]; !ok {
		return fmt.Errorf("selectors: key %d not found in fifo", key)
	}
	return nil
}

// Sample returns the least recently inserted key with probability 1.
func (s *Fifo) Sample() KeyWithProbability {
	e := s.keys.front()
	if e == nil {
		panic("selectors: Sample called on empty fifo")
	}
	return KeyWithProbability{Key: e.key, Probability: 1}
}

// Len returns the number of keys in the queue.
func (s *Fifo) Len() int { return s.keys.len }

// Clear drops all keys.
func (s *Fifo) Clear() {
	s.keys.init()
	s.elements = make(map[uint64]*keyElement)
}

// Options identifies this selector as fifo.
func (s *Fifo) Options() Options { return Options{Fifo: true} }
