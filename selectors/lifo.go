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

// Lifo ignores all priority values. Sample always returns the key that
// was inserted last until that key is deleted. All operations take O(1)
// time.
type Lifo struct {
	keys     *keyList
	elements map[uint64]*keyElement
}

// NewLifo creates an empty lifo selector.
func NewLifo() *Lifo {
	return &Lifo{
		keys:     newKeyList(),
		elements: make(map[uint64]*keyElement),
	}
}

// Insert adds the key at the back of the stack. The priority is ignored.
func (s *Lifo) Insert(key uint64, priority float64) error {
	if _, ok := s.elements[key]; ok {
		return fmt.Errorf("selectors: key %d already inserted in lifo", key)
	}
	e := &keyElement{key: key}
	s.keys.pushBack(e)
	s.elements[key] = e
	return nil
}

// Delete removes the key, which may be anywhere in the stack.
func (s *Lifo) Delete(key uint64) error {
	e, ok := s.elements[key]
	if !ok {
		return fmt.Errorf("selectors: key %d not found in lifo", key)
	}
	e.remove()
	delete(s.elements, key)
	return nil
}

// Update is a no-op on the priority but verifies that the key exists.
func (s *Lifo) Update(key uint64, priority float64) error {
	if _, ok := s.elements[key]; !ok {
		return fmt.Errorf("selectors: key %d not found in lifo", key)
	}
	return nil
}

// Sample returns the most recently inserted key with probability 1.
func (s *Lifo) Sample() KeyWithProbability {
	e := s.keys.back()
	if e == nil {
		panic("selectors: Sample called on empty lifo")
	}
	return KeyWithProbability{Key: e.key, Probability: 1}
}

// Len returns the number of keys in the stack.
func (s *Lifo) Len() int { return s.keys.len }

// Clear drops all keys.
func (s *Lifo) Clear() {
	s.keys.init()
	s.elements = make(map[uint64]*keyElement)
}

// Options identifies this selector as lifo.
func (s *Lifo) Options() Options { return Options{Lifo: true} }
