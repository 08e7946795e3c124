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

// keyList implements a doubly linked list of keys. It is based on Go's
// built-in list.List, but simplified to remove allocations when moving
// elements and to carry a one-word payload (the key) per element. Unlike the built-in list,
// this struct must be initialized prior to use.
type keyList struct {
	// Internally a list l is implemented as a ring, such that root is
	// both the next element of l.back() and the previous element of
	// l.front().
	root keyElement

	// Current list length excluding the root.
	len int
}

// newKeyList returns an initialized list.
func newKeyList() *keyList { return new(keyList).init() }

// init initializes or clears the list.
func (l *keyList) init() *keyList {
	l.root.next = &l.root
	l.root.prev = &l.root
	l.len = 0
	return l
}

// front returns the first element of the list or nil if the list is empty.
func (l *keyList) front() *keyElement {
	if l.len == 0 {
		return nil
	}
	return l.root.next
}

// back returns the last element of the list or nil if the list is empty.
func (l *keyList) back() *keyElement {
	if l.len == 0 {
		return nil
	}
	return l.root.prev
}

// pushBack appends an element to the list.
func (l *keyList) pushBack(e *keyElement) {
	if e.list != nil {
		e.remove()
	}
	e.prev = l.root.prev
	e.next = &l.root
	l.root.prev = e
	e.prev.next = e
	e.list = l
	l.len++
}

// keyElement is a node within a linked list.
type keyElement struct {
	next, prev *keyElement
	list       *keyList

	key uint64
}

// remove removes an element from its list.
func (e *keyElement) remove() {
	if e.list == nil {
		return
	}

	e.list.len--
	e.prev.next = e.next
	e.next.prev = e.prev
	e.next = nil
	e.prev = nil
	e.list = nil
}
