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

// tableItem is a stored item together with its position in the
// insertion-order list. The list links are intrusive so that interior
// deletion is O(1) without allocations.
type tableItem struct {
	item Item

	next, prev *tableItem
	list       *itemList
}

// itemList is a doubly linked list of table items kept in commit order
// of their first insertion. Assignments do not re-order. Internally the
// list is a ring where root is both the next element of back() and the
// previous element of front(). Must be initialized prior to use.
type itemList struct {
	root tableItem
	len  int
}

// init initializes or clears the list.
func (l *itemList) init() *itemList {
	l.root.next = &l.root
	l.root.prev = &l.root
	l.len = 0
	return l
}

// front returns the first element of the list or nil if the list is empty.
func (l *itemList) front() *tableItem {
	if l.len == 0 {
		return nil
	}
	return l.root.next
}

// pushBack appends an element to the list.
func (l *itemList) pushBack(e *tableItem) {
	e.prev = l.root.prev
	e.next = &l.root
	l.root.prev = e
	e.prev.next = e
	e.list = l
	l.len++
}

// nextInOrder returns the element after e in insertion order or nil at
// the end.
func (e *tableItem) nextInOrder() *tableItem {
	if p := e.next; e.list != nil && p != &e.list.root {
		return p
	}
	return nil
}

// remove unlinks the element from its list.
func (e *tableItem) remove() {
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
