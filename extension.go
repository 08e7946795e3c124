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

package reverb

// ExtensionItem is the view of an item handed to extension hooks. The
// underlying item reference is only valid for the duration of the hook;
// Item() takes a copy that may outlive it.
type ExtensionItem struct {
	Key          Key
	TimesSampled int32

	ref *Item
}

// Item reconstructs a full copy of the item. The copy's chunk handles
// are shared with the table; an extension that needs to keep them past
// the hook must Clone each one.
func (e ExtensionItem) Item() Item {
	return e.ref.snapshot()
}

// TableExtension is a side-effect hook attached to a table. All item
// hooks run while holding the table's lock, so they must be quick and
// must never call back into the table that owns them. Posting to a
// different table is the intended pattern. Hooks report failures through
// logging and continue; they cannot abort the triggering operation.
type TableExtension interface {
	// AfterRegister is called once when the extension is attached to a
	// table.
	AfterRegister(t *Table)
	// BeforeUnregister is called once when the extension is detached or
	// the table is torn down.
	BeforeUnregister(t *Table)

	// BeforeInsert runs before the item is added to the table. The
	// table must not be mutated from this hook.
	BeforeInsert(item ExtensionItem)
	// AfterInsert runs after the item has been added to both the
	// sampler and the remover.
	AfterInsert(item ExtensionItem)
	// OnSample runs after TimesSampled has been incremented, and after
	// any auto-delete triggered by this sample.
	OnSample(item ExtensionItem)
	// OnUpdate runs after a priority change.
	OnUpdate(item ExtensionItem)
	// OnDelete runs after the item has been removed from both the
	// sampler and the remover, while the item object still exists.
	OnDelete(item ExtensionItem)
	// OnReset runs after the table has been cleared.
	OnReset()

	// OnCheckpointLoaded is called by the checkpointer after all tables
	// of a checkpoint have been reconstructed, so extensions can
	// re-bind to peer tables by name.
	OnCheckpointLoaded(tables []*Table)
}
