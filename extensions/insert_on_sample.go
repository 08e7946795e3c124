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

package extensions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HyeonJungHam/reverb"
	"github.com/HyeonJungHam/reverb/chunkstore"
)

const undefinedName = "__UNDEFINED__"

// InsertOnSample copies an item into a target table when the item is
// sampled for the first time from the source table, i.e. the table that
// owns the extension. The target must be a different table: the hook
// runs under the source table's lock.
//
// Inserts into the target are assumed to succeed; when they don't, the
// copy is dropped and a warning is logged.
type InsertOnSample struct {
	Base

	target *reverb.Table
	// How long OnSample may wait on the target's insert gate before
	// throwing the copy away. Non-positive means block until the insert
	// succeeds; prefer a short timeout when the target can block
	// inserts.
	timeout time.Duration

	// Name of the source table, kept so String does not need its lock.
	sourceName string
}

// NewInsertOnSample creates the extension for the given target table.
func NewInsertOnSample(target *reverb.Table, timeout time.Duration) *InsertOnSample {
	return &InsertOnSample{
		target:     target,
		timeout:    timeout,
		sourceName: undefinedName,
	}
}

// AfterRegister remembers the source table's name.
func (e *InsertOnSample) AfterRegister(t *reverb.Table) {
	e.sourceName = t.Name()
}

// BeforeUnregister forgets the source table.
func (e *InsertOnSample) BeforeUnregister(*reverb.Table) {
	e.sourceName = undefinedName
}

// OnSample inserts a copy of the item into the target table the first
// time the item is sampled.
func (e *InsertOnSample) OnSample(item reverb.ExtensionItem) {
	if item.TimesSampled != 1 {
		return
	}

	// Copy the item, with its own chunk shares. The key and
	// TimesSampled are kept so that the user can send priority updates
	// to the target table straight away; InsertedAt is cleared so the
	// target assigns a fresh one.
	cp := item.Item()
	cp.InsertedAt = time.Time{}
	chunks := make([]*chunkstore.Chunk, len(cp.Chunks))
	for i, c := range cp.Chunks {
		chunks[i] = c.Clone()
	}
	cp.Chunks = chunks

	ctx := context.Background()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err := e.target.InsertOrAssign(ctx, cp); err != nil {
		slog.Warn("reverb: unexpected error when copying sampled item",
			"from", e.sourceName, "to", e.target.Name(), "key", item.Key, "error", err)
	}
}

// OnCheckpointLoaded re-binds the extension to the loaded table with the
// target's name. Missing targets are a wiring bug and panic.
func (e *InsertOnSample) OnCheckpointLoaded(tables []*reverb.Table) {
	for _, t := range tables {
		if t.Name() == e.target.Name() {
			e.target = t
			return
		}
	}
	panic(fmt.Sprintf("extensions: target table %q not found in list of loaded tables", e.target.Name()))
}

// String returns a summary description.
func (e *InsertOnSample) String() string {
	return fmt.Sprintf("InsertOnSample(source=%s, target=%s)", e.sourceName, e.target.Name())
}
