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

import (
	"time"

	"github.com/HyeonJungHam/reverb/chunkstore"
)

// Key identifies an item within a table. Keys are assigned by the client
// and are not reused after deletion unless the client chooses to.
type Key = uint64

// SequenceRange describes the extent of an item over the episode steps
// stored in its chunks.
type SequenceRange struct {
	EpisodeID uint64 `json:"episode_id"`
	Start     int32  `json:"start"`
	End       int32  `json:"end"`
}

// Item is the unit of storage in a table. The table holds one chunk
// store share per referenced chunk; those shares are dropped when the
// item is destroyed.
type Item struct {
	Key      Key
	Priority float64
	// InsertedAt is set on the first successful insertion and preserved
	// by assignments.
	InsertedAt time.Time
	// TimesSampled is incremented by every Sample that returns this
	// item.
	TimesSampled  int32
	SequenceRange SequenceRange
	Chunks        []*chunkstore.Chunk
}

// ChunkKeys returns the keys of the referenced chunks, in order.
func (i *Item) ChunkKeys() []uint64 {
	keys := make([]uint64, len(i.Chunks))
	for j, c := range i.Chunks {
		keys[j] = c.Key()
	}
	return keys
}

// snapshot returns a copy of the item that stays valid after the table
// mutates or destroys the original. Chunk handles are shared, not
// cloned; the chunk payloads stay readable regardless of store
// residency.
func (i *Item) snapshot() Item {
	out := *i
	out.Chunks = append([]*chunkstore.Chunk(nil), i.Chunks...)
	return out
}

// SampledItem is the result of a Sample call.
type SampledItem struct {
	Item Item
	// Probability with which this call chose Item, as reported by the
	// sampler at the moment of sampling.
	Probability float64
	// TableSize is the size of the table at the moment of sampling,
	// before any auto-delete triggered by this sample.
	TableSize int64
}

// PriorityUpdate assigns a new priority to an existing key. Used by
// MutateItems.
type PriorityUpdate struct {
	Key      Key
	Priority float64
}
