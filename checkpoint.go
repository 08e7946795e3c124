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

import (
	"time"

	"github.com/HyeonJungHam/reverb/selectors"
)

// TableCheckpoint is a consistent snapshot of a table, sufficient to
// reconstruct it. It carries chunk keys rather than chunk bytes; the
// chunks themselves are persisted by the chunk store side of the
// checkpointer.
type TableCheckpoint struct {
	TableName       string                `json:"table_name"`
	MaxSize         int64                 `json:"max_size"`
	MaxTimesSampled int32                 `json:"max_times_sampled"`
	Sampler         selectors.Options     `json:"sampler"`
	Remover         selectors.Options     `json:"remover"`
	RateLimiter     RateLimiterCheckpoint `json:"rate_limiter"`
	// Items in insertion order.
	Items     []CheckpointItem `json:"items"`
	Signature []byte           `json:"signature,omitempty"`
}

// CheckpointItem is the persisted form of one item.
type CheckpointItem struct {
	Key           Key           `json:"key"`
	Priority      float64       `json:"priority"`
	InsertedAt    time.Time     `json:"inserted_at"`
	TimesSampled  int32         `json:"times_sampled"`
	SequenceRange SequenceRange `json:"sequence_range"`
	ChunkKeys     []uint64      `json:"chunk_keys"`
}
