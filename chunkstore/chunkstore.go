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

// Package chunkstore holds the trajectory byte chunks referenced by table
// items. The store is content addressed and reference counted: a chunk
// stays resident while at least one share of it is held, and is removed
// from the store when the last share is released. Releasing the last
// share does not invalidate the chunk object itself; holders of a *Chunk
// can keep reading its data.
package chunkstore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgryski/go-farm"
)

const numShards uint64 = 256

// ChunkData is the payload of a chunk together with the metadata needed
// to reassemble trajectories from it.
type ChunkData struct {
	Key uint64 `json:"key"`
	// EpisodeID, Start and End describe the slice of the episode covered
	// by this chunk.
	EpisodeID uint64 `json:"episode_id"`
	Start     int32  `json:"start"`
	End       int32  `json:"end"`
	Data      []byte `json:"data"`
}

// Store is a sharded map from chunk key to chunk. Safe for concurrent
// use.
type Store struct {
	shards []*lockedShard
}

type lockedShard struct {
	mu     sync.Mutex
	chunks map[uint64]*Chunk
}

// Chunk is a reference counted handle to one ChunkData. Shares are
// created with Clone and returned with Release.
type Chunk struct {
	store *Store
	data  ChunkData
	refs  atomic.Int64
}

// New creates an empty store.
func New() *Store {
	s := &Store{shards: make([]*lockedShard, numShards)}
	for i := range s.shards {
		s.shards[i] = &lockedShard{chunks: make(map[uint64]*Chunk)}
	}
	return s
}

// Insert adds the chunk data to the store and returns one share of it. A
// zero key is replaced with the farm fingerprint of the data, making the
// store content addressed for producers that don't assign keys
// themselves. Inserting an already present key returns a new share of the
// resident chunk; the given data is dropped.
func (s *Store) Insert(data ChunkData) *Chunk {
	if data.Key == 0 {
		data.Key = farm.Fingerprint64(data.Data)
	}
	shard := s.shards[data.Key%numShards]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if c, ok := shard.chunks[data.Key]; ok {
		c.refs.Add(1)
		return c
	}
	c := &Chunk{store: s, data: data}
	c.refs.Add(1)
	shard.chunks[data.Key] = c
	return c
}

// Get returns one share of each of the requested chunks. If any key is
// missing, no shares are taken and an error is returned.
func (s *Store) Get(keys []uint64) ([]*Chunk, error) {
	chunks := make([]*Chunk, 0, len(keys))
	for _, key := range keys {
		shard := s.shards[key%numShards]
		shard.mu.Lock()
		c, ok := shard.chunks[key]
		if ok {
			c.refs.Add(1)
		}
		shard.mu.Unlock()
		if !ok {
			for _, taken := range chunks {
				taken.Release()
			}
			return nil, fmt.Errorf("chunkstore: chunk %d not found", key)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// Len returns the number of resident chunks.
func (s *Store) Len() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		n += len(shard.chunks)
		shard.mu.Unlock()
	}
	return n
}

// Key returns the key of the chunk.
func (c *Chunk) Key() uint64 { return c.data.Key }

// Data returns the chunk payload. The returned value must not be
// mutated.
func (c *Chunk) Data() ChunkData { return c.data }

// Clone takes an additional share of the chunk. The caller must already
// hold a live share.
func (c *Chunk) Clone() *Chunk {
	if c.refs.Add(1) <= 1 {
		panic("chunkstore: Clone of a fully released chunk")
	}
	return c
}

// Release returns one share. When the last share is released the chunk
// is removed from the store.
func (c *Chunk) Release() {
	refs := c.refs.Add(-1)
	if refs > 0 {
		return
	}
	if refs < 0 {
		panic("chunkstore: Release called more times than shares taken")
	}
	shard := c.store.shards[c.data.Key%numShards]
	shard.mu.Lock()
	// A concurrent Insert may have revived the key with a new chunk
	// object; only remove our own.
	if cur, ok := shard.chunks[c.data.Key]; ok && cur == c && c.refs.Load() == 0 {
		delete(shard.chunks, c.data.Key)
	}
	shard.mu.Unlock()
}
