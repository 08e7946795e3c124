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

// Reverb is an in-process prioritized replay buffer. Tables store
// variable-length trajectory items and hand them back to clients under
// pluggable sampling and eviction policies, while a rate limiter couples
// insertion throughput with sampling throughput.
package reverb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/HyeonJungHam/reverb/chunkstore"
	"github.com/HyeonJungHam/reverb/selectors"
)

// Table is the concurrent container at the core of a replay server. It
// owns the items, a sampler selector picking what Sample returns, a
// remover selector picking eviction victims, a rate limiter gating
// admission, and a list of extensions.
//
// A single mutex guards all mutable state. Blocked InsertOrAssign and
// Sample calls release the lock while waiting on the rate limiter and
// re-check their predicate under the lock on every state change.
type Table struct {
	mu sync.Mutex

	name            string
	sampler         selectors.Selector
	remover         selectors.Selector
	maxSize         int64
	maxTimesSampled int32
	limiter         *RateLimiter
	signature       []byte

	entries    map[Key]*tableItem
	order      itemList
	extensions []TableExtension
	closed     bool

	// Metrics are cumulative for the lifetime of the table; Reset does
	// not clear them.
	Metrics *Metrics
}

// TableConfig holds the construction parameters of a table.
type TableConfig struct {
	// Name identifies the table in RPCs, checkpoints and extension
	// wiring.
	Name string
	// Sampler picks the item returned by Sample.
	Sampler selectors.Selector
	// Remover picks the eviction victim when an insert overflows
	// MaxSize.
	Remover selectors.Selector
	// MaxSize is the capacity of the table. Must be positive.
	MaxSize int64
	// MaxTimesSampled, when positive, removes an item once it has been
	// sampled that many times. Zero or negative disables the
	// auto-delete.
	MaxTimesSampled int32
	// RateLimiter gates Sample and Insert admission. A limiter can only
	// serve one table.
	RateLimiter *RateLimiter
	// Extensions to attach at construction.
	Extensions []TableExtension
	// Signature is an opaque blob preserved verbatim by checkpoints.
	Signature []byte
}

// NewTable creates a table. The sampler, remover and rate limiter become
// owned by the table and must not be shared.
func NewTable(config *TableConfig) (*Table, error) {
	switch {
	case config.Name == "":
		return nil, errors.New("reverb: table name must not be empty")
	case config.Sampler == nil:
		return nil, errors.New("reverb: sampler must not be nil")
	case config.Remover == nil:
		return nil, errors.New("reverb: remover must not be nil")
	case config.MaxSize <= 0:
		return nil, fmt.Errorf("reverb: max size must be positive, got %d", config.MaxSize)
	case config.RateLimiter == nil:
		return nil, errors.New("reverb: rate limiter must not be nil")
	}

	t := &Table{
		name:            config.Name,
		sampler:         config.Sampler,
		remover:         config.Remover,
		maxSize:         config.MaxSize,
		maxTimesSampled: config.MaxTimesSampled,
		limiter:         config.RateLimiter,
		signature:       config.Signature,
		entries:         make(map[Key]*tableItem),
		Metrics:         newMetrics(),
	}
	t.order.init()
	if err := t.limiter.register(&t.mu); err != nil {
		return nil, err
	}
	for _, ext := range config.Extensions {
		t.extensions = append(t.extensions, ext)
		ext.AfterRegister(t)
	}
	return t, nil
}

// Name returns the name of the table.
func (t *Table) Name() string { return t.name }

// MaxSize returns the capacity of the table.
func (t *Table) MaxSize() int64 { return t.maxSize }

// MaxTimesSampled returns the auto-delete threshold, or a non-positive
// value when disabled.
func (t *Table) MaxTimesSampled() int32 { return t.maxTimesSampled }

// Size returns the current number of items.
func (t *Table) Size() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(len(t.entries))
}

// InsertOrAssign inserts the item, or replaces its priority and chunks
// if the key is already present.
//
// An insert of a new key waits for the rate limiter's insert gate to
// open; when the gate opens the presence check is repeated, and a key
// that appeared while waiting turns the call into an assignment without
// consuming the insert right. An insert that overflows MaxSize first
// evicts the remover's pick.
//
// The table takes ownership of the item's chunk shares, including on
// failure. Returns ErrTableClosed after Close and the context error on
// deadline expiry.
func (t *Table) InsertOrAssign(ctx context.Context, item Item) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := validatePriority(item.Priority); err != nil {
		releaseChunks(item.Chunks)
		return err
	}
	if t.closed {
		releaseChunks(item.Chunks)
		return ErrTableClosed
	}

	if entry, ok := t.entries[item.Key]; ok {
		return t.assignLocked(entry, item)
	}

	if err := t.limiter.awaitCanInsert(ctx); err != nil {
		releaseChunks(item.Chunks)
		return err
	}

	// The key may have been inserted by another caller while this one
	// was blocked; it is then an assignment and the insert right stays
	// unconsumed.
	if entry, ok := t.entries[item.Key]; ok {
		return t.assignLocked(entry, item)
	}

	if int64(len(t.entries)) >= t.maxSize {
		victim := t.remover.Sample()
		evicted := t.removeLocked(victim.Key, itemEvict)
		releaseChunks(evicted.item.Chunks)
	}

	entry := &tableItem{item: item}
	// TimesSampled is carried over as given; the insert-on-sample
	// extension relies on inserting items that already count one
	// sample.
	entry.item.InsertedAt = time.Now()

	t.eachExtension("BeforeInsert", func(ext TableExtension) {
		ext.BeforeInsert(t.extensionItem(entry))
	})

	if err := t.sampler.Insert(entry.item.Key, entry.item.Priority); err != nil {
		panic(fmt.Sprintf("reverb: sampler rejected new key %d: %v", entry.item.Key, err))
	}
	if err := t.remover.Insert(entry.item.Key, entry.item.Priority); err != nil {
		panic(fmt.Sprintf("reverb: remover rejected new key %d: %v", entry.item.Key, err))
	}
	t.entries[entry.item.Key] = entry
	t.order.pushBack(entry)

	t.eachExtension("AfterInsert", func(ext TableExtension) {
		ext.AfterInsert(t.extensionItem(entry))
	})

	t.Metrics.add(itemInsert, 1)
	t.limiter.insert()
	return nil
}

// assignLocked replaces the priority and chunks of an existing entry.
// InsertedAt and TimesSampled are preserved and no insert right is
// consumed.
func (t *Table) assignLocked(entry *tableItem, item Item) error {
	entry.item.Priority = item.Priority
	entry.item.SequenceRange = item.SequenceRange
	old := entry.item.Chunks
	entry.item.Chunks = item.Chunks

	t.updateSelectorsLocked(entry.item.Key, entry.item.Priority)
	t.eachExtension("OnUpdate", func(ext TableExtension) {
		ext.OnUpdate(t.extensionItem(entry))
	})
	t.Metrics.add(itemAssign, 1)
	releaseChunks(old)
	return nil
}

// Sample blocks until the rate limiter's sample gate opens, then returns
// the sampler's pick. The item's TimesSampled is incremented first; an
// item that reaches MaxTimesSampled through this call is removed before
// the call returns. Returns ErrTableClosed after Close and the context
// error on deadline expiry.
func (t *Table) Sample(ctx context.Context) (SampledItem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return SampledItem{}, ErrTableClosed
	}
	size := func() int64 { return int64(len(t.entries)) }
	if err := t.limiter.awaitCanSample(ctx, size); err != nil {
		return SampledItem{}, err
	}

	picked := t.sampler.Sample()
	entry, ok := t.entries[picked.Key]
	if !ok {
		panic(fmt.Sprintf("reverb: sampler returned key %d not present in table %q", picked.Key, t.name))
	}
	entry.item.TimesSampled++

	sampled := SampledItem{
		Item:        entry.item.snapshot(),
		Probability: picked.Probability,
		TableSize:   int64(len(t.entries)),
	}

	var removed *tableItem
	if t.maxTimesSampled > 0 && entry.item.TimesSampled >= t.maxTimesSampled {
		removed = t.removeLocked(entry.item.Key, itemDelete)
	} else {
		t.updateSelectorsLocked(entry.item.Key, entry.item.Priority)
	}

	t.eachExtension("OnSample", func(ext TableExtension) {
		ext.OnSample(t.extensionItem(entry))
	})
	if removed != nil {
		// Held until after the hooks so extensions can still clone the
		// chunk shares.
		releaseChunks(removed.item.Chunks)
	}

	t.Metrics.add(itemSample, 1)
	t.limiter.sample()
	return sampled, nil
}

// MutateItems applies the priority updates and then the deletions, in
// order. Updates and deletes whose key is not present are silently
// skipped; the call never blocks on the rate limiter and the limiter
// counters are not touched.
func (t *Table) MutateItems(updates []PriorityUpdate, deletes []Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTableClosed
	}
	for _, u := range updates {
		if err := validatePriority(u.Priority); err != nil {
			return err
		}
		entry, ok := t.entries[u.Key]
		if !ok {
			continue
		}
		entry.item.Priority = u.Priority
		t.updateSelectorsLocked(u.Key, u.Priority)
		t.eachExtension("OnUpdate", func(ext TableExtension) {
			ext.OnUpdate(t.extensionItem(entry))
		})
		t.Metrics.add(itemUpdate, 1)
	}
	for _, key := range deletes {
		if _, ok := t.entries[key]; !ok {
			continue
		}
		removed := t.removeLocked(key, itemDelete)
		releaseChunks(removed.item.Chunks)
	}
	return nil
}

// Get looks up an item by key without blocking. No counters are updated
// and no hooks run.
func (t *Table) Get(key Key) (Item, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	if !ok {
		return Item{}, false
	}
	return entry.item.snapshot(), true
}

// Copy returns snapshots of up to n items in insertion order. n of zero
// or less returns all items.
func (t *Table) Copy(n int) []Item {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := t.order.len
	if n > 0 && n < count {
		count = n
	}
	items := make([]Item, 0, count)
	for e := t.order.front(); e != nil && len(items) < count; e = e.nextInOrder() {
		items = append(items, e.item.snapshot())
	}
	return items
}

// Reset clears the items, both selectors and the rate limiter counters,
// and wakes all blocked operations. Waiters whose predicate is still
// unsatisfied continue waiting.
func (t *Table) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTableClosed
	}
	for _, entry := range t.entries {
		releaseChunks(entry.item.Chunks)
	}
	t.entries = make(map[Key]*tableItem)
	t.order.init()
	t.sampler.Clear()
	t.remover.Clear()
	t.limiter.reset()
	t.eachExtension("OnReset", func(ext TableExtension) {
		ext.OnReset()
	})
	t.Metrics.add(tableReset, 1)
	return nil
}

// Close puts the table in its terminal state: pending blocked calls
// return ErrTableClosed, as do all later InsertOrAssign, Sample,
// MutateItems, Reset and InsertCheckpointItem calls. The read-only
// accessors (Get, Copy, Size, Checkpoint, Info) keep working. Idempotent.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	t.limiter.cancel()
	t.eachExtension("BeforeUnregister", func(ext TableExtension) {
		ext.BeforeUnregister(t)
	})
}

// Checkpoint captures a consistent snapshot of the table: items in
// insertion order with their chunk keys, the selector configurations and
// the rate limiter counters.
func (t *Table) Checkpoint() TableCheckpoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	ckpt := TableCheckpoint{
		TableName:       t.name,
		MaxSize:         t.maxSize,
		MaxTimesSampled: t.maxTimesSampled,
		Sampler:         t.sampler.Options(),
		Remover:         t.remover.Options(),
		RateLimiter:     t.limiter.checkpoint(),
		Items:           make([]CheckpointItem, 0, t.order.len),
		Signature:       append([]byte(nil), t.signature...),
	}
	for e := t.order.front(); e != nil; e = e.nextInOrder() {
		ckpt.Items = append(ckpt.Items, CheckpointItem{
			Key:           e.item.Key,
			Priority:      e.item.Priority,
			InsertedAt:    e.item.InsertedAt,
			TimesSampled:  e.item.TimesSampled,
			SequenceRange: e.item.SequenceRange,
			ChunkKeys:     e.item.ChunkKeys(),
		})
	}
	return ckpt
}

// InsertCheckpointItem adds an item during checkpoint restoration,
// bypassing the rate limiter, the extensions and the metrics. The
// limiter counters are restored separately through its checkpoint.
func (t *Table) InsertCheckpointItem(item Item) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTableClosed
	}
	if _, ok := t.entries[item.Key]; ok {
		return fmt.Errorf("reverb: checkpoint item %d already present in table %q", item.Key, t.name)
	}
	if int64(len(t.entries)) >= t.maxSize {
		return fmt.Errorf("reverb: checkpoint overflows table %q (max size %d)", t.name, t.maxSize)
	}
	if err := t.sampler.Insert(item.Key, item.Priority); err != nil {
		return err
	}
	if err := t.remover.Insert(item.Key, item.Priority); err != nil {
		return err
	}
	entry := &tableItem{item: item}
	t.entries[item.Key] = entry
	t.order.pushBack(entry)
	return nil
}

// UnsafeAddExtension attaches an extension to the table. It may only be
// called while the table is empty; violating this is a programming error
// and panics.
func (t *Table) UnsafeAddExtension(ext TableExtension) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) != 0 {
		panic(fmt.Sprintf("reverb: UnsafeAddExtension called on non-empty table %q", t.name))
	}
	t.extensions = append(t.extensions, ext)
	ext.AfterRegister(t)
}

// Extensions returns the attached extensions.
func (t *Table) Extensions() []TableExtension {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TableExtension(nil), t.extensions...)
}

// TableInfo is a point-in-time summary of a table, cheap enough for
// periodic scraping.
type TableInfo struct {
	Name             string
	Size             int64
	MaxSize          int64
	MaxTimesSampled  int32
	InsertCount      uint64
	SampleCount      uint64
	SamplesPerInsert float64
	MinSizeToSample  int64
	MinDiff          float64
	MaxDiff          float64
}

// Info returns a summary snapshot of the table and its rate limiter.
func (t *Table) Info() TableInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TableInfo{
		Name:             t.name,
		Size:             int64(len(t.entries)),
		MaxSize:          t.maxSize,
		MaxTimesSampled:  t.maxTimesSampled,
		InsertCount:      t.limiter.insertCount,
		SampleCount:      t.limiter.sampleCount,
		SamplesPerInsert: t.limiter.samplesPerInsert,
		MinSizeToSample:  t.limiter.minSizeToSample,
		MinDiff:          t.limiter.minDiff,
		MaxDiff:          t.limiter.maxDiff,
	}
}

// removeLocked takes the entry out of the map, the order list and both
// selectors, and runs the OnDelete hooks. The caller is responsible for
// releasing the entry's chunk shares once no hook needs them anymore.
func (t *Table) removeLocked(key Key, reason metricType) *tableItem {
	entry, ok := t.entries[key]
	if !ok {
		panic(fmt.Sprintf("reverb: removal of key %d not present in table %q", key, t.name))
	}
	if err := t.sampler.Delete(key); err != nil {
		panic(fmt.Sprintf("reverb: sampler lost key %d of table %q: %v", key, t.name, err))
	}
	if err := t.remover.Delete(key); err != nil {
		panic(fmt.Sprintf("reverb: remover lost key %d of table %q: %v", key, t.name, err))
	}
	delete(t.entries, key)
	entry.remove()

	t.eachExtension("OnDelete", func(ext TableExtension) {
		ext.OnDelete(t.extensionItem(entry))
	})
	t.Metrics.add(reason, 1)
	t.limiter.wake()
	return entry
}

// updateSelectorsLocked refreshes the priority of a present key in both
// selectors. Failure means the key sets have diverged, which is an
// invariant violation.
func (t *Table) updateSelectorsLocked(key Key, priority float64) {
	if err := t.sampler.Update(key, priority); err != nil {
		panic(fmt.Sprintf("reverb: sampler lost key %d of table %q: %v", key, t.name, err))
	}
	if err := t.remover.Update(key, priority); err != nil {
		panic(fmt.Sprintf("reverb: remover lost key %d of table %q: %v", key, t.name, err))
	}
}

func (t *Table) extensionItem(entry *tableItem) ExtensionItem {
	return ExtensionItem{
		Key:          entry.item.Key,
		TimesSampled: entry.item.TimesSampled,
		ref:          &entry.item,
	}
}

// eachExtension runs one hook on every extension. A panicking hook is
// logged at WARN and does not abort the triggering operation.
func (t *Table) eachExtension(hook string, fn func(ext TableExtension)) {
	for _, ext := range t.extensions {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("reverb: table extension hook failed",
						"table", t.name, "hook", hook, "error", r)
				}
			}()
			fn(ext)
		}()
	}
}

func validatePriority(priority float64) error {
	if priority < 0 || math.IsNaN(priority) {
		return fmt.Errorf("reverb: priority must be non-negative, got %f", priority)
	}
	return nil
}

// releaseChunks returns the table's share of each chunk to the store.
func releaseChunks(chunks []*chunkstore.Chunk) {
	for _, c := range chunks {
		c.Release()
	}
}
