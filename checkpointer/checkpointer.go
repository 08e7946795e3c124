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

// Package checkpointer persists table snapshots to disk and
// reconstructs tables from them.
//
// Each checkpoint is a directory under the configured root, named by
// its creation time in milliseconds so that lexicographic order is
// creation order. A checkpoint holds three record files (tables, items
// and chunks, one JSON record per line) and a DONE marker written last.
// The marker carries an xxhash digest of every record file; a directory
// without a DONE marker, or whose digests don't match, is never loaded.
package checkpointer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/HyeonJungHam/reverb"
	"github.com/HyeonJungHam/reverb/chunkstore"
	"github.com/HyeonJungHam/reverb/selectors"
)

const (
	tablesFileName = "tables.json"
	itemsFileName  = "items.json"
	chunksFileName = "chunks.json"
	doneFileName   = "DONE"
)

// Config holds the construction parameters of a checkpointer.
type Config struct {
	// RootDir is the directory checkpoints are written under. Created
	// if missing.
	RootDir string
	// FallbackPath, when non-empty, is loaded by LoadLatest when the
	// root holds no complete checkpoint. Typically a checkpoint
	// produced by another experiment to warm-start from.
	FallbackPath string
	// Keep is how many complete checkpoints to retain; older ones are
	// removed after a successful Save. Zero or negative keeps all.
	Keep int
	// ExtensionsFor, when set, supplies the extensions to attach to a
	// reconstructed table. After all tables of a checkpoint are loaded,
	// every attached extension receives OnCheckpointLoaded so it can
	// re-bind to peer tables.
	ExtensionsFor func(tableName string) []reverb.TableExtension
}

// Checkpointer writes and reads checkpoint directories.
type Checkpointer struct {
	config Config
}

// New creates a checkpointer rooted at config.RootDir.
func New(config *Config) (*Checkpointer, error) {
	if config.RootDir == "" {
		return nil, errors.New("checkpointer: root dir must not be empty")
	}
	if err := os.MkdirAll(config.RootDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "checkpointer: creating root dir")
	}
	return &Checkpointer{config: *config}, nil
}

// doneMarker is the content of the DONE file.
type doneMarker struct {
	CheckpointID string            `json:"checkpoint_id"`
	CreatedAt    time.Time         `json:"created_at"`
	Digests      map[string]uint64 `json:"digests"`
}

// itemRecord is one line of the items file.
type itemRecord struct {
	Table string                `json:"table"`
	Item  reverb.CheckpointItem `json:"item"`
}

// Save writes a new checkpoint of the given tables and returns its
// path. Chunk payloads are read from the store; every chunk referenced
// by an item must still be resident.
func (c *Checkpointer) Save(store *chunkstore.Store, tables []*reverb.Table) (string, error) {
	unlock, err := lockDir(c.config.RootDir)
	if err != nil {
		return "", errors.Wrap(err, "checkpointer: locking root dir")
	}
	defer unlock()

	// Tables are snapshotted one by one; each snapshot is internally
	// consistent, which is all a restore needs.
	ckpts := make([]reverb.TableCheckpoint, 0, len(tables))
	var chunkKeys []uint64
	seen := make(map[uint64]bool)
	for _, t := range tables {
		ckpt := t.Checkpoint()
		for _, item := range ckpt.Items {
			for _, key := range item.ChunkKeys {
				if !seen[key] {
					seen[key] = true
					chunkKeys = append(chunkKeys, key)
				}
			}
		}
		ckpts = append(ckpts, ckpt)
	}

	chunks, err := store.Get(chunkKeys)
	if err != nil {
		return "", errors.Wrap(err, "checkpointer: collecting chunks")
	}
	defer func() {
		for _, chunk := range chunks {
			chunk.Release()
		}
	}()

	dir := filepath.Join(c.config.RootDir, fmt.Sprintf("%013d", time.Now().UnixMilli()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "checkpointer: creating checkpoint dir")
	}

	digests := make(map[string]uint64)

	tableRecords := make([]any, 0, len(ckpts))
	itemRecords := make([]any, 0)
	for _, ckpt := range ckpts {
		for _, item := range ckpt.Items {
			itemRecords = append(itemRecords, itemRecord{Table: ckpt.TableName, Item: item})
		}
		ckpt.Items = nil
		tableRecords = append(tableRecords, ckpt)
	}
	chunkRecords := make([]any, 0, len(chunks))
	for _, chunk := range chunks {
		chunkRecords = append(chunkRecords, chunk.Data())
	}

	for name, records := range map[string][]any{
		tablesFileName: tableRecords,
		itemsFileName:  itemRecords,
		chunksFileName: chunkRecords,
	} {
		digest, err := writeRecords(filepath.Join(dir, name), records)
		if err != nil {
			return "", err
		}
		digests[name] = digest
	}

	done := doneMarker{
		CheckpointID: uuid.NewString(),
		CreatedAt:    time.Now().UTC(),
		Digests:      digests,
	}
	if err := writeDone(dir, done); err != nil {
		return "", err
	}

	c.removeStaleCheckpoints(dir)
	slog.Info("reverb: checkpoint written",
		"path", dir, "tables", len(tables), "chunks", len(chunks), "id", done.CheckpointID)
	return dir, nil
}

// Load reconstructs the tables of the checkpoint at path. The chunk
// payloads are inserted into the store; their residency is handed over
// to the reconstructed items.
func (c *Checkpointer) Load(path string, store *chunkstore.Store) ([]*reverb.Table, error) {
	slog.Info("reverb: loading checkpoint", "path", path)
	done, err := readDone(path)
	if err != nil {
		return nil, err
	}
	for name, want := range done.Digests {
		got, err := fileDigest(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		if got != want {
			return nil, errors.Errorf(
				"checkpointer: digest mismatch for %s in %s: got %x, want %x", name, path, got, want)
		}
	}

	// Chunks first, so items can take their shares.
	var loaderShares []*chunkstore.Chunk
	err = readRecords(filepath.Join(path, chunksFileName), func(raw []byte) error {
		var data chunkstore.ChunkData
		if err := json.Unmarshal(raw, &data); err != nil {
			return errors.Wrap(err, "checkpointer: decoding chunk record")
		}
		loaderShares = append(loaderShares, store.Insert(data))
		return nil
	})
	// The loader's own shares are dropped once all items hold theirs;
	// chunks nothing references leave the store right here.
	defer func() {
		for _, chunk := range loaderShares {
			chunk.Release()
		}
	}()
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*reverb.Table)
	var tables []*reverb.Table
	err = readRecords(filepath.Join(path, tablesFileName), func(raw []byte) error {
		var ckpt reverb.TableCheckpoint
		if err := json.Unmarshal(raw, &ckpt); err != nil {
			return errors.Wrap(err, "checkpointer: decoding table record")
		}
		table, err := c.reconstructTable(ckpt)
		if err != nil {
			return err
		}
		byName[table.Name()] = table
		tables = append(tables, table)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = readRecords(filepath.Join(path, itemsFileName), func(raw []byte) error {
		var record itemRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return errors.Wrap(err, "checkpointer: decoding item record")
		}
		table, ok := byName[record.Table]
		if !ok {
			return errors.Errorf("checkpointer: item for unknown table %q", record.Table)
		}
		chunks, err := store.Get(record.Item.ChunkKeys)
		if err != nil {
			return errors.Wrapf(err, "checkpointer: chunks of item %d", record.Item.Key)
		}
		return table.InsertCheckpointItem(reverb.Item{
			Key:           record.Item.Key,
			Priority:      record.Item.Priority,
			InsertedAt:    record.Item.InsertedAt,
			TimesSampled:  record.Item.TimesSampled,
			SequenceRange: record.Item.SequenceRange,
			Chunks:        chunks,
		})
	})
	if err != nil {
		return nil, err
	}

	for _, table := range tables {
		for _, ext := range table.Extensions() {
			ext.OnCheckpointLoaded(tables)
		}
	}
	return tables, nil
}

// LoadLatest loads the newest complete checkpoint under the root, or
// the fallback checkpoint when the root holds none.
func (c *Checkpointer) LoadLatest(store *chunkstore.Store) ([]*reverb.Table, error) {
	if path, ok := c.latestCheckpoint(); ok {
		return c.Load(path, store)
	}
	if c.config.FallbackPath != "" {
		slog.Info("reverb: no checkpoint in root dir, loading fallback",
			"root", c.config.RootDir, "fallback", c.config.FallbackPath)
		return c.Load(c.config.FallbackPath, store)
	}
	return nil, errors.Errorf("checkpointer: no complete checkpoint under %s", c.config.RootDir)
}

func (c *Checkpointer) reconstructTable(ckpt reverb.TableCheckpoint) (*reverb.Table, error) {
	sampler, err := selectors.NewFromOptions(ckpt.Sampler)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpointer: sampler of table %q", ckpt.TableName)
	}
	remover, err := selectors.NewFromOptions(ckpt.Remover)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpointer: remover of table %q", ckpt.TableName)
	}
	limiter, err := reverb.NewRateLimiterFromCheckpoint(ckpt.RateLimiter)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpointer: rate limiter of table %q", ckpt.TableName)
	}
	var exts []reverb.TableExtension
	if c.config.ExtensionsFor != nil {
		exts = c.config.ExtensionsFor(ckpt.TableName)
	}
	table, err := reverb.NewTable(&reverb.TableConfig{
		Name:            ckpt.TableName,
		Sampler:         sampler,
		Remover:         remover,
		MaxSize:         ckpt.MaxSize,
		MaxTimesSampled: ckpt.MaxTimesSampled,
		RateLimiter:     limiter,
		Extensions:      exts,
		Signature:       ckpt.Signature,
	})
	return table, errors.Wrapf(err, "checkpointer: reconstructing table %q", ckpt.TableName)
}

// latestCheckpoint returns the newest directory under the root that has
// a DONE marker.
func (c *Checkpointer) latestCheckpoint() (string, bool) {
	names := c.completeCheckpoints()
	if len(names) == 0 {
		return "", false
	}
	return filepath.Join(c.config.RootDir, names[len(names)-1]), true
}

// completeCheckpoints returns checkpoint directory names in ascending
// creation order.
func (c *Checkpointer) completeCheckpoints() []string {
	entries, err := os.ReadDir(c.config.RootDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(c.config.RootDir, entry.Name(), doneFileName)); err == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names
}

// removeStaleCheckpoints enforces the retention limit, keeping the just
// written checkpoint regardless.
func (c *Checkpointer) removeStaleCheckpoints(current string) {
	if c.config.Keep <= 0 {
		return
	}
	names := c.completeCheckpoints()
	for len(names) > c.config.Keep {
		name := names[0]
		names = names[1:]
		path := filepath.Join(c.config.RootDir, name)
		if path == current {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("reverb: failed to remove stale checkpoint", "path", path, "error", err)
		}
	}
}

// writeRecords writes one JSON record per line and returns the xxhash
// digest of the file contents.
func writeRecords(path string, records []any) (uint64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Wrapf(err, "checkpointer: creating %s", path)
	}
	defer f.Close()

	digest := xxhash.New()
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(io.MultiWriter(w, digest))
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			return 0, errors.Wrapf(err, "checkpointer: encoding record in %s", path)
		}
	}
	if err := w.Flush(); err != nil {
		return 0, errors.Wrapf(err, "checkpointer: flushing %s", path)
	}
	if err := f.Sync(); err != nil {
		return 0, errors.Wrapf(err, "checkpointer: syncing %s", path)
	}
	return digest.Sum64(), nil
}

// readRecords calls fn with each line of the file.
func readRecords(path string, fn func(raw []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "checkpointer: opening %s", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<30)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return errors.Wrapf(scanner.Err(), "checkpointer: reading %s", path)
}

func writeDone(dir string, done doneMarker) error {
	raw, err := json.Marshal(done)
	if err != nil {
		return errors.Wrap(err, "checkpointer: encoding DONE marker")
	}
	path := filepath.Join(dir, doneFileName)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.Wrapf(err, "checkpointer: writing %s", path)
	}
	return nil
}

func readDone(dir string) (doneMarker, error) {
	var done doneMarker
	raw, err := os.ReadFile(filepath.Join(dir, doneFileName))
	if err != nil {
		return done, errors.Wrapf(err, "checkpointer: %s is not a complete checkpoint", dir)
	}
	err = errors.Wrap(json.Unmarshal(raw, &done), "checkpointer: decoding DONE marker")
	return done, err
}

func fileDigest(path string) (uint64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "checkpointer: reading %s", path)
	}
	return xxhash.Sum64(raw), nil
}
