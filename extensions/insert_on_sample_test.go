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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/HyeonJungHam/reverb"
	"github.com/HyeonJungHam/reverb/chunkstore"
	"github.com/HyeonJungHam/reverb/selectors"
)

func makeTable(t *testing.T, name string, maxTimesSampled int32, exts ...reverb.TableExtension) *reverb.Table {
	t.Helper()
	limiter, err := reverb.NewMinSizeRateLimiter(1)
	require.NoError(t, err)
	table, err := reverb.NewTable(&reverb.TableConfig{
		Name:            name,
		Sampler:         selectors.NewFifo(),
		Remover:         selectors.NewFifo(),
		MaxSize:         100,
		MaxTimesSampled: maxTimesSampled,
		RateLimiter:     limiter,
		Extensions:      exts,
	})
	require.NoError(t, err)
	return table
}

func makeItem(s *chunkstore.Store, key reverb.Key, priority float64) reverb.Item {
	chunk := s.Insert(chunkstore.ChunkData{Key: key*100 + 1, Data: []byte("step data")})
	return reverb.Item{
		Key:      key,
		Priority: priority,
		Chunks:   []*chunkstore.Chunk{chunk},
	}
}

func TestCopiesItemOnFirstSample(t *testing.T) {
	store := chunkstore.New()
	target := makeTable(t, "target", 0)
	source := makeTable(t, "source", 0, NewInsertOnSample(target, time.Second))

	require.NoError(t, source.InsertOrAssign(context.Background(), makeItem(store, 3, 123)))

	_, err := source.Sample(context.Background())
	require.NoError(t, err)

	got, ok := target.Get(3)
	require.True(t, ok)
	require.EqualValues(t, 123, got.Priority)
	require.EqualValues(t, 1, got.TimesSampled)
	require.Equal(t, []uint64{301}, got.ChunkKeys())

	// Later samples of the same item are not copied again.
	_, err = source.Sample(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, target.Size())
}

func TestCopySurvivesSourceAutoDelete(t *testing.T) {
	store := chunkstore.New()
	target := makeTable(t, "target", 0)
	source := makeTable(t, "source", 1, NewInsertOnSample(target, time.Second))

	require.NoError(t, source.InsertOrAssign(context.Background(), makeItem(store, 5, 1)))
	_, err := source.Sample(context.Background())
	require.NoError(t, err)

	// The source dropped its only item, but the target holds a live
	// share of the chunk.
	require.Zero(t, source.Size())
	require.EqualValues(t, 1, target.Size())
	chunks, err := store.Get([]uint64{501})
	require.NoError(t, err)
	chunks[0].Release()
}

func TestFailedTargetInsertIsDropped(t *testing.T) {
	store := chunkstore.New()
	target := makeTable(t, "target", 0)
	source := makeTable(t, "source", 0, NewInsertOnSample(target, 50*time.Millisecond))

	target.Close()

	require.NoError(t, source.InsertOrAssign(context.Background(), makeItem(store, 3, 123)))
	_, err := source.Sample(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, source.Size())
}

func TestOnCheckpointLoadedRebindsTarget(t *testing.T) {
	store := chunkstore.New()
	oldTarget := makeTable(t, "target", 0)
	ext := NewInsertOnSample(oldTarget, time.Second)
	source := makeTable(t, "source", 0, ext)

	newTarget := makeTable(t, "target", 0)
	ext.OnCheckpointLoaded([]*reverb.Table{source, newTarget})

	require.NoError(t, source.InsertOrAssign(context.Background(), makeItem(store, 3, 123)))
	_, err := source.Sample(context.Background())
	require.NoError(t, err)

	require.Zero(t, oldTarget.Size())
	require.EqualValues(t, 1, newTarget.Size())

	require.Panics(t, func() { ext.OnCheckpointLoaded([]*reverb.Table{source}) })
}

func TestStringDescribesWiring(t *testing.T) {
	target := makeTable(t, "target", 0)
	ext := NewInsertOnSample(target, time.Second)
	require.Equal(t, "InsertOnSample(source=__UNDEFINED__, target=target)", ext.String())

	makeTable(t, "source", 0, ext)
	require.Equal(t, "InsertOnSample(source=source, target=target)", ext.String())
}
