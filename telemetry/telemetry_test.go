/*
 * Copyright 2021 Dgraph Labs, Inc. and Contributors
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

package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/HyeonJungHam/reverb"
	"github.com/HyeonJungHam/reverb/chunkstore"
	"github.com/HyeonJungHam/reverb/selectors"
)

func makeSampledTable(t *testing.T) *reverb.Table {
	t.Helper()
	limiter, err := reverb.NewMinSizeRateLimiter(1)
	require.NoError(t, err)
	table, err := reverb.NewTable(&reverb.TableConfig{
		Name:        "replay",
		Sampler:     selectors.NewUniform(),
		Remover:     selectors.NewFifo(),
		MaxSize:     10,
		RateLimiter: limiter,
	})
	require.NoError(t, err)

	store := chunkstore.New()
	for key := reverb.Key(1); key <= 3; key++ {
		chunk := store.Insert(chunkstore.ChunkData{Key: key, Data: []byte("x")})
		require.NoError(t, table.InsertOrAssign(context.Background(), reverb.Item{
			Key:      key,
			Priority: 1,
			Chunks:   []*chunkstore.Chunk{chunk},
		}))
	}
	_, err = table.Sample(context.Background())
	require.NoError(t, err)
	return table
}

func TestCollectorExposesTableState(t *testing.T) {
	table := makeSampledTable(t)
	c := NewTableCollector(table)

	expected := strings.NewReader(`
# HELP reverb_table_size Current number of items in the table
# TYPE reverb_table_size gauge
reverb_table_size{table="replay"} 3
# HELP reverb_table_max_size Capacity of the table
# TYPE reverb_table_max_size gauge
reverb_table_max_size{table="replay"} 10
# HELP reverb_table_rate_limiter_inserts_total Successful insertions counted by the rate limiter
# TYPE reverb_table_rate_limiter_inserts_total counter
reverb_table_rate_limiter_inserts_total{table="replay"} 3
# HELP reverb_table_rate_limiter_samples_total Successful samples counted by the rate limiter
# TYPE reverb_table_rate_limiter_samples_total counter
reverb_table_rate_limiter_samples_total{table="replay"} 1
`)
	require.NoError(t, testutil.CollectAndCompare(c, expected,
		"reverb_table_size",
		"reverb_table_max_size",
		"reverb_table_rate_limiter_inserts_total",
		"reverb_table_rate_limiter_samples_total"))

	// Eight series per table in total.
	require.Equal(t, 8, testutil.CollectAndCount(c))
}

func TestHandlerServesMetrics(t *testing.T) {
	table := makeSampledTable(t)

	server := httptest.NewServer(Handler(table))
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `reverb_table_size{table="replay"} 3`)
	require.Contains(t, string(body), `reverb_table_items_sampled_total{table="replay"} 1`)
}
