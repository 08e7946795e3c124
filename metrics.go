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

package reverb

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

type metricType int

const (
	// The following keep track of the item lifecycle.
	itemInsert = iota
	itemAssign
	itemUpdate
	itemSample
	itemDelete
	itemEvict
	// The number of times the table has been reset.
	tableReset
	// This should be the final enum. Other enums should be set before this.
	doNotUse
)

func stringFor(t metricType) string {
	switch t {
	case itemInsert:
		return "items-inserted"
	case itemAssign:
		return "items-assigned"
	case itemUpdate:
		return "items-updated"
	case itemSample:
		return "items-sampled"
	case itemDelete:
		return "items-deleted"
	case itemEvict:
		return "items-evicted"
	case tableReset:
		return "resets"
	default:
		return "unidentified"
	}
}

// Metrics tracks lifecycle statistics for the lifetime of a table
// instance. All counters are cumulative and survive Reset.
type Metrics struct {
	all [doNotUse]uint64
}

func newMetrics() *Metrics {
	return &Metrics{}
}

func (p *Metrics) add(t metricType, delta uint64) {
	if p == nil {
		return
	}
	atomic.AddUint64(&p.all[t], delta)
}

func (p *Metrics) get(t metricType) uint64 {
	if p == nil {
		return 0
	}
	return atomic.LoadUint64(&p.all[t])
}

// ItemsInserted is the number of successful first insertions.
func (p *Metrics) ItemsInserted() uint64 {
	return p.get(itemInsert)
}

// ItemsAssigned is the number of InsertOrAssign calls that found the key
// already present and replaced it.
func (p *Metrics) ItemsAssigned() uint64 {
	return p.get(itemAssign)
}

// ItemsUpdated is the number of priority updates applied through
// MutateItems.
func (p *Metrics) ItemsUpdated() uint64 {
	return p.get(itemUpdate)
}

// ItemsSampled is the number of successful samples.
func (p *Metrics) ItemsSampled() uint64 {
	return p.get(itemSample)
}

// ItemsDeleted is the number of items removed by MutateItems or by the
// maxTimesSampled auto-delete.
func (p *Metrics) ItemsDeleted() uint64 {
	return p.get(itemDelete)
}

// ItemsEvicted is the number of items removed by the remover to make
// room for new insertions.
func (p *Metrics) ItemsEvicted() uint64 {
	return p.get(itemEvict)
}

// Resets is the number of times the table has been reset.
func (p *Metrics) Resets() uint64 {
	return p.get(tableReset)
}

// Clear resets all the metrics.
func (p *Metrics) Clear() {
	if p == nil {
		return
	}
	for i := 0; i < doNotUse; i++ {
		atomic.StoreUint64(&p.all[i], 0)
	}
}

// String returns a string representation of the metrics.
func (p *Metrics) String() string {
	if p == nil {
		return ""
	}
	var buf bytes.Buffer
	for i := 0; i < doNotUse; i++ {
		t := metricType(i)
		fmt.Fprintf(&buf, "%s: %s ", stringFor(t), humanize.Comma(int64(p.get(t))))
	}
	return buf.String()
}
