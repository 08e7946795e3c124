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

// Package telemetry exposes table statistics as Prometheus metrics.
// When metrics are already exposed elsewhere, register a TableCollector
// with the existing registry; Serve starts a dedicated /metrics
// endpoint otherwise.
package telemetry

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HyeonJungHam/reverb"
)

var (
	sizeDesc = prometheus.NewDesc(
		"reverb_table_size",
		"Current number of items in the table",
		[]string{"table"}, nil)
	maxSizeDesc = prometheus.NewDesc(
		"reverb_table_max_size",
		"Capacity of the table",
		[]string{"table"}, nil)
	insertCountDesc = prometheus.NewDesc(
		"reverb_table_rate_limiter_inserts_total",
		"Successful insertions counted by the rate limiter",
		[]string{"table"}, nil)
	sampleCountDesc = prometheus.NewDesc(
		"reverb_table_rate_limiter_samples_total",
		"Successful samples counted by the rate limiter",
		[]string{"table"}, nil)
	insertedDesc = prometheus.NewDesc(
		"reverb_table_items_inserted_total",
		"Lifetime number of first insertions",
		[]string{"table"}, nil)
	sampledDesc = prometheus.NewDesc(
		"reverb_table_items_sampled_total",
		"Lifetime number of samples",
		[]string{"table"}, nil)
	deletedDesc = prometheus.NewDesc(
		"reverb_table_items_deleted_total",
		"Lifetime number of deletes, auto-deletes included",
		[]string{"table"}, nil)
	evictedDesc = prometheus.NewDesc(
		"reverb_table_items_evicted_total",
		"Lifetime number of capacity evictions",
		[]string{"table"}, nil)
)

// TableCollector implements prometheus.Collector over a fixed set of
// tables. Collection takes each table's lock briefly; the cost is one
// Info snapshot per table per scrape.
type TableCollector struct {
	tables []*reverb.Table
}

// NewTableCollector creates a collector for the given tables.
func NewTableCollector(tables ...*reverb.Table) *TableCollector {
	return &TableCollector{tables: tables}
}

// Describe implements prometheus.Collector.
func (c *TableCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sizeDesc
	ch <- maxSizeDesc
	ch <- insertCountDesc
	ch <- sampleCountDesc
	ch <- insertedDesc
	ch <- sampledDesc
	ch <- deletedDesc
	ch <- evictedDesc
}

// Collect implements prometheus.Collector.
func (c *TableCollector) Collect(ch chan<- prometheus.Metric) {
	for _, t := range c.tables {
		info := t.Info()
		ch <- prometheus.MustNewConstMetric(
			sizeDesc, prometheus.GaugeValue, float64(info.Size), info.Name)
		ch <- prometheus.MustNewConstMetric(
			maxSizeDesc, prometheus.GaugeValue, float64(info.MaxSize), info.Name)
		ch <- prometheus.MustNewConstMetric(
			insertCountDesc, prometheus.CounterValue, float64(info.InsertCount), info.Name)
		ch <- prometheus.MustNewConstMetric(
			sampleCountDesc, prometheus.CounterValue, float64(info.SampleCount), info.Name)

		m := t.Metrics
		ch <- prometheus.MustNewConstMetric(
			insertedDesc, prometheus.CounterValue, float64(m.ItemsInserted()), info.Name)
		ch <- prometheus.MustNewConstMetric(
			sampledDesc, prometheus.CounterValue, float64(m.ItemsSampled()), info.Name)
		ch <- prometheus.MustNewConstMetric(
			deletedDesc, prometheus.CounterValue, float64(m.ItemsDeleted()), info.Name)
		ch <- prometheus.MustNewConstMetric(
			evictedDesc, prometheus.CounterValue, float64(m.ItemsEvicted()), info.Name)
	}
}

// Handler returns an http.Handler serving the metrics of the given
// tables from a dedicated registry.
func Handler(tables ...*reverb.Table) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(NewTableCollector(tables...))
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve starts a standalone metrics endpoint on addr, serving /metrics
// for the given tables. Listening starts in the background, so the
// endpoint may not accept connections yet when Serve returns; a listen
// failure is logged. Shut the returned server down to stop.
func Serve(addr string, tables ...*reverb.Table) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(tables...))
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("reverb: metrics endpoint failed", "addr", addr, "error", err)
		}
	}()
	return server
}
