// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry exposes Prometheus counters and gauges for the proxy
// lifecycle: seals, commits, aborts, purges and reconnects. Metrics are
// package-global, matching the churn package's approach of module-level
// collectors registered once in init, since a process only ever runs one
// proxy history.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sealsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shardproxy_seals_total",
		Help: "Total number of transactions sealed.",
	})
	directCommitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shardproxy_direct_commits_total",
		Help: "Total directCommit outcomes, labeled by result.",
	}, []string{"result"})
	coordinatedCommitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shardproxy_coordinated_commits_total",
		Help: "Total coordinated (canCommit/preCommit/doCommit) phase outcomes, labeled by phase and result.",
	}, []string{"phase", "result"})
	abortsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shardproxy_aborts_total",
		Help: "Total abort outcomes, labeled by whether they happened pre- or post-seal.",
	}, []string{"stage"})
	purgesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shardproxy_purges_total",
		Help: "Total proxies purged.",
	})
	reconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shardproxy_reconnects_total",
		Help: "Total reconnect handoffs completed.",
	})
	reconnectReplayedEntries = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shardproxy_reconnect_replayed_entries",
		Help:    "Distribution of in-flight requests replayed per reconnect; successful-request-log entries are not counted.",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
	})
	activeProxies = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shardproxy_active_proxies",
		Help: "Number of proxies currently tracked by the history.",
	})
)

func init() {
	prometheus.MustRegister(
		sealsTotal,
		directCommitsTotal,
		coordinatedCommitsTotal,
		abortsTotal,
		purgesTotal,
		reconnectsTotal,
		reconnectReplayedEntries,
		activeProxies,
	)
}

// ObserveSeal increments the seal counter.
func ObserveSeal() { sealsTotal.Inc() }

// ObserveDirectCommit records a directCommit outcome; result is "success" or "failure".
func ObserveDirectCommit(result string) { directCommitsTotal.WithLabelValues(result).Inc() }

// ObserveCoordinatedPhase records a canCommit/preCommit/doCommit outcome.
func ObserveCoordinatedPhase(phase, result string) {
	coordinatedCommitsTotal.WithLabelValues(phase, result).Inc()
}

// ObserveAbort records an abort at the given stage ("pre_seal" or "post_seal").
func ObserveAbort(stage string) { abortsTotal.WithLabelValues(stage).Inc() }

// ObservePurge increments the purge counter.
func ObservePurge() { purgesTotal.Inc() }

// ObserveReconnect records a completed reconnect handoff and how many
// in-flight requests it replayed.
func ObserveReconnect(replayedEntries int) {
	reconnectsTotal.Inc()
	reconnectReplayedEntries.Observe(float64(replayedEntries))
}

// SetActiveProxies publishes the current proxy count.
func SetActiveProxies(n int) { activeProxies.Set(float64(n)) }

// Handler returns the promhttp handler for a /metrics endpoint.
func Handler() http.Handler { return promhttp.Handler() }
