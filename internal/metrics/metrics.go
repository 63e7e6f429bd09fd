// Copyright 2025 Tom Barlow
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

// Package metrics holds the Prometheus collectors for session, registry,
// dispatch and conversation activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeToolError = "tool_error"
	OutcomeUnknown   = "unknown_tool"
	OutcomeNotFound  = "not_found"
	OutcomeDone      = "done"
	OutcomeTruncated = "truncated"
)

var (
	// sessionConnections tracks connection attempts per server
	sessionConnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_session_connections_total",
			Help: "Total MCP session connection attempts by server and outcome",
		},
		[]string{"server", "outcome"},
	)

	// registryEntries tracks absorbed capabilities per server and kind
	registryEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ensemble_registry_entries",
			Help: "Capabilities absorbed into the registry by server and kind",
		},
		[]string{"server", "kind"},
	)

	// registryShadowed tracks names replaced by a later server
	registryShadowed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_registry_shadowed_total",
			Help: "Total capability names shadowed by a later server, by kind",
		},
		[]string{"kind"},
	)

	// toolCalls tracks dispatched tool invocations
	toolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_tool_calls_total",
			Help: "Total tool invocations by tool, server and outcome",
		},
		[]string{"tool", "server", "outcome"},
	)

	// toolCallDuration tracks tool invocation latency
	toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ensemble_tool_call_duration_seconds",
			Help:    "Tool invocation latency by server",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server"},
	)

	// resourceReads tracks resource resolution and reads
	resourceReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_resource_reads_total",
			Help: "Total resource reads by match kind and outcome",
		},
		[]string{"match", "outcome"},
	)

	// modelRequests tracks model inference calls
	modelRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_model_requests_total",
			Help: "Total model inference requests by outcome",
		},
		[]string{"outcome"},
	)

	// modelDuration tracks model inference latency
	modelDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ensemble_model_request_duration_seconds",
			Help:    "Model inference latency",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
	)

	// modelTokens tracks token usage reported by the model
	modelTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_model_tokens_total",
			Help: "Total tokens reported by the model, by direction",
		},
		[]string{"direction"},
	)

	// queries tracks completed queries
	queries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_queries_total",
			Help: "Total user queries by outcome",
		},
		[]string{"outcome"},
	)

	// queryRounds tracks model/tool round trips per query
	queryRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ensemble_query_tool_rounds",
			Help:    "Tool round trips per query",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)
)

func outcome(ok bool) string {
	if ok {
		return OutcomeOK
	}
	return OutcomeFailed
}

// RecordConnection counts one connection attempt.
func RecordConnection(server string, ok bool) {
	sessionConnections.WithLabelValues(server, outcome(ok)).Inc()
}

// SetRegistryEntries records how many capabilities of a kind a server contributed.
func SetRegistryEntries(server, kind string, n int) {
	registryEntries.WithLabelValues(server, kind).Set(float64(n))
}

// RecordShadowed counts a name replaced by a later server.
func RecordShadowed(kind string) {
	registryShadowed.WithLabelValues(kind).Inc()
}

// RecordToolCall counts a tool invocation and observes its latency.
// An empty server means the tool was not registered.
func RecordToolCall(tool, server, outcome string, seconds float64) {
	toolCalls.WithLabelValues(tool, server, outcome).Inc()
	if server != "" {
		toolCallDuration.WithLabelValues(server).Observe(seconds)
	}
}

// RecordResourceRead counts a resource read.
func RecordResourceRead(match, outcome string) {
	resourceReads.WithLabelValues(match, outcome).Inc()
}

// RecordModelRequest counts a model call and observes its latency.
func RecordModelRequest(ok bool, seconds float64) {
	modelRequests.WithLabelValues(outcome(ok)).Inc()
	modelDuration.Observe(seconds)
}

// RecordTokens adds reported token usage.
func RecordTokens(input, output int) {
	modelTokens.WithLabelValues("input").Add(float64(input))
	modelTokens.WithLabelValues("output").Add(float64(output))
}

// RecordQuery counts a finished query and observes its tool rounds.
func RecordQuery(outcome string, rounds int) {
	queries.WithLabelValues(outcome).Inc()
	queryRounds.Observe(float64(rounds))
}
