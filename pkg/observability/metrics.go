// Copyright 2025 Kadir Pekel
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

package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the runtime's Prometheus collectors. Exposing them over HTTP
// is the host's concern.
type Metrics struct {
	SuperstepsTotal  *prometheus.CounterVec
	MessagesRouted   *prometheus.CounterVec
	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	AgentCallsTotal  *prometheus.CounterVec
	DurableRunsTotal *prometheus.CounterVec
	DurableEvictions prometheus.Counter
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// GetMetrics returns the process-wide metrics, registering the collectors on
// the default registry on first use.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics(prometheus.DefaultRegisterer)
	})
	return metrics
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SuperstepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_supersteps_total",
			Help: "Supersteps executed, by workflow.",
		}, []string{"workflow"}),
		MessagesRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_messages_routed_total",
			Help: "Messages enqueued by routing, by workflow.",
		}, []string{"workflow"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_workflow_runs_total",
			Help: "Workflow runs, by workflow and terminal status.",
		}, []string{"workflow", "status"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conductor_workflow_run_duration_seconds",
			Help:    "Workflow run duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"workflow"}),
		AgentCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_agent_calls_total",
			Help: "Agent chat-client invocations, by agent and outcome.",
		}, []string{"agent", "outcome"}),
		DurableRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_durable_runs_total",
			Help: "Durable entity Run operations, by agent.",
		}, []string{"agent"}),
		DurableEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_durable_evictions_total",
			Help: "Durable entities deleted by TTL eviction.",
		}),
	}
}
