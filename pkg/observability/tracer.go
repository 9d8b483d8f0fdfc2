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

// Package observability provides tracing and metrics instrumentation for the
// runtime. It uses the OpenTelemetry API only; wiring an exporter is the
// host's concern. Without a configured tracer provider all spans are no-ops.
package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Span names used across the runtime.
const (
	SpanWorkflowRun = "conductor.workflow.run"
	SpanSuperstep   = "conductor.workflow.superstep"
	SpanAgentRun    = "conductor.agent.run"
	SpanDurableRun  = "conductor.durable.run"
)

// Common span attribute keys.
const (
	AttrWorkflowName = "conductor.workflow.name"
	AttrExecutorID   = "conductor.executor.id"
	AttrAgentName    = "conductor.agent.name"
	AttrSuperstep    = "conductor.superstep"
	AttrSessionKey   = "conductor.session.key"
)

// GetTracer returns a tracer from the global provider.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
