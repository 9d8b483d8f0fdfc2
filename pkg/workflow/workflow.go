// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package workflow defines the static graph model executed by pkg/runtime:
// executors (typed message handlers), edges (direct, fan-out, fan-in,
// switch), and the immutable compiled Workflow produced by the Builder.
//
// Executors are composed, not subclassed: an executor is any value
// implementing the Executor interface, and ActionExecutor wraps a plain
// handler function for the common case. Message delivery order and the
// superstep transaction are the scheduler's concern; this package only
// describes the shape of the graph.
package workflow

import (
	"fmt"
	"sort"
)

// Workflow is an immutable compiled graph. Build one with a Builder.
type Workflow struct {
	name      string
	startID   string
	factories map[string]ExecutorFactory
	edges     map[string][]Edge
	outputs   map[string]bool
}

// ExecutorFactory produces a fresh executor instance for a node. The
// scheduler invokes it lazily, on first message delivery.
type ExecutorFactory func() Executor

// Name returns the workflow name.
func (w *Workflow) Name() string { return w.name }

// StartID returns the identifier of the starting executor.
func (w *Workflow) StartID() string { return w.startID }

// ExecutorIDs returns all registered executor identifiers in sorted order.
func (w *Workflow) ExecutorIDs() []string {
	ids := make([]string, 0, len(w.factories))
	for id := range w.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasExecutor reports whether the given executor id is registered.
func (w *Workflow) HasExecutor(id string) bool {
	_, ok := w.factories[id]
	return ok
}

// NewExecutor instantiates the executor registered under id.
func (w *Workflow) NewExecutor(id string) (Executor, error) {
	factory, ok := w.factories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrExecutorNotRegistered, id)
	}
	return factory(), nil
}

// EdgesFrom returns the edges whose routing originates at the given source.
// Fan-in edges are included for each of their sources.
func (w *Workflow) EdgesFrom(sourceID string) []Edge {
	return w.edges[sourceID]
}

// IsOutputProducer reports whether the executor is declared as an output
// producer.
func (w *Workflow) IsOutputProducer(id string) bool {
	return w.outputs[id]
}

// OutputProducers returns the declared output producers in sorted order.
func (w *Workflow) OutputProducers() []string {
	ids := make([]string, 0, len(w.outputs))
	for id := range w.outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
