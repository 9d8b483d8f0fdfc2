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

package workflow

import (
	"fmt"
)

// Builder assembles a Workflow. It is not safe for concurrent use; the built
// Workflow is immutable and safe to share.
type Builder struct {
	name      string
	startID   string
	factories map[string]ExecutorFactory
	edges     map[string][]Edge
	outputs   map[string]bool
	errs      []error
}

// NewBuilder creates a builder for a named workflow.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:      name,
		factories: make(map[string]ExecutorFactory),
		edges:     make(map[string][]Edge),
		outputs:   make(map[string]bool),
	}
}

// AddExecutor registers a singleton executor instance.
func (b *Builder) AddExecutor(e Executor) *Builder {
	if e == nil {
		b.errs = append(b.errs, fmt.Errorf("executor cannot be nil"))
		return b
	}
	return b.AddExecutorFactory(e.ID(), func() Executor { return e })
}

// AddExecutorFactory registers an executor factory under the given id. The
// factory runs on first message delivery to the node.
func (b *Builder) AddExecutorFactory(id string, factory ExecutorFactory) *Builder {
	if id == "" {
		b.errs = append(b.errs, fmt.Errorf("executor id cannot be empty"))
		return b
	}
	if _, exists := b.factories[id]; exists {
		b.errs = append(b.errs, fmt.Errorf("executor %q registered twice", id))
		return b
	}
	b.factories[id] = factory
	return b
}

// SetStart declares the starting executor. External input is delivered to it.
func (b *Builder) SetStart(id string) *Builder {
	b.startID = id
	return b
}

// MarkOutput declares an executor as an output producer.
func (b *Builder) MarkOutput(id string) *Builder {
	b.outputs[id] = true
	return b
}

// AddEdge adds a direct edge from source to target.
func (b *Builder) AddEdge(source, target string) *Builder {
	b.appendEdge(source, DirectEdge{Source: source, Target: target})
	return b
}

// AddFanOut adds a fan-out edge. With a nil assigner every target receives
// each message.
func (b *Builder) AddFanOut(source string, targets []string, assigner Assigner) *Builder {
	b.appendEdge(source, FanOutEdge{Source: source, Targets: targets, Assigner: assigner})
	return b
}

// AddFanIn adds a fan-in edge joining at superstep boundaries.
func (b *Builder) AddFanIn(sources []string, target string) *Builder {
	edge := FanInEdge{Sources: sources, Target: target, Join: JoinWaitAll}
	for _, s := range sources {
		b.appendEdge(s, edge)
	}
	return b
}

// AddFanInByKey adds a fan-in edge joining messages that share a correlation
// key.
func (b *Builder) AddFanInByKey(sources []string, target string, key CorrelationKeyFunc) *Builder {
	edge := FanInEdge{Sources: sources, Target: target, Join: JoinByCorrelation, CorrelationKey: key}
	for _, s := range sources {
		b.appendEdge(s, edge)
	}
	return b
}

// AddSwitch adds a conditional edge. Cases are evaluated in declaration
// order; defaultTarget receives messages no case matched.
func (b *Builder) AddSwitch(source string, cases []SwitchCase, defaultTarget string) *Builder {
	b.appendEdge(source, SwitchEdge{Source: source, Cases: cases, Default: defaultTarget})
	return b
}

func (b *Builder) appendEdge(source string, e Edge) {
	b.edges[source] = append(b.edges[source], e)
}

// Build validates the graph and returns the immutable workflow.
func (b *Builder) Build() (*Workflow, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkflow, b.errs[0])
	}
	if b.name == "" {
		return nil, fmt.Errorf("%w: workflow name is required", ErrInvalidWorkflow)
	}
	if b.startID == "" {
		return nil, fmt.Errorf("%w: starting executor is required", ErrInvalidWorkflow)
	}
	if _, ok := b.factories[b.startID]; !ok {
		return nil, fmt.Errorf("%w: starting executor %q is not registered", ErrInvalidWorkflow, b.startID)
	}

	for source, edges := range b.edges {
		if _, ok := b.factories[source]; !ok {
			return nil, fmt.Errorf("%w: edge source %q is not registered", ErrInvalidWorkflow, source)
		}
		for _, e := range edges {
			for _, target := range edgeTargets(e) {
				if _, ok := b.factories[target]; !ok {
					return nil, fmt.Errorf("%w: edge target %q is not registered", ErrInvalidWorkflow, target)
				}
			}
		}
	}

	for id := range b.outputs {
		if _, ok := b.factories[id]; !ok {
			return nil, fmt.Errorf("%w: output producer %q is not registered", ErrInvalidWorkflow, id)
		}
	}

	factories := make(map[string]ExecutorFactory, len(b.factories))
	for id, f := range b.factories {
		factories[id] = f
	}
	edges := make(map[string][]Edge, len(b.edges))
	for id, es := range b.edges {
		edges[id] = append([]Edge(nil), es...)
	}
	outputs := make(map[string]bool, len(b.outputs))
	for id := range b.outputs {
		outputs[id] = true
	}

	return &Workflow{
		name:      b.name,
		startID:   b.startID,
		factories: factories,
		edges:     edges,
		outputs:   outputs,
	}, nil
}

func edgeTargets(e Edge) []string {
	switch edge := e.(type) {
	case DirectEdge:
		return []string{edge.Target}
	case FanOutEdge:
		return edge.Targets
	case FanInEdge:
		return []string{edge.Target}
	case SwitchEdge:
		targets := make([]string, 0, len(edge.Cases)+1)
		for _, c := range edge.Cases {
			targets = append(targets, c.Target)
		}
		if edge.Default != "" {
			targets = append(targets, edge.Default)
		}
		return targets
	default:
		return nil
	}
}
