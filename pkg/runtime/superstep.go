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

package runtime

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/conductor/pkg/message"
	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/workflow"
)

// runState is the mutable state of one run. It is owned by the run goroutine;
// nothing here is accessed concurrently except through the runner's channels.
type runState struct {
	r      *Runner
	events chan<- workflow.Event

	instances map[string]workflow.Executor
	state     map[string]map[string]any
	queue     []workflow.Envelope
	fanIns    map[string]*fanInBuffer
	resumed   bool

	superstep     int
	outputYielded bool
	haltRequested bool
}

func (r *Runner) newRunState() (*runState, error) {
	return &runState{
		r:         r,
		instances: make(map[string]workflow.Executor),
		state:     make(map[string]map[string]any),
		fanIns:    make(map[string]*fanInBuffer),
	}, nil
}

func (st *runState) emit(ev workflow.Event) {
	st.events <- ev
}

func (st *runState) instance(id string) (workflow.Executor, error) {
	if exec, ok := st.instances[id]; ok {
		return exec, nil
	}
	exec, err := st.r.wf.NewExecutor(id)
	if err != nil {
		return nil, err
	}
	if !st.resumed {
		if res, ok := exec.(workflow.Resettable); ok {
			res.Reset()
		}
	}
	st.instances[id] = exec
	return exec, nil
}

// loop advances supersteps until the run reaches a terminal status.
func (st *runState) loop(ctx context.Context) {
	r := st.r
	tracer := observability.GetTracer("conductor.runtime")
	ctx, span := tracer.Start(ctx, observability.SpanWorkflowRun,
		trace.WithAttributes(attribute.String(observability.AttrWorkflowName, r.wf.Name())))
	defer span.End()

	metrics := observability.GetMetrics()
	started := time.Now()
	terminal := func(s Status) {
		r.setStatus(s)
		metrics.RunsTotal.WithLabelValues(r.wf.Name(), string(s)).Inc()
		metrics.RunDuration.WithLabelValues(r.wf.Name()).Observe(time.Since(started).Seconds())
	}

	for {
		st.drainResponses()

		if ctx.Err() != nil {
			st.emit(workflow.WorkflowCompletedEvent{Reason: workflow.ReasonCancelled})
			terminal(StatusCancelled)
			return
		}

		if st.haltRequested {
			st.emit(workflow.WorkflowCompletedEvent{Reason: workflow.ReasonHaltRequested})
			terminal(StatusHalted)
			return
		}

		if len(st.queue) == 0 {
			if r.pendingCount() > 0 {
				r.setStatus(StatusAwaitingExternalInput)
				select {
				case env := <-r.responses:
					st.queue = append(st.queue, env)
					continue
				case <-ctx.Done():
					st.emit(workflow.WorkflowCompletedEvent{Reason: workflow.ReasonCancelled})
					terminal(StatusCancelled)
					return
				}
			}
			if st.outputYielded {
				st.emit(workflow.WorkflowCompletedEvent{Reason: workflow.ReasonOutputYielded})
				terminal(StatusCompleted)
				return
			}
			st.emit(workflow.WorkflowCompletedEvent{Reason: workflow.ReasonIdle})
			terminal(StatusIdle)
			return
		}

		r.setStatus(StatusRunning)
		fault := st.runSuperstep(ctx)
		metrics.SuperstepsTotal.WithLabelValues(r.wf.Name()).Inc()

		if fault != nil {
			st.emit(workflow.WorkflowFailedEvent{Err: fault})
			terminal(StatusFailed)
			return
		}

		if store := r.opts.CheckpointStore; store != nil {
			cp, err := st.buildCheckpoint()
			if err != nil {
				st.r.log.Warn("skipping checkpoint", "error", err)
			} else if err := store.Save(ctx, cp); err != nil {
				st.r.log.Warn("failed to save checkpoint", "error", err)
			}
		}
	}
}

// drainResponses moves externally provided responses into the queue without
// blocking.
func (st *runState) drainResponses() {
	for {
		select {
		case env := <-st.r.responses:
			st.queue = append(st.queue, env)
		default:
			return
		}
	}
}

// runSuperstep swaps the queue, dispatches every message, commits buffered
// effects, and routes the emitted messages into the next queue. It returns
// the first handler fault, if any.
func (st *runState) runSuperstep(ctx context.Context) error {
	current := st.queue
	st.queue = nil
	st.superstep++

	txns := make([]*invocation, len(current))
	if st.r.opts.Parallel {
		for _, env := range current {
			if _, err := st.instance(env.TargetID); err != nil {
				return err
			}
		}
		var g errgroup.Group
		for i, env := range current {
			g.Go(func() error {
				txns[i] = st.invoke(ctx, env)
				return nil
			})
		}
		_ = g.Wait()
		for _, t := range txns {
			st.flushEvents(t)
		}
	} else {
		for i, env := range current {
			txns[i] = st.invoke(ctx, env)
			st.flushEvents(txns[i])
		}
	}

	st.commit(txns)

	var fault error
	for _, t := range txns {
		if t.err != nil {
			if fault == nil {
				fault = t.err
			}
			continue
		}
		if err := st.route(t); err != nil {
			if fault == nil {
				fault = err
			}
		}
	}

	st.releaseFanIns()
	return fault
}

// invoke runs one handler inside a fresh transaction. The transaction's
// events are not flushed here so parallel dispatch can preserve order.
func (st *runState) invoke(ctx context.Context, env workflow.Envelope) *invocation {
	t := newInvocation(st, env.TargetID)
	t.events = append(t.events, workflow.ExecutorInvokedEvent{ExecutorID: env.TargetID, Payload: env.Payload})

	exec, err := st.instance(env.TargetID)
	if err == nil && !workflow.HandlesType(exec, env.TypeID) {
		err = fmt.Errorf("%w: executor %q does not handle %s", workflow.ErrTypeMismatch, env.TargetID, env.TypeID)
	}
	if err == nil {
		err = exec.Handle(ctx, env, t)
	}

	if err != nil {
		t.err = err
		t.events = append(t.events, workflow.ExecutorFailedEvent{ExecutorID: env.TargetID, Err: err})
		return t
	}

	t.events = append(t.events, workflow.ExecutorCompletedEvent{ExecutorID: env.TargetID, Output: t.reportedOutput()})
	for _, out := range t.outputs {
		t.events = append(t.events, workflow.WorkflowOutputEvent{ExecutorID: env.TargetID, Value: out})
	}
	return t
}

func (st *runState) flushEvents(t *invocation) {
	for _, ev := range t.events {
		st.emit(ev)
	}
	t.events = nil
}

// commit applies buffered effects of all non-faulted transactions. State
// updates merge in executor-id order, then op order within a transaction,
// which keeps commits deterministic under parallel dispatch.
func (st *runState) commit(txns []*invocation) {
	ordered := make([]*invocation, len(txns))
	copy(ordered, txns)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].execID < ordered[j].execID })

	for _, t := range ordered {
		if t.err != nil {
			continue
		}
		for _, op := range t.stateOps {
			scoped := st.state[op.scope]
			switch {
			case op.clearScope:
				delete(st.state, op.scope)
			case scoped == nil:
				scoped = make(map[string]any)
				st.state[op.scope] = scoped
				scoped[op.key] = op.value
			default:
				scoped[op.key] = op.value
			}
		}
		if t.halt {
			st.haltRequested = true
		}
		if len(t.outputs) > 0 {
			st.outputYielded = true
		}
		for _, req := range t.requests {
			st.r.registerPending(req)
		}
	}
}

// route applies edge routing to a transaction's sent messages, producing the
// next-step queue.
func (st *runState) route(t *invocation) error {
	for _, s := range t.sent {
		st.r.opts.Registry.Register(s.payload)
		env := workflow.Envelope{
			Payload:  s.payload,
			SourceID: t.execID,
			TargetID: s.target,
			TypeID:   message.TypeIDOf(s.payload),
		}

		if env.TargetID != "" {
			exec, err := st.instance(env.TargetID)
			if err != nil {
				return err
			}
			if !workflow.HandlesType(exec, env.TypeID) {
				return fmt.Errorf("%w: directed send to %q with payload %s",
					workflow.ErrTypeMismatch, env.TargetID, env.TypeID)
			}
			st.enqueue(env)
			continue
		}

		edges := st.r.wf.EdgesFrom(t.execID)
		if len(edges) == 0 {
			st.emit(workflow.UnroutedMessageEvent{Envelope: env})
			continue
		}

		for _, e := range edges {
			if err := st.routeEdge(e, env); err != nil {
				return err
			}
		}
	}
	return nil
}

func (st *runState) routeEdge(e workflow.Edge, env workflow.Envelope) error {
	switch edge := e.(type) {
	case workflow.DirectEdge:
		st.enqueue(targeted(env, edge.Target))

	case workflow.FanOutEdge:
		indices := allIndices(len(edge.Targets))
		if edge.Assigner != nil {
			indices = edge.Assigner(env.Payload, len(edge.Targets))
		}
		for _, i := range indices {
			if i < 0 || i >= len(edge.Targets) {
				return fmt.Errorf("fan-out assigner from %q selected index %d out of %d targets",
					edge.Source, i, len(edge.Targets))
			}
			st.enqueue(targeted(env, edge.Targets[i]))
		}

	case workflow.SwitchEdge:
		for _, c := range edge.Cases {
			if c.Predicate(env.Payload) {
				st.enqueue(targeted(env, c.Target))
				return nil
			}
		}
		if edge.Default == "" {
			return fmt.Errorf("switch from %q matched no case and has no default", edge.Source)
		}
		st.enqueue(targeted(env, edge.Default))

	case workflow.FanInEdge:
		st.bufferFanIn(edge, env)
	}
	return nil
}

func (st *runState) enqueue(env workflow.Envelope) {
	st.queue = append(st.queue, env)
	st.emit(workflow.MessageSendEvent{Envelope: env})
	observability.GetMetrics().MessagesRouted.WithLabelValues(st.r.wf.Name()).Inc()
}

func targeted(env workflow.Envelope, target string) workflow.Envelope {
	env.TargetID = target
	return env
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// fanInBuffer accumulates messages for one fan-in target until the join
// policy is satisfied.
type fanInBuffer struct {
	edge     workflow.FanInEdge
	bySource map[string][]any
	byKey    map[string]map[string]any
	keyOrder []string
}

func (st *runState) bufferFanIn(edge workflow.FanInEdge, env workflow.Envelope) {
	buf, ok := st.fanIns[edge.Target]
	if !ok {
		buf = &fanInBuffer{
			edge:     edge,
			bySource: make(map[string][]any),
			byKey:    make(map[string]map[string]any),
		}
		st.fanIns[edge.Target] = buf
	}

	if edge.Join == workflow.JoinByCorrelation && edge.CorrelationKey != nil {
		key := edge.CorrelationKey(env.Payload)
		if _, seen := buf.byKey[key]; !seen {
			buf.byKey[key] = make(map[string]any)
			buf.keyOrder = append(buf.keyOrder, key)
		}
		buf.byKey[key][env.SourceID] = env.Payload
		return
	}

	buf.bySource[env.SourceID] = append(buf.bySource[env.SourceID], env.Payload)
}

// releaseFanIns delivers every satisfied join as a single batch envelope.
// Batches preserve the edge's declared source order.
func (st *runState) releaseFanIns() {
	targets := make([]string, 0, len(st.fanIns))
	for target := range st.fanIns {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	for _, target := range targets {
		buf := st.fanIns[target]
		if buf.edge.Join == workflow.JoinByCorrelation && buf.edge.CorrelationKey != nil {
			st.releaseByCorrelation(buf)
			continue
		}
		st.releaseWaitAll(buf)
	}
}

func (st *runState) releaseWaitAll(buf *fanInBuffer) {
	for {
		batch := make([]any, 0, len(buf.edge.Sources))
		for _, source := range buf.edge.Sources {
			if len(buf.bySource[source]) == 0 {
				return
			}
		}
		for _, source := range buf.edge.Sources {
			batch = append(batch, buf.bySource[source][0])
			buf.bySource[source] = buf.bySource[source][1:]
		}
		st.enqueue(workflow.Envelope{
			Payload:  batch,
			TargetID: buf.edge.Target,
			TypeID:   message.TypeIDOf(batch),
		})
	}
}

func (st *runState) releaseByCorrelation(buf *fanInBuffer) {
	remaining := buf.keyOrder[:0]
	for _, key := range buf.keyOrder {
		bySource := buf.byKey[key]
		complete := true
		for _, source := range buf.edge.Sources {
			if _, ok := bySource[source]; !ok {
				complete = false
				break
			}
		}
		if !complete {
			remaining = append(remaining, key)
			continue
		}
		batch := make([]any, 0, len(buf.edge.Sources))
		for _, source := range buf.edge.Sources {
			batch = append(batch, bySource[source])
		}
		delete(buf.byKey, key)
		st.enqueue(workflow.Envelope{
			Payload:  batch,
			TargetID: buf.edge.Target,
			TypeID:   message.TypeIDOf(batch),
		})
	}
	buf.keyOrder = remaining
}
