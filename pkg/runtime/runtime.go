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

// Package runtime drives workflow execution with deterministic superstep
// scheduling.
//
// A run advances one superstep at a time: the next-step queue is swapped in,
// every queued message is dispatched to its executor, handler effects are
// committed atomically at the boundary, and routing produces the following
// step's queue. Messages emitted in superstep N are delivered in N+1, never
// within N; state written in N is first observable in N+1.
//
// The run state machine is
//
//	Created → Running → (Idle | AwaitingExternalInput) → Running → …
//	        → Completed | Failed | Cancelled | Halted
//
// Execution is logically single-threaded per run. With Options.Parallel set,
// handlers of one superstep run concurrently but their effects stay isolated
// until the boundary commit, which merges state updates in executor-id then
// key order, so the ordering guarantees hold under both modes.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kadirpekel/conductor/pkg/logger"
	"github.com/kadirpekel/conductor/pkg/message"
	"github.com/kadirpekel/conductor/pkg/workflow"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusCreated               Status = "created"
	StatusRunning               Status = "running"
	StatusIdle                  Status = "idle"
	StatusAwaitingExternalInput Status = "awaiting_external_input"
	StatusCompleted             Status = "completed"
	StatusFailed                Status = "failed"
	StatusCancelled             Status = "cancelled"
	StatusHalted                Status = "halted"
)

// Options configures a Runner.
type Options struct {
	// Parallel executes the handlers of one superstep concurrently. Effects
	// remain isolated until the boundary commit.
	Parallel bool

	// Registry rehydrates checkpointed payloads. A fresh registry is created
	// when nil; payload types observed during routing are registered
	// automatically.
	Registry *message.Registry

	// CheckpointStore, when set, persists a checkpoint at every superstep
	// boundary.
	CheckpointStore CheckpointStore

	// Logger overrides the package logger.
	Logger *slog.Logger
}

// Runner executes one workflow. A Runner hosts at most one run at a time;
// sequential runs reuse singleton executor instances after resetting them.
type Runner struct {
	wf   *workflow.Workflow
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	status    Status
	inFlight  bool
	pending   map[string]workflow.ExternalRequest
	responses chan workflow.Envelope
}

// New creates a runner for the given workflow.
func New(wf *workflow.Workflow, opts Options) (*Runner, error) {
	if wf == nil {
		return nil, fmt.Errorf("workflow is required")
	}
	if opts.Registry == nil {
		opts.Registry = message.NewRegistry()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Component("runtime")
	}
	return &Runner{
		wf:        wf,
		opts:      opts,
		log:       log,
		status:    StatusCreated,
		pending:   make(map[string]workflow.ExternalRequest),
		responses: make(chan workflow.Envelope, 64),
	}, nil
}

// Status returns the current run status.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Runner) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

// RunStreaming starts a run with the given input delivered to the starting
// executor and returns the event stream. The stream is closed when the run
// reaches a terminal status.
func (r *Runner) RunStreaming(ctx context.Context, input any) (<-chan workflow.Event, error) {
	st, err := r.newRunState()
	if err != nil {
		return nil, err
	}

	start, err := r.wf.NewExecutor(r.wf.StartID())
	if err != nil {
		return nil, err
	}
	inputType := message.TypeIDOf(input)
	if !workflow.HandlesType(start, inputType) {
		return nil, fmt.Errorf("%w: starting executor %q does not handle %s",
			workflow.ErrTypeMismatch, r.wf.StartID(), inputType)
	}

	r.opts.Registry.Register(input)
	st.queue = append(st.queue, workflow.Envelope{
		Payload:  input,
		TargetID: r.wf.StartID(),
		TypeID:   inputType,
	})

	return r.start(ctx, st)
}

// Resume restarts a run from a checkpoint saved at a superstep boundary. The
// queue, executor state, and outstanding external requests are restored; the
// run continues with the same contents the boundary observed.
func (r *Runner) Resume(ctx context.Context, cp *Checkpoint) (<-chan workflow.Event, error) {
	if cp == nil {
		return nil, fmt.Errorf("checkpoint is required")
	}
	if cp.WorkflowName != r.wf.Name() {
		return nil, fmt.Errorf("checkpoint belongs to workflow %q, not %q", cp.WorkflowName, r.wf.Name())
	}

	st, err := r.newRunState()
	if err != nil {
		return nil, err
	}
	if err := st.restore(cp); err != nil {
		return nil, err
	}

	return r.start(ctx, st)
}

func (r *Runner) start(ctx context.Context, st *runState) (<-chan workflow.Event, error) {
	r.mu.Lock()
	if r.inFlight {
		r.mu.Unlock()
		return nil, fmt.Errorf("runner already hosts an active run")
	}
	r.inFlight = true
	r.status = StatusRunning
	r.mu.Unlock()

	events := make(chan workflow.Event, 256)
	st.events = events

	go func() {
		defer func() {
			r.mu.Lock()
			r.inFlight = false
			r.mu.Unlock()
			close(events)
		}()
		st.loop(ctx)
	}()

	return events, nil
}

// Run executes the workflow to a terminal status and returns the yielded
// outputs in emission order.
func (r *Runner) Run(ctx context.Context, input any) ([]any, error) {
	events, err := r.RunStreaming(ctx, input)
	if err != nil {
		return nil, err
	}

	var outputs []any
	var failure error
	for ev := range events {
		switch e := ev.(type) {
		case workflow.WorkflowOutputEvent:
			outputs = append(outputs, e.Value)
		case workflow.WorkflowFailedEvent:
			failure = e.Err
		}
	}
	if failure != nil {
		return outputs, failure
	}
	return outputs, nil
}

// ProvideExternalResponse satisfies an outstanding external request. The
// payload is delivered to the requesting executor as a directed message in
// the next superstep.
func (r *Runner) ProvideExternalResponse(requestID string, payload any) error {
	r.mu.Lock()
	req, ok := r.pending[requestID]
	if ok {
		delete(r.pending, requestID)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("no outstanding external request %q", requestID)
	}

	r.opts.Registry.Register(payload)
	r.responses <- workflow.Envelope{
		Payload:  payload,
		TargetID: req.ExecutorID,
		TypeID:   message.TypeIDOf(payload),
	}
	return nil
}

// PendingRequests returns the outstanding external requests.
func (r *Runner) PendingRequests() []workflow.ExternalRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	reqs := make([]workflow.ExternalRequest, 0, len(r.pending))
	for _, req := range r.pending {
		reqs = append(reqs, req)
	}
	return reqs
}

func (r *Runner) registerPending(req workflow.ExternalRequest) {
	r.mu.Lock()
	r.pending[req.RequestID] = req
	r.mu.Unlock()
}

func (r *Runner) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// NewRequestID returns a fresh external-request identifier.
func NewRequestID() string {
	return uuid.NewString()
}
