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
	"context"
	"fmt"

	"github.com/kadirpekel/conductor/pkg/message"
)

// Envelope wraps an in-flight message with its routing metadata. The payload
// is opaque to the scheduler.
type Envelope struct {
	// Payload is the message body.
	Payload any

	// SourceID is the executor that emitted the message. The scheduler sets
	// it to the empty string for external input.
	SourceID string

	// TargetID, when non-empty, bypasses edge routing and delivers directly
	// to the named executor.
	TargetID string

	// TypeID identifies the payload type for durable round-trips.
	TypeID message.TypeID
}

// NewEnvelope builds an envelope for a payload, deriving its TypeID.
func NewEnvelope(payload any, sourceID string) Envelope {
	return Envelope{
		Payload:  payload,
		SourceID: sourceID,
		TypeID:   message.TypeIDOf(payload),
	}
}

// Executor is a unit of computation in the graph. It declares the payload
// types it handles and produces, and processes one envelope per invocation.
//
// Handler effects (messages, events, state updates, output yields) go through
// the Context and take effect at the end of the current superstep.
type Executor interface {
	// ID returns the executor's workflow-unique identifier.
	ID() string

	// InputTypes returns the payload types this executor handles. It must be
	// non-empty unless the executor is an external-input sink.
	InputTypes() []message.TypeID

	// OutputTypes returns the payload types this executor may emit.
	OutputTypes() []message.TypeID

	// Handle processes one envelope. A returned error is a handler fault:
	// the run fails and none of the handler's buffered state writes apply.
	Handle(ctx context.Context, env Envelope, wc Context) error
}

// Resettable is implemented by executors that carry per-run internal state
// that must be cleared when a workflow is reset.
type Resettable interface {
	Reset()
}

// HandlesType reports whether the executor declares the given payload type.
// An executor with no declared input types accepts everything (external-input
// sink).
func HandlesType(e Executor, id message.TypeID) bool {
	inputs := e.InputTypes()
	if len(inputs) == 0 {
		return true
	}
	for _, in := range inputs {
		if in == id {
			return true
		}
	}
	return false
}

// HandlerFunc is the signature of an action executor's handler.
type HandlerFunc func(ctx context.Context, env Envelope, wc Context) error

// ActionExecutor adapts a handler function into an Executor. It is the
// building block for pure-logic nodes.
type ActionExecutor struct {
	id          string
	inputTypes  []message.TypeID
	outputTypes []message.TypeID
	handler     HandlerFunc
	reset       func()
}

// ActionOption customizes an ActionExecutor.
type ActionOption func(*ActionExecutor)

// WithOutputTypes declares the payload types the action may emit.
func WithOutputTypes(types ...message.TypeID) ActionOption {
	return func(a *ActionExecutor) { a.outputTypes = types }
}

// WithReset installs a reset hook invoked on workflow reset.
func WithReset(fn func()) ActionOption {
	return func(a *ActionExecutor) { a.reset = fn }
}

// NewAction creates an executor from a raw handler. The executor accepts the
// given input types; with none declared it accepts any payload.
func NewAction(id string, inputTypes []message.TypeID, handler HandlerFunc, opts ...ActionOption) *ActionExecutor {
	a := &ActionExecutor{
		id:         id,
		inputTypes: inputTypes,
		handler:    handler,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewTypedAction creates an executor whose handler receives the payload
// already asserted to type In. A payload of any other type is a routing
// fault.
func NewTypedAction[In any](id string, handler func(ctx context.Context, in In, wc Context) error, opts ...ActionOption) *ActionExecutor {
	var zero In
	inputType := message.TypeIDOf(zero)

	wrapped := func(ctx context.Context, env Envelope, wc Context) error {
		in, ok := env.Payload.(In)
		if !ok {
			return fmt.Errorf("%w: executor %q expects %s, got %T",
				ErrTypeMismatch, id, inputType, env.Payload)
		}
		return handler(ctx, in, wc)
	}

	return NewAction(id, []message.TypeID{inputType}, wrapped, opts...)
}

func (a *ActionExecutor) ID() string { return a.id }

func (a *ActionExecutor) InputTypes() []message.TypeID { return a.inputTypes }

func (a *ActionExecutor) OutputTypes() []message.TypeID { return a.outputTypes }

// Handle invokes the wrapped handler.
func (a *ActionExecutor) Handle(ctx context.Context, env Envelope, wc Context) error {
	return a.handler(ctx, env, wc)
}

// Reset invokes the configured reset hook, if any.
func (a *ActionExecutor) Reset() {
	if a.reset != nil {
		a.reset()
	}
}

var (
	_ Executor   = (*ActionExecutor)(nil)
	_ Resettable = (*ActionExecutor)(nil)
)
