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

// Context is the per-invocation handle an executor uses to produce effects.
//
// All effects are transactional against the current superstep: messages are
// delivered in the next superstep, state writes are buffered and committed
// atomically at the superstep boundary, and reads reflect only committed
// state. If the handler faults, none of its buffered writes apply.
//
// State methods take an optional scope; with no scope given they operate on
// the invoking executor's own scope.
type Context interface {
	// Send enqueues a message for edge-based routing after the current
	// superstep completes.
	Send(payload any)

	// SendTo enqueues a message addressed directly to the named executor,
	// bypassing edge routing.
	SendTo(targetID string, payload any)

	// AddEvent raises a lifecycle event visible to the run observer.
	AddEvent(e Event)

	// YieldOutput marks a workflow output. It returns an error unless the
	// invoking executor is a declared output producer.
	YieldOutput(value any) error

	// RequestHalt requests cooperative termination of the run after the
	// current superstep.
	RequestHalt()

	// ReadState returns the committed value for key, if any.
	ReadState(key string, scope ...string) (any, bool)

	// ReadStateKeys lists the committed keys in a scope, sorted.
	ReadStateKeys(scope ...string) []string

	// ReadOrInitState returns the committed value for key, or buffers and
	// returns the value produced by init. Within the same invocation the
	// initialized value is visible to subsequent reads.
	ReadOrInitState(key string, init func() any, scope ...string) any

	// QueueStateUpdate buffers a state write committed at the end of the
	// superstep.
	QueueStateUpdate(key string, value any, scope ...string)

	// ClearScope buffers the removal of every key in a scope.
	ClearScope(scope ...string)

	// PostExternalRequest registers a pending external request. The run
	// cannot reach quiescence while any external request is outstanding.
	PostExternalRequest(req ExternalRequest)
}

// ExternalRequest is a pending request for input from outside the run, such
// as a human-in-the-loop prompt. It is satisfied through the runner's
// ProvideExternalResponse.
type ExternalRequest struct {
	// RequestID is the caller-visible correlation handle.
	RequestID string

	// ExecutorID is the executor awaiting the response. The response payload
	// is delivered to it as a directed message.
	ExecutorID string

	// Prompt describes what input is needed.
	Prompt any
}
