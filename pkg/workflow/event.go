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

// Event is a lifecycle event observed on a run's event stream. Events raised
// within a handler are observed in the order raised, and always before any
// event from the next superstep.
type Event interface {
	event()
}

// CompletionReason explains why a run ended.
type CompletionReason string

const (
	ReasonOutputYielded CompletionReason = "output_yielded"
	ReasonHaltRequested CompletionReason = "halt_requested"
	ReasonIdle          CompletionReason = "idle"
	ReasonCancelled     CompletionReason = "cancelled"
)

// ExecutorInvokedEvent marks the start of a handler invocation.
type ExecutorInvokedEvent struct {
	ExecutorID string
	Payload    any
}

// ExecutorCompletedEvent marks a successful handler invocation. Output is the
// handler-reported result, when the executor chose to report one.
type ExecutorCompletedEvent struct {
	ExecutorID string
	Output     any
}

// ExecutorFailedEvent reports a handler fault. A WorkflowFailedEvent follows.
type ExecutorFailedEvent struct {
	ExecutorID string
	Err        error
}

// WorkflowFailedEvent reports that the run terminated on a handler fault.
type WorkflowFailedEvent struct {
	Err error
}

// MessageSendEvent is raised for each message enqueued by routing.
type MessageSendEvent struct {
	Envelope Envelope
}

// UnroutedMessageEvent is raised when a message without an explicit target
// leaves a source with no outgoing edges and is dropped.
type UnroutedMessageEvent struct {
	Envelope Envelope
}

// RequestInfoEvent is raised when an executor posts an external request.
type RequestInfoEvent struct {
	Request ExternalRequest
}

// WorkflowOutputEvent carries a value yielded by an output producer.
type WorkflowOutputEvent struct {
	ExecutorID string
	Value      any
}

// WorkflowCompletedEvent is the terminal event of a run.
type WorkflowCompletedEvent struct {
	Reason CompletionReason
}

// RequestHaltEvent is raised when an executor requests cooperative
// termination.
type RequestHaltEvent struct {
	ExecutorID string
}

// AgentRunUpdateEvent carries a streaming update from an agent-backed
// executor.
type AgentRunUpdateEvent struct {
	ExecutorID string
	Update     any
}

func (ExecutorInvokedEvent) event()   {}
func (ExecutorCompletedEvent) event() {}
func (ExecutorFailedEvent) event()    {}
func (WorkflowFailedEvent) event()    {}
func (MessageSendEvent) event()       {}
func (UnroutedMessageEvent) event()   {}
func (RequestInfoEvent) event()       {}
func (WorkflowOutputEvent) event()    {}
func (WorkflowCompletedEvent) event() {}
func (RequestHaltEvent) event()       {}
func (AgentRunUpdateEvent) event()    {}
