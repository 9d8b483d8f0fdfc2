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

package orchestration

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/message"
	"github.com/kadirpekel/conductor/pkg/workflow"
)

// handoffToolPrefix prefixes the auxiliary tool names a handoff participant
// may invoke to transfer the conversation.
const handoffToolPrefix = "handoff_to_"

// HandoffToolName returns the auxiliary tool name for transferring to the
// given participant.
func HandoffToolName(targetID string) string {
	return handoffToolPrefix + targetID
}

// handoffArgs is the parameter shape of a handoff tool.
type handoffArgs struct {
	Reason string `json:"reason,omitempty"`
}

// handoffTool declares a transfer tool. The executor handles the invocation
// itself, so the definition carries no handler.
func handoffTool(targetID, description string) agent.ToolDefinition {
	tool := agent.NewTool(HandoffToolName(targetID), description,
		func(context.Context, handoffArgs) (any, error) { return nil, nil })
	tool.Handler = nil
	return tool
}

// handoffTurn is the routed record of one handoff participant's turn. Target
// is empty when the agent finished without transferring.
type handoffTurn struct {
	Target   string
	Reason   string
	Messages []message.ChatMessage
}

// HandoffBuilder assembles a workflow in which agents explicitly transfer
// the conversation to each other.
type HandoffBuilder struct {
	name     string
	start    string
	agents   map[string]agent.Agent
	handoffs map[string]map[string]string
	order    []string
	errs     []error
}

// NewHandoffBuilder creates a builder. The first agent added is the starting
// participant unless StartWith overrides it.
func NewHandoffBuilder(name string) *HandoffBuilder {
	if name == "" {
		name = "handoff"
	}
	return &HandoffBuilder{
		name:     name,
		agents:   make(map[string]agent.Agent),
		handoffs: make(map[string]map[string]string),
	}
}

func (b *HandoffBuilder) add(a agent.Agent) string {
	id := a.Name()
	if _, ok := b.agents[id]; !ok {
		b.agents[id] = a
		b.order = append(b.order, id)
		if b.start == "" {
			b.start = id
		}
	}
	return id
}

// StartWith sets the participant that receives the initial input.
func (b *HandoffBuilder) StartWith(a agent.Agent) *HandoffBuilder {
	b.start = b.add(a)
	return b
}

// WithHandoff registers a transfer from one participant to another. The
// optional reason becomes the tool description shown to the model.
func (b *HandoffBuilder) WithHandoff(from, to agent.Agent, reason string) *HandoffBuilder {
	fromID := b.add(from)
	toID := b.add(to)
	if fromID == toID {
		b.errs = append(b.errs, fmt.Errorf("agent %q cannot hand off to itself", fromID))
		return b
	}
	if b.handoffs[fromID] == nil {
		b.handoffs[fromID] = make(map[string]string)
	}
	if reason == "" {
		reason = fmt.Sprintf("Transfer the conversation to %s.", toID)
	}
	b.handoffs[fromID][toID] = reason
	return b
}

// Build produces the workflow: every participant routes through a switch on
// the invoked handoff target, defaulting to the terminal sink.
func (b *HandoffBuilder) Build() (*workflow.Workflow, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("%w: %v", workflow.ErrInvalidWorkflow, b.errs[0])
	}
	if len(b.agents) == 0 {
		return nil, fmt.Errorf("%w: handoff composition needs at least one agent", workflow.ErrInvalidWorkflow)
	}

	wb := workflow.NewBuilder(b.name)
	for _, id := range b.order {
		targets := b.handoffs[id]
		wb.AddExecutor(newHandoffExecutor(b.agents[id], targets))
	}
	wb.AddExecutor(handoffSink(sinkID))
	wb.SetStart(b.start)
	wb.MarkOutput(sinkID)

	for _, id := range b.order {
		var cases []workflow.SwitchCase
		for target := range b.handoffs[id] {
			cases = append(cases, workflow.SwitchCase{
				Predicate: matchHandoffTarget(target),
				Target:    target,
			})
		}
		wb.AddSwitch(id, cases, sinkID)
	}

	return wb.Build()
}

func matchHandoffTarget(target string) func(any) bool {
	return func(p any) bool {
		turn, ok := p.(handoffTurn)
		return ok && turn.Target == target
	}
}

func newHandoffExecutor(a agent.Agent, targets map[string]string) *handoffParticipant {
	tools := make([]agent.ToolDefinition, 0, len(targets))
	allowed := make(map[string]bool, len(targets))
	for target, reason := range targets {
		tools = append(tools, handoffTool(target, reason))
		allowed[target] = true
	}
	return &handoffParticipant{
		inner:   NewAgentExecutor(a),
		tools:   tools,
		allowed: allowed,
	}
}

// handoffParticipant wraps an AgentExecutor, adding the handoff tool
// declarations and turn routing.
type handoffParticipant struct {
	inner   *AgentExecutor
	tools   []agent.ToolDefinition
	allowed map[string]bool
}

var (
	_ workflow.Executor   = (*handoffParticipant)(nil)
	_ workflow.Resettable = (*handoffParticipant)(nil)
)

func (e *handoffParticipant) ID() string { return e.inner.ID() }

func (e *handoffParticipant) InputTypes() []message.TypeID {
	return append(conversationInputTypes(), message.TypeIDOf(handoffTurn{}))
}

func (e *handoffParticipant) OutputTypes() []message.TypeID {
	return []message.TypeID{message.TypeIDOf(handoffTurn{})}
}

func (e *handoffParticipant) Reset() { e.inner.Reset() }

func (e *handoffParticipant) Handle(ctx context.Context, env workflow.Envelope, wc workflow.Context) error {
	var conv []message.ChatMessage
	if turn, ok := env.Payload.(handoffTurn); ok {
		conv = turn.Messages
	} else {
		var err error
		conv, err = asConversation(env.Payload)
		if err != nil {
			return err
		}
	}

	opts := &agent.ChatOptions{Tools: e.tools}
	resp, err := e.runWithOptions(ctx, conv, opts, wc)
	if err != nil {
		return fmt.Errorf("agent %q failed: %w", e.ID(), err)
	}

	cumulative := append(append([]message.ChatMessage(nil), conv...), resp.Messages...)

	target, reason, callID := findHandoffCall(resp.Messages, e.allowed)
	if target != "" {
		// Close the tool call so the next agent sees a well-formed
		// conversation.
		cumulative = append(cumulative, message.ChatMessage{
			Role:     message.RoleTool,
			Contents: []message.Content{message.FunctionResultContent{CallID: callID, Result: "Transferred."}},
		})
		wc.QueueStateUpdate("last_handoff", map[string]any{
			"target": target,
			"reason": reason,
		})
	}

	wc.Send(handoffTurn{Target: target, Reason: reason, Messages: cumulative})
	return nil
}

func (e *handoffParticipant) runWithOptions(ctx context.Context, conv []message.ChatMessage, opts *agent.ChatOptions, wc workflow.Context) (*agent.RunResponse, error) {
	if streaming, ok := e.inner.agent.(agent.StreamingAgent); ok {
		return streaming.RunStream(ctx, e.inner.sess, conv, opts, func(u agent.ChatResponseUpdate) {
			wc.AddEvent(workflow.AgentRunUpdateEvent{ExecutorID: e.ID(), Update: u})
		})
	}
	return e.inner.agent.Run(ctx, e.inner.sess, conv, opts)
}

// findHandoffCall returns the first invoked handoff tool among the declared
// targets.
func findHandoffCall(msgs []message.ChatMessage, allowed map[string]bool) (target, reason, callID string) {
	for _, m := range msgs {
		for _, call := range m.FunctionCalls() {
			if !strings.HasPrefix(call.Name, handoffToolPrefix) {
				continue
			}
			candidate := strings.TrimPrefix(call.Name, handoffToolPrefix)
			if !allowed[candidate] {
				continue
			}
			if r, ok := call.Arguments["reason"].(string); ok {
				reason = r
			}
			return candidate, reason, call.CallID
		}
	}
	return "", "", ""
}

// handoffSink unwraps the final turn record and yields its messages.
func handoffSink(id string) *workflow.ActionExecutor {
	return workflow.NewTypedAction(id, func(_ context.Context, turn handoffTurn, wc workflow.Context) error {
		return wc.YieldOutput(turn.Messages)
	})
}
