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

// Package orchestration composes agents into workflows: sequential chains,
// concurrent fan-outs, handoff graphs, and managed group chats.
package orchestration

import (
	"context"
	"fmt"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/message"
	"github.com/kadirpekel/conductor/pkg/session"
	"github.com/kadirpekel/conductor/pkg/workflow"
)

// conversationInputTypes are the payload types agent-backed executors accept.
func conversationInputTypes() []message.TypeID {
	return []message.TypeID{
		message.TypeIDOf(""),
		message.TypeIDOf(message.ChatMessage{}),
		message.TypeIDOf([]message.ChatMessage{}),
		message.TypeIDOf([]any{}),
	}
}

// asConversation normalizes a routed payload into a message list.
func asConversation(payload any) ([]message.ChatMessage, error) {
	switch p := payload.(type) {
	case string:
		return []message.ChatMessage{message.NewUserText(p)}, nil
	case message.ChatMessage:
		return []message.ChatMessage{p}, nil
	case []message.ChatMessage:
		return p, nil
	case []any:
		var out []message.ChatMessage
		for _, item := range p {
			msgs, err := asConversation(item)
			if err != nil {
				return nil, err
			}
			out = append(out, msgs...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: payload %T is not a conversation", workflow.ErrTypeMismatch, payload)
	}
}

// AgentExecutor runs one agent turn per delivered conversation and sends the
// cumulative message list (input plus response) onward.
type AgentExecutor struct {
	id    string
	agent agent.Agent
	sess  *session.Session
}

var (
	_ workflow.Executor   = (*AgentExecutor)(nil)
	_ workflow.Resettable = (*AgentExecutor)(nil)
)

// NewAgentExecutor wraps an agent as an executor. The executor id is the
// agent's name.
func NewAgentExecutor(a agent.Agent) *AgentExecutor {
	return &AgentExecutor{id: a.Name(), agent: a, sess: session.New()}
}

func (e *AgentExecutor) ID() string { return e.id }

func (e *AgentExecutor) InputTypes() []message.TypeID { return conversationInputTypes() }

func (e *AgentExecutor) OutputTypes() []message.TypeID {
	return []message.TypeID{message.TypeIDOf([]message.ChatMessage{})}
}

// Reset discards the per-run session.
func (e *AgentExecutor) Reset() { e.sess = session.New() }

func (e *AgentExecutor) Handle(ctx context.Context, env workflow.Envelope, wc workflow.Context) error {
	conv, err := asConversation(env.Payload)
	if err != nil {
		return err
	}

	resp, err := e.run(ctx, conv, wc)
	if err != nil {
		return fmt.Errorf("agent %q failed: %w", e.id, err)
	}

	wc.Send(append(append([]message.ChatMessage(nil), conv...), resp.Messages...))
	return nil
}

func (e *AgentExecutor) run(ctx context.Context, conv []message.ChatMessage, wc workflow.Context) (*agent.RunResponse, error) {
	if streaming, ok := e.agent.(agent.StreamingAgent); ok {
		return streaming.RunStream(ctx, e.sess, conv, nil, func(u agent.ChatResponseUpdate) {
			wc.AddEvent(workflow.AgentRunUpdateEvent{ExecutorID: e.id, Update: u})
		})
	}
	return e.agent.Run(ctx, e.sess, conv, nil)
}

// outputSink yields the delivered conversation as the workflow output.
func outputSink(id string) *workflow.ActionExecutor {
	return workflow.NewAction(id, conversationInputTypes(),
		func(_ context.Context, env workflow.Envelope, wc workflow.Context) error {
			conv, err := asConversation(env.Payload)
			if err != nil {
				return err
			}
			return wc.YieldOutput(conv)
		})
}
