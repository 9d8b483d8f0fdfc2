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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/message"
	"github.com/kadirpekel/conductor/pkg/runtime"
	"github.com/kadirpekel/conductor/pkg/session"
	"github.com/kadirpekel/conductor/pkg/workflow"
)

// mockAgent replies with a fixed message list, or via a reply function when
// set.
type mockAgent struct {
	name    string
	reply   string
	replyFn func(input []message.ChatMessage) []message.ChatMessage
	calls   int
}

var _ agent.Agent = (*mockAgent)(nil)

func (a *mockAgent) Name() string        { return a.name }
func (a *mockAgent) Description() string { return "" }

func (a *mockAgent) Run(_ context.Context, _ *session.Session, input []message.ChatMessage, _ *agent.ChatOptions) (*agent.RunResponse, error) {
	a.calls++
	if a.replyFn != nil {
		return &agent.RunResponse{Messages: a.replyFn(input)}, nil
	}
	return &agent.RunResponse{Messages: []message.ChatMessage{message.NewAssistantText(a.reply)}}, nil
}

func runToOutput(t *testing.T, wf *workflow.Workflow, input any) []message.ChatMessage {
	t.Helper()
	r, err := runtime.New(wf, runtime.Options{})
	require.NoError(t, err)
	outputs, err := r.Run(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	msgs, ok := outputs[0].([]message.ChatMessage)
	require.True(t, ok, "output is %T", outputs[0])
	return msgs
}

func TestSequentialComposition(t *testing.T) {
	a := &mockAgent{name: "writer", reply: "draft"}
	b := &mockAgent{name: "editor", reply: "polished"}

	wf, err := NewSequential([]agent.Agent{a, b}, "")
	require.NoError(t, err)

	msgs := runToOutput(t, wf, "topic")
	// Original input plus each agent's reply, in order.
	require.Len(t, msgs, 3)
	assert.Equal(t, "topic", msgs[0].Text())
	assert.Equal(t, "draft", msgs[1].Text())
	assert.Equal(t, "polished", msgs[2].Text())
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestConcurrentAggregate(t *testing.T) {
	agents := []agent.Agent{
		&mockAgent{name: "a", reply: "α"},
		&mockAgent{name: "b", reply: "β"},
		&mockAgent{name: "c", reply: "γ"},
	}

	wf, err := NewConcurrent(agents, nil, "")
	require.NoError(t, err)

	msgs := runToOutput(t, wf, "go")
	require.Len(t, msgs, 3)
	// Default aggregator keeps each participant's last message in
	// declaration order.
	assert.Equal(t, "α", msgs[0].Text())
	assert.Equal(t, "β", msgs[1].Text())
	assert.Equal(t, "γ", msgs[2].Text())
}

func TestConcurrentCustomAggregator(t *testing.T) {
	agents := []agent.Agent{
		&mockAgent{name: "a", reply: "one"},
		&mockAgent{name: "b", reply: "two"},
	}
	aggregator := func(batches []participantBatch) []message.ChatMessage {
		return []message.ChatMessage{message.NewAssistantText(batches[1].Participant)}
	}

	wf, err := NewConcurrent(agents, aggregator, "")
	require.NoError(t, err)

	msgs := runToOutput(t, wf, "go")
	require.Len(t, msgs, 1)
	assert.Equal(t, "b", msgs[0].Text())
}

func TestRoundRobinManagerValidation(t *testing.T) {
	_, err := NewRoundRobinManager([]string{"a"}, 0, nil)
	require.Error(t, err)

	_, err = NewRoundRobinManager(nil, 3, nil)
	require.Error(t, err)
}

func TestGroupChatRoundRobin(t *testing.T) {
	agents := []agent.Agent{
		&mockAgent{name: "first", reply: "r1"},
		&mockAgent{name: "second", reply: "r2"},
		&mockAgent{name: "third", reply: "r3"},
	}

	var manager *RoundRobinManager
	factory := func() GroupChatManager {
		m, err := NewRoundRobinManager([]string{"first", "second", "third"}, 3, nil)
		require.NoError(t, err)
		manager = m
		return m
	}

	wf, err := NewGroupChatBuilder(factory).AddParticipants(agents...).Build()
	require.NoError(t, err)

	msgs := runToOutput(t, wf, "kickoff")
	require.NotEmpty(t, msgs)
	// Three turns, then termination; the final message is the third
	// participant's reply.
	assert.Equal(t, "r3", msgs[len(msgs)-1].Text())
	assert.Equal(t, 3, manager.IterationCount())

	manager.Reset()
	assert.Equal(t, 0, manager.IterationCount())
}

func TestGroupChatPredicateTermination(t *testing.T) {
	agents := []agent.Agent{
		&mockAgent{name: "a", reply: "done"},
		&mockAgent{name: "b", reply: "never"},
	}

	predicate := func(history []message.ChatMessage) bool {
		return len(history) > 0 && history[len(history)-1].Text() == "done"
	}
	factory := func() GroupChatManager {
		m, err := NewRoundRobinManager([]string{"a", "b"}, 10, predicate)
		require.NoError(t, err)
		return m
	}

	wf, err := NewGroupChatBuilder(factory).AddParticipants(agents...).Build()
	require.NoError(t, err)

	msgs := runToOutput(t, wf, "kickoff")
	assert.Equal(t, "done", msgs[len(msgs)-1].Text())
}

func TestHandoff(t *testing.T) {
	a := &mockAgent{
		name: "a",
		replyFn: func([]message.ChatMessage) []message.ChatMessage {
			return []message.ChatMessage{{
				Role: message.RoleAssistant,
				Contents: []message.Content{
					message.FunctionCallContent{
						Name:      HandoffToolName("b"),
						CallID:    "call-1",
						Arguments: map[string]any{"reason": "needs B"},
					},
				},
			}}
		},
	}
	b := &mockAgent{name: "b", reply: "b-reply"}

	wf, err := NewHandoffBuilder("").StartWith(a).WithHandoff(a, b, "").Build()
	require.NoError(t, err)

	msgs := runToOutput(t, wf, "hi")
	require.GreaterOrEqual(t, len(msgs), 4)

	assert.Equal(t, "hi", msgs[0].Text())

	calls := msgs[1].FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, HandoffToolName("b"), calls[0].Name)

	result, ok := msgs[2].Contents[0].(message.FunctionResultContent)
	require.True(t, ok)
	assert.Equal(t, "Transferred.", result.Result)
	assert.Equal(t, "call-1", result.CallID)

	assert.Equal(t, "b-reply", msgs[len(msgs)-1].Text())
	assert.Equal(t, 1, b.calls)
}

func TestHandoffWithoutTransferEndsAtSink(t *testing.T) {
	a := &mockAgent{name: "a", reply: "all done"}
	b := &mockAgent{name: "b", reply: "unused"}

	wf, err := NewHandoffBuilder("").StartWith(a).WithHandoff(a, b, "").Build()
	require.NoError(t, err)

	msgs := runToOutput(t, wf, "hi")
	assert.Equal(t, "all done", msgs[len(msgs)-1].Text())
	assert.Zero(t, b.calls)
}

func TestHandoffToSelfRejected(t *testing.T) {
	a := &mockAgent{name: "a", reply: "x"}
	_, err := NewHandoffBuilder("").WithHandoff(a, a, "").Build()
	require.Error(t, err)
}
