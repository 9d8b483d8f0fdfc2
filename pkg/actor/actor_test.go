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

package actor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/message"
	"github.com/kadirpekel/conductor/pkg/session"
)

type mockAgent struct {
	name  string
	reply string
	err   error
}

var _ agent.Agent = (*mockAgent)(nil)

func (a *mockAgent) Name() string        { return a.name }
func (a *mockAgent) Description() string { return "" }

func (a *mockAgent) Run(_ context.Context, _ *session.Session, _ []message.ChatMessage, _ *agent.ChatOptions) (*agent.RunResponse, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &agent.RunResponse{Messages: []message.ChatMessage{message.NewAssistantText(a.reply)}}, nil
}

func TestBusFanout(t *testing.T) {
	bus := NewBus()
	one := bus.Subscribe("t")
	two := bus.Subscribe("t")

	bus.Publish("t", "hello")
	assert.Equal(t, "hello", <-one)
	assert.Equal(t, "hello", <-two)

	bus.Close()
	_, ok := <-one
	assert.False(t, ok)

	// Publishing after close is a no-op.
	bus.Publish("t", "late")
}

func TestGroupChatRoundRobin(t *testing.T) {
	strategy, err := NewRoundRobinStrategy([]string{"a", "b", "c"}, 3)
	require.NoError(t, err)

	chat, err := NewGroupChat(strategy, []agent.Agent{
		&mockAgent{name: "a", reply: "r1"},
		&mockAgent{name: "b", reply: "r2"},
		&mockAgent{name: "c", reply: "r3"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handle, err := chat.Start(ctx, []message.ChatMessage{message.NewUserText("kickoff")})
	require.NoError(t, err)

	var speakers []string
	for u := range handle.Updates() {
		speakers = append(speakers, u.Speaker)
	}

	resp, err := handle.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, speakers)
	assert.Equal(t, "r3", resp.Final)
	// kickoff + three replies.
	assert.Len(t, resp.History, 4)
}

func TestGroupChatHumanInput(t *testing.T) {
	strategy, err := NewRoundRobinStrategy([]string{"a"}, 1)
	require.NoError(t, err)

	injected := false
	human := func(_ context.Context, _ []message.ChatMessage) (*message.ChatMessage, error) {
		if injected {
			return nil, nil
		}
		injected = true
		m := message.NewUserText("please be brief")
		return &m, nil
	}

	chat, err := NewGroupChat(strategy, []agent.Agent{&mockAgent{name: "a", reply: "ok"}},
		WithHumanInput(human))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handle, err := chat.Start(ctx, []message.ChatMessage{message.NewUserText("hi")})
	require.NoError(t, err)

	resp, err := handle.Await(ctx)
	require.NoError(t, err)
	require.True(t, injected)

	var texts []string
	for _, m := range resp.History {
		texts = append(texts, m.Text())
	}
	assert.Contains(t, texts, "please be brief")
	assert.Equal(t, "ok", resp.Final)
}

func TestGroupChatAgentFailure(t *testing.T) {
	strategy, err := NewRoundRobinStrategy([]string{"a"}, 3)
	require.NoError(t, err)

	boom := errors.New("model down")
	chat, err := NewGroupChat(strategy, []agent.Agent{&mockAgent{name: "a", err: boom}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handle, err := chat.Start(ctx, []message.ChatMessage{message.NewUserText("hi")})
	require.NoError(t, err)

	_, err = handle.Await(ctx)
	require.ErrorIs(t, err, boom)
}

func TestRuleBasedStrategy(t *testing.T) {
	strategy, err := NewRuleBasedStrategy([]SelectionRule{
		{Keywords: []string{"billing", "invoice"}, Target: "finance"},
		{Keywords: []string{"error", "crash"}, Target: "support"},
	}, "general", "resolved", 10)
	require.NoError(t, err)

	history := []message.ChatMessage{message.NewUserText("my invoice is wrong")}
	next, err := strategy.SelectNextAgent(history)
	require.NoError(t, err)
	assert.Equal(t, "finance", next)

	history = []message.ChatMessage{message.NewUserText("the app keeps crashing with an error")}
	next, err = strategy.SelectNextAgent(history)
	require.NoError(t, err)
	assert.Equal(t, "support", next)

	history = []message.ChatMessage{message.NewUserText("hello there")}
	next, err = strategy.SelectNextAgent(history)
	require.NoError(t, err)
	assert.Equal(t, "general", next)

	assert.False(t, strategy.ShouldTerminate(history))
	assert.True(t, strategy.ShouldTerminate([]message.ChatMessage{message.NewAssistantText("Resolved, closing the ticket.")}))
}

func TestRuleBasedGroupChat(t *testing.T) {
	strategy, err := NewRuleBasedStrategy([]SelectionRule{
		{Keywords: []string{"weather"}, Target: "meteorologist"},
	}, "generalist", "", 1)
	require.NoError(t, err)

	chat, err := NewGroupChat(strategy, []agent.Agent{
		&mockAgent{name: "meteorologist", reply: "sunny"},
		&mockAgent{name: "generalist", reply: "hello"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handle, err := chat.Start(ctx, []message.ChatMessage{message.NewUserText("what's the weather?")})
	require.NoError(t, err)

	resp, err := handle.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sunny", resp.Final)
}

func TestDuplicateParticipantsRejected(t *testing.T) {
	strategy, err := NewRoundRobinStrategy([]string{"a"}, 1)
	require.NoError(t, err)

	_, err = NewGroupChat(strategy, []agent.Agent{
		&mockAgent{name: "a"},
		&mockAgent{name: "a"},
	})
	require.Error(t, err)
}

func TestStrategyValidation(t *testing.T) {
	_, err := NewRoundRobinStrategy([]string{"a"}, 0)
	require.Error(t, err)

	_, err = NewRuleBasedStrategy(nil, "", "", 1)
	require.Error(t, err)

	_, err = NewRuleBasedStrategy(nil, "x", "", 0)
	require.Error(t, err)
}
