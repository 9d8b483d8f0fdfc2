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
	"sync"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/message"
	"github.com/kadirpekel/conductor/pkg/workflow"
)

// TurnToken marks a turn boundary in group-chat workflows and carries
// event-emission preferences.
type TurnToken struct {
	EmitEvents bool
}

// GroupChatManager decides how a group chat proceeds.
type GroupChatManager interface {
	// SelectNextAgent returns the participant to speak next. It must return
	// a participant id.
	SelectNextAgent(history []message.ChatMessage) (string, error)

	// UpdateHistory optionally filters the history before the next turn.
	UpdateHistory(history []message.ChatMessage) []message.ChatMessage

	// ShouldTerminate reports whether the chat is complete.
	ShouldTerminate(history []message.ChatMessage) bool

	// Reset clears internal counters; called at workflow reset.
	Reset()
}

// TerminationPredicate is an optional user check consulted before the
// default iteration-count termination.
type TerminationPredicate func(history []message.ChatMessage) bool

// RoundRobinManager cycles through a fixed participant list, terminating
// after a maximum number of iterations or when the optional predicate fires.
type RoundRobinManager struct {
	participants  []string
	maxIterations int
	predicate     TerminationPredicate

	mu        sync.Mutex
	iteration int
}

var _ GroupChatManager = (*RoundRobinManager)(nil)

// NewRoundRobinManager creates a round-robin manager. maxIterations must be
// at least 1.
func NewRoundRobinManager(participants []string, maxIterations int, predicate TerminationPredicate) (*RoundRobinManager, error) {
	if len(participants) == 0 {
		return nil, fmt.Errorf("round-robin manager needs at least one participant")
	}
	if maxIterations < 1 {
		return nil, fmt.Errorf("maximum iteration count must be at least 1, got %d", maxIterations)
	}
	return &RoundRobinManager{
		participants:  participants,
		maxIterations: maxIterations,
		predicate:     predicate,
	}, nil
}

func (m *RoundRobinManager) SelectNextAgent([]message.ChatMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.participants[m.iteration%len(m.participants)]
	m.iteration++
	return next, nil
}

func (m *RoundRobinManager) UpdateHistory(history []message.ChatMessage) []message.ChatMessage {
	return history
}

func (m *RoundRobinManager) ShouldTerminate(history []message.ChatMessage) bool {
	if m.predicate != nil && m.predicate(history) {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.iteration >= m.maxIterations
}

func (m *RoundRobinManager) Reset() {
	m.mu.Lock()
	m.iteration = 0
	m.mu.Unlock()
}

// IterationCount returns the number of turns taken so far.
func (m *RoundRobinManager) IterationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.iteration
}

// groupTurn asks a participant to speak on the given history.
type groupTurn struct {
	Messages []message.ChatMessage
	Token    TurnToken
}

// groupReply carries a participant's response back to the host.
type groupReply struct {
	From     string
	Messages []message.ChatMessage
}

const hostID = "host"

// GroupChatBuilder assembles a managed group chat workflow.
type GroupChatBuilder struct {
	name           string
	managerFactory func() GroupChatManager
	agents         []agent.Agent
}

// NewGroupChatBuilder creates a builder. The factory produces the manager
// owned by the host executor.
func NewGroupChatBuilder(managerFactory func() GroupChatManager) *GroupChatBuilder {
	return &GroupChatBuilder{name: "group-chat", managerFactory: managerFactory}
}

// WithName overrides the workflow name.
func (b *GroupChatBuilder) WithName(name string) *GroupChatBuilder {
	b.name = name
	return b
}

// AddParticipants appends participants in speaking-order declaration.
func (b *GroupChatBuilder) AddParticipants(agents ...agent.Agent) *GroupChatBuilder {
	b.agents = append(b.agents, agents...)
	return b
}

// Build produces the workflow: one host plus one executor per participant,
// with edges between the host and every agent.
func (b *GroupChatBuilder) Build() (*workflow.Workflow, error) {
	if b.managerFactory == nil {
		return nil, fmt.Errorf("%w: group chat needs a manager factory", workflow.ErrInvalidWorkflow)
	}
	if len(b.agents) == 0 {
		return nil, fmt.Errorf("%w: group chat needs at least one participant", workflow.ErrInvalidWorkflow)
	}

	wb := workflow.NewBuilder(b.name)
	ids := make([]string, len(b.agents))
	for i, a := range b.agents {
		exec := newGroupParticipant(a)
		ids[i] = exec.ID()
		wb.AddExecutor(exec)
		wb.AddEdge(exec.ID(), hostID)
	}

	host := newHostExecutor(b.managerFactory(), ids)
	wb.AddExecutor(host)
	wb.SetStart(hostID)
	wb.MarkOutput(hostID)
	// The host addresses the selected speaker directly; the fan-out edge
	// documents the host-to-participant topology for graph consumers.
	wb.AddFanOut(hostID, ids, nil)

	return wb.Build()
}

// newHostExecutor creates the host owning the chat manager.
func newHostExecutor(manager GroupChatManager, participants []string) *HostExecutor {
	return &HostExecutor{manager: manager, participants: participants}
}

// HostExecutor drives the group chat: it appends replies to the shared
// history, consults the manager for termination and speaker selection, and
// yields the final conversation.
type HostExecutor struct {
	manager      GroupChatManager
	participants []string
	history      []message.ChatMessage
}

var (
	_ workflow.Executor   = (*HostExecutor)(nil)
	_ workflow.Resettable = (*HostExecutor)(nil)
)

func (h *HostExecutor) ID() string { return hostID }

func (h *HostExecutor) InputTypes() []message.TypeID {
	return append(conversationInputTypes(), message.TypeIDOf(groupReply{}))
}

func (h *HostExecutor) OutputTypes() []message.TypeID {
	return []message.TypeID{message.TypeIDOf(groupTurn{})}
}

func (h *HostExecutor) Reset() {
	h.history = nil
	h.manager.Reset()
}

func (h *HostExecutor) Handle(_ context.Context, env workflow.Envelope, wc workflow.Context) error {
	switch p := env.Payload.(type) {
	case groupReply:
		h.history = append(h.history, p.Messages...)
	default:
		conv, err := asConversation(env.Payload)
		if err != nil {
			return err
		}
		h.history = append(h.history, conv...)
	}

	if h.manager.ShouldTerminate(h.history) {
		return wc.YieldOutput(append([]message.ChatMessage(nil), h.history...))
	}

	h.history = h.manager.UpdateHistory(h.history)

	next, err := h.manager.SelectNextAgent(h.history)
	if err != nil {
		return fmt.Errorf("speaker selection failed: %w", err)
	}
	if !h.isParticipant(next) {
		return fmt.Errorf("manager selected %q, which is not a participant", next)
	}

	wc.SendTo(next, groupTurn{
		Messages: append([]message.ChatMessage(nil), h.history...),
		Token:    TurnToken{EmitEvents: true},
	})
	return nil
}

func (h *HostExecutor) isParticipant(id string) bool {
	for _, p := range h.participants {
		if p == id {
			return true
		}
	}
	return false
}

// newGroupParticipant wraps an agent for group-chat turns: it speaks on the
// delivered history and reports only its reply back to the host.
func newGroupParticipant(a agent.Agent) *groupParticipant {
	return &groupParticipant{inner: NewAgentExecutor(a)}
}

type groupParticipant struct {
	inner *AgentExecutor
}

var (
	_ workflow.Executor   = (*groupParticipant)(nil)
	_ workflow.Resettable = (*groupParticipant)(nil)
)

func (e *groupParticipant) ID() string { return e.inner.ID() }

func (e *groupParticipant) InputTypes() []message.TypeID {
	return []message.TypeID{message.TypeIDOf(groupTurn{})}
}

func (e *groupParticipant) OutputTypes() []message.TypeID {
	return []message.TypeID{message.TypeIDOf(groupReply{})}
}

func (e *groupParticipant) Reset() { e.inner.Reset() }

func (e *groupParticipant) Handle(ctx context.Context, env workflow.Envelope, wc workflow.Context) error {
	turn, ok := env.Payload.(groupTurn)
	if !ok {
		return fmt.Errorf("%w: participant %q expects a group turn, got %T",
			workflow.ErrTypeMismatch, e.ID(), env.Payload)
	}

	resp, err := e.inner.run(ctx, turn.Messages, wc)
	if err != nil {
		return fmt.Errorf("agent %q failed: %w", e.ID(), err)
	}

	wc.Send(groupReply{From: e.ID(), Messages: resp.Messages})
	return nil
}
