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
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/logger"
	"github.com/kadirpekel/conductor/pkg/message"
	"github.com/kadirpekel/conductor/pkg/session"
)

const managerName = "manager"

// groupMessage tags a Group broadcast with its sender so actors can skip
// their own publications.
type groupMessage struct {
	From     string
	Messages []message.ChatMessage
}

// fault reports an agent actor failure to the manager.
type fault struct {
	From string
	Err  error
}

// HumanInputFunc optionally injects a human turn before each manager
// decision. Returning nil means no input.
type HumanInputFunc func(ctx context.Context, history []message.ChatMessage) (*message.ChatMessage, error)

// GroupChat runs a conversation between agent actors coordinated by a
// manager actor on a shared topic.
type GroupChat struct {
	topic      string
	strategy   Strategy
	agents     map[string]agent.Agent
	humanInput HumanInputFunc
	log        *slog.Logger
}

// GroupChatOption customizes a GroupChat.
type GroupChatOption func(*GroupChat)

// WithHumanInput installs a human-in-the-loop callback consulted before each
// manager decision.
func WithHumanInput(fn HumanInputFunc) GroupChatOption {
	return func(g *GroupChat) { g.humanInput = fn }
}

// WithTopic overrides the generated topic name.
func WithTopic(topic string) GroupChatOption {
	return func(g *GroupChat) { g.topic = topic }
}

// NewGroupChat assembles a chat over the given participants.
func NewGroupChat(strategy Strategy, agents []agent.Agent, opts ...GroupChatOption) (*GroupChat, error) {
	if strategy == nil {
		return nil, fmt.Errorf("strategy is required")
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("group chat needs at least one agent")
	}

	g := &GroupChat{
		topic:    "groupchat-" + uuid.NewString(),
		strategy: strategy,
		agents:   make(map[string]agent.Agent, len(agents)),
		log:      logger.Component("actor"),
	}
	for _, a := range agents {
		if _, dup := g.agents[a.Name()]; dup {
			return nil, fmt.Errorf("duplicate participant %q", a.Name())
		}
		g.agents[a.Name()] = a
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Start launches the actors and delivers the initial input to the manager.
// The returned handle yields status updates and the terminal response.
func (g *GroupChat) Start(ctx context.Context, input []message.ChatMessage) (*ResponseHandle, error) {
	bus := NewBus()
	handle := newResponseHandle()
	runCtx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	for name, a := range g.agents {
		actor := &AgentActor{
			name:  name,
			agent: a,
			sess:  session.New(),
			bus:   bus,
			topic: g.topic,
		}
		inbox := bus.Subscribe(g.topic)
		wg.Add(1)
		go func() {
			defer wg.Done()
			actor.run(runCtx, inbox)
		}()
	}

	manager := &ManagerActor{
		strategy:   g.strategy,
		humanInput: g.humanInput,
		bus:        bus,
		topic:      g.topic,
		handle:     handle,
		log:        g.log,
	}
	inbox := bus.Subscribe(g.topic)
	wg.Add(1)
	go func() {
		defer wg.Done()
		manager.run(runCtx, inbox)
	}()

	go func() {
		<-handle.Done()
		cancel()
		bus.Close()
		wg.Wait()
	}()

	bus.Publish(g.topic, InputTask{Messages: input})
	return handle, nil
}

// ManagerActor drives the conversation: on every received input or group
// update it consults the strategy, either finishing with a Result or asking
// the next participant to speak.
type ManagerActor struct {
	strategy   Strategy
	humanInput HumanInputFunc
	bus        *Bus
	topic      string
	handle     *ResponseHandle
	log        *slog.Logger

	turn int
}

func (m *ManagerActor) run(ctx context.Context, inbox <-chan any) {
	for {
		select {
		case <-ctx.Done():
			m.handle.fail(ctx.Err())
			return
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			var history []message.ChatMessage
			switch v := msg.(type) {
			case InputTask:
				history = v.Messages
			case groupMessage:
				if v.From == managerName {
					continue
				}
				history = v.Messages
			case fault:
				m.handle.fail(fmt.Errorf("participant %q failed: %w", v.From, v.Err))
				return
			default:
				continue
			}
			if done := m.step(ctx, history); done {
				return
			}
		}
	}
}

// step runs one manager decision. It reports whether the conversation ended.
func (m *ManagerActor) step(ctx context.Context, history []message.ChatMessage) bool {
	if m.humanInput != nil {
		human, err := m.humanInput(ctx, history)
		if err != nil {
			m.handle.fail(fmt.Errorf("human input failed: %w", err))
			return true
		}
		if human != nil {
			history = append(history, *human)
			m.bus.Publish(m.topic, groupMessage{From: managerName, Messages: history})
		}
	}

	if m.strategy.ShouldTerminate(history) {
		final := m.strategy.FilterResults(history)
		m.bus.Publish(m.topic, Result{Final: final})
		m.handle.finish(&ActorResponse{Final: final, History: history})
		return true
	}

	next, err := m.strategy.SelectNextAgent(history)
	if err != nil {
		m.handle.fail(fmt.Errorf("speaker selection failed: %w", err))
		return true
	}

	m.turn++
	m.handle.update(StatusUpdate{Speaker: next, Turn: m.turn})
	m.bus.Publish(m.topic, Speak{Target: next})
	return false
}

// AgentActor produces a turn when spoken to and keeps its conversation view
// current from group broadcasts.
type AgentActor struct {
	name  string
	agent agent.Agent
	sess  *session.Session
	bus   *Bus
	topic string

	conv []message.ChatMessage
}

func (a *AgentActor) run(ctx context.Context, inbox <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			switch v := msg.(type) {
			case InputTask:
				a.conv = v.Messages
			case groupMessage:
				a.conv = v.Messages
			case Speak:
				if v.Target != a.name {
					continue
				}
				resp, err := a.agent.Run(ctx, a.sess, a.conv, nil)
				if err != nil {
					a.bus.Publish(a.topic, fault{From: a.name, Err: err})
					continue
				}
				a.conv = append(append([]message.ChatMessage(nil), a.conv...), resp.Messages...)
				a.bus.Publish(a.topic, groupMessage{From: a.name, Messages: a.conv})
			}
		}
	}
}

// ActorResponse is the terminal result of a group chat.
type ActorResponse struct {
	Final   string
	History []message.ChatMessage
}

// ResponseHandle lets non-blocking callers observe a running chat: status
// updates stream through Updates, and the terminal response is available
// once Done is closed.
type ResponseHandle struct {
	updates chan StatusUpdate
	done    chan struct{}

	mu   sync.Mutex
	resp *ActorResponse
	err  error
}

func newResponseHandle() *ResponseHandle {
	return &ResponseHandle{
		updates: make(chan StatusUpdate, 64),
		done:    make(chan struct{}),
	}
}

// Updates streams progress notifications. The channel closes when the chat
// ends.
func (h *ResponseHandle) Updates() <-chan StatusUpdate { return h.updates }

// Done is closed when the terminal response is available.
func (h *ResponseHandle) Done() <-chan struct{} { return h.done }

// Response returns the terminal response. It is valid once Done is closed.
func (h *ResponseHandle) Response() (*ActorResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resp, h.err
}

// Await blocks until the chat ends or ctx is cancelled.
func (h *ResponseHandle) Await(ctx context.Context) (*ActorResponse, error) {
	select {
	case <-h.done:
		return h.Response()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *ResponseHandle) update(u StatusUpdate) {
	select {
	case h.updates <- u:
	default:
	}
}

func (h *ResponseHandle) finish(resp *ActorResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resp != nil || h.err != nil {
		return
	}
	h.resp = resp
	close(h.updates)
	close(h.done)
}

func (h *ResponseHandle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resp != nil || h.err != nil {
		return
	}
	h.err = err
	close(h.updates)
	close(h.done)
}
