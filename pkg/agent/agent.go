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

// Package agent wraps AI chat clients with sessions, options merging, and a
// context-provider pipeline.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/conductor/pkg/logger"
	"github.com/kadirpekel/conductor/pkg/message"
	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/session"
)

var (
	// ErrStateKeyConflict indicates two providers on one agent share a state
	// key.
	ErrStateKeyConflict = errors.New("duplicate provider state key")

	// ErrConversationConflict indicates a service-managed conversation
	// coexisting with an active chat-history provider.
	ErrConversationConflict = errors.New("service-managed conversation cannot coexist with a chat-history provider")
)

// Agent runs a conversation turn against a session.
type Agent interface {
	Name() string
	Description() string
	Run(ctx context.Context, sess *session.Session, input []message.ChatMessage, opts *ChatOptions) (*RunResponse, error)
}

// StreamingAgent additionally streams response updates through a callback.
type StreamingAgent interface {
	Agent
	RunStream(ctx context.Context, sess *session.Session, input []message.ChatMessage, opts *ChatOptions, onUpdate func(ChatResponseUpdate)) (*RunResponse, error)
}

// RunResponse is the result of one agent run.
type RunResponse struct {
	Messages       []message.ChatMessage
	ConversationID string
}

// Text concatenates the text of all response messages.
func (r *RunResponse) Text() string {
	return message.JoinText(r.Messages)
}

// ChatAgent wires a chat client with default options, an optional
// chat-history provider, and an ordered list of context providers.
type ChatAgent struct {
	name        string
	description string
	client      ChatClient
	defaults    ChatOptions
	providers   []ContextProvider
	log         *slog.Logger

	mu      sync.Mutex
	history ChatHistoryProvider
}

var _ StreamingAgent = (*ChatAgent)(nil)

// Option customizes a ChatAgent.
type Option func(*ChatAgent)

// WithDescription sets a human-readable description.
func WithDescription(desc string) Option {
	return func(a *ChatAgent) { a.description = desc }
}

// WithDefaultOptions sets the agent-default chat options merged under every
// run's options.
func WithDefaultOptions(opts ChatOptions) Option {
	return func(a *ChatAgent) { a.defaults = opts }
}

// WithHistoryProvider installs a chat-history provider.
func WithHistoryProvider(p ChatHistoryProvider) Option {
	return func(a *ChatAgent) { a.history = p }
}

// WithContextProviders appends context providers, invoked in order.
func WithContextProviders(ps ...ContextProvider) Option {
	return func(a *ChatAgent) { a.providers = append(a.providers, ps...) }
}

// NewChatAgent creates an agent. Provider state keys must be unique across
// the history provider and all context providers.
func NewChatAgent(name string, client ChatClient, opts ...Option) (*ChatAgent, error) {
	if name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if client == nil {
		return nil, fmt.Errorf("chat client is required")
	}

	a := &ChatAgent{
		name:   name,
		client: client,
		log:    logger.Component("agent"),
	}
	for _, opt := range opts {
		opt(a)
	}

	seen := make(map[string]bool)
	if a.history != nil {
		seen[a.history.StateKey()] = true
	}
	for _, p := range a.providers {
		key := p.StateKey()
		if seen[key] {
			return nil, fmt.Errorf("%w: %q", ErrStateKeyConflict, key)
		}
		seen[key] = true
	}

	return a, nil
}

func (a *ChatAgent) Name() string { return a.name }

func (a *ChatAgent) Description() string { return a.description }

func (a *ChatAgent) historyProvider() ChatHistoryProvider {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history
}

// Run executes one conversation turn: merge options, apply history and
// context providers, call the chat client, notify providers, and reconcile
// the session's conversation id.
func (a *ChatAgent) Run(ctx context.Context, sess *session.Session, input []message.ChatMessage, opts *ChatOptions) (*RunResponse, error) {
	return a.run(ctx, sess, input, opts, nil)
}

// RunStream is Run with streaming updates forwarded to onUpdate before the
// folded response is returned. A client that cannot stream degrades to a
// single update carrying the whole response.
func (a *ChatAgent) RunStream(ctx context.Context, sess *session.Session, input []message.ChatMessage, opts *ChatOptions, onUpdate func(ChatResponseUpdate)) (*RunResponse, error) {
	return a.run(ctx, sess, input, opts, onUpdate)
}

func (a *ChatAgent) run(ctx context.Context, sess *session.Session, input []message.ChatMessage, opts *ChatOptions, onUpdate func(ChatResponseUpdate)) (*RunResponse, error) {
	if sess == nil {
		sess = session.New()
	}
	if err := sess.Acquire(); err != nil {
		return nil, err
	}
	defer sess.Release()

	tracer := observability.GetTracer("conductor.agent")
	ctx, span := tracer.Start(ctx, observability.SpanAgentRun,
		trace.WithAttributes(attribute.String(observability.AttrAgentName, a.name)))
	defer span.End()

	history := a.historyProvider()
	pc := ProviderContext{AgentName: a.name, Session: sess}
	merged := MergeOptions(&a.defaults, opts)

	if id, ok := sess.ConversationID(); ok {
		if history != nil {
			return nil, ErrConversationConflict
		}
		merged.ConversationID = id
	}

	msgs := input
	if history != nil {
		var err error
		msgs, err = history.Merge(ctx, pc, input)
		if err != nil {
			return nil, fmt.Errorf("history provider failed: %w", err)
		}
	}

	ai := AIContext{Instructions: merged.Instructions, Messages: msgs, Tools: merged.Tools}
	for _, p := range a.providers {
		var err error
		ai, err = p.Provide(ctx, pc, ai)
		if err != nil {
			return nil, fmt.Errorf("context provider %q failed: %w", p.StateKey(), err)
		}
	}
	merged.Instructions = ai.Instructions
	merged.Tools = ai.Tools

	resp, err := a.invoke(ctx, ai.Messages, &merged, onUpdate)

	metrics := observability.GetMetrics()
	if err != nil {
		metrics.AgentCallsTotal.WithLabelValues(a.name, "error").Inc()
		a.notifyFailure(ctx, pc, history, err)
		return nil, fmt.Errorf("chat client failed: %w", err)
	}
	metrics.AgentCallsTotal.WithLabelValues(a.name, "ok").Inc()

	if history != nil {
		if err := history.OnSuccess(ctx, pc, input, resp.Messages); err != nil {
			return nil, fmt.Errorf("history provider failed to persist: %w", err)
		}
	}
	for _, p := range a.providers {
		if err := p.OnSuccess(ctx, pc, input, resp.Messages); err != nil {
			return nil, fmt.Errorf("context provider %q failed to persist: %w", p.StateKey(), err)
		}
	}

	if err := a.reconcileConversation(ctx, sess, history, resp, input); err != nil {
		return nil, err
	}

	return &RunResponse{Messages: resp.Messages, ConversationID: resp.ConversationID}, nil
}

func (a *ChatAgent) invoke(ctx context.Context, msgs []message.ChatMessage, opts *ChatOptions, onUpdate func(ChatResponseUpdate)) (*ChatResponse, error) {
	if onUpdate == nil {
		return a.client.GetResponse(ctx, msgs, opts)
	}

	streaming, ok := a.client.(ChatStreamingClient)
	if !ok {
		resp, err := a.client.GetResponse(ctx, msgs, opts)
		if err != nil {
			return nil, err
		}
		for _, m := range resp.Messages {
			onUpdate(ChatResponseUpdate{Role: m.Role, Contents: m.Contents, ConversationID: resp.ConversationID})
		}
		return resp, nil
	}

	updates, err := streaming.GetStreamingResponse(ctx, msgs, opts)
	if err != nil {
		return nil, err
	}
	var collected []ChatResponseUpdate
	for u := range updates {
		onUpdate(u)
		collected = append(collected, u)
	}
	return JoinUpdates(collected), nil
}

func (a *ChatAgent) notifyFailure(ctx context.Context, pc ProviderContext, history ChatHistoryProvider, cause error) {
	if history != nil {
		if err := history.OnFailure(ctx, pc, cause); err != nil {
			a.log.Warn("history provider failure hook errored", "agent", a.name, "error", err)
		}
	}
	for _, p := range a.providers {
		if err := p.OnFailure(ctx, pc, cause); err != nil {
			a.log.Warn("context provider failure hook errored", "agent", a.name, "provider", p.StateKey(), "error", err)
		}
	}
}

// reconcileConversation applies the service's conversation id to the session
// or, when the service manages no conversation, installs the default history
// provider so subsequent runs retain context.
func (a *ChatAgent) reconcileConversation(ctx context.Context, sess *session.Session, history ChatHistoryProvider, resp *ChatResponse, input []message.ChatMessage) error {
	if resp.ConversationID != "" {
		if history != nil {
			return ErrConversationConflict
		}
		return sess.SetConversationID(resp.ConversationID)
	}

	if history != nil {
		return nil
	}
	if _, serviceBacked := sess.ConversationID(); serviceBacked {
		return nil
	}

	a.mu.Lock()
	if a.history == nil {
		a.history = NewInMemoryHistoryProvider("")
	}
	installed := a.history
	a.mu.Unlock()

	// The just-installed provider missed this run's success hook; persist
	// the exchange so the next run sees it.
	pc := ProviderContext{AgentName: a.name, Session: sess}
	return installed.OnSuccess(ctx, pc, input, resp.Messages)
}
