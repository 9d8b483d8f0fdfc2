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

package host

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/logger"
	"github.com/kadirpekel/conductor/pkg/message"
	"github.com/kadirpekel/conductor/pkg/session"
)

// HostAgent serves an agent over named conversations, restoring the
// conversation's session before each run and persisting it afterwards.
type HostAgent struct {
	agent agent.Agent
	store SessionStore
	log   *slog.Logger
}

// NewHostAgent wraps an agent with per-conversation session persistence. A
// nil store disables persistence.
func NewHostAgent(a agent.Agent, store SessionStore) (*HostAgent, error) {
	if a == nil {
		return nil, configErrorf("host agent requires an agent")
	}
	if store == nil {
		store = NoopSessionStore{}
	}
	return &HostAgent{
		agent: a,
		store: store,
		log:   logger.Component("host"),
	}, nil
}

// Name returns the wrapped agent's name.
func (h *HostAgent) Name() string { return h.agent.Name() }

// Respond runs one turn of the conversation. An empty conversation id starts
// a new conversation; the effective id is returned alongside the response.
func (h *HostAgent) Respond(ctx context.Context, conversationID string, messages []message.ChatMessage, opts *agent.ChatOptions) (*agent.RunResponse, string, error) {
	return h.respond(ctx, conversationID, messages, opts, nil)
}

// RespondStream is Respond with per-update streaming when the wrapped agent
// supports it.
func (h *HostAgent) RespondStream(ctx context.Context, conversationID string, messages []message.ChatMessage, opts *agent.ChatOptions, onUpdate func(agent.ChatResponseUpdate)) (*agent.RunResponse, string, error) {
	return h.respond(ctx, conversationID, messages, opts, onUpdate)
}

func (h *HostAgent) respond(ctx context.Context, conversationID string, messages []message.ChatMessage, opts *agent.ChatOptions, onUpdate func(agent.ChatResponseUpdate)) (*agent.RunResponse, string, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	sess, err := h.getOrCreateSession(ctx, conversationID)
	if err != nil {
		return nil, "", err
	}

	var resp *agent.RunResponse
	if streaming, ok := h.agent.(agent.StreamingAgent); ok && onUpdate != nil {
		resp, err = streaming.RunStream(ctx, sess, messages, opts, onUpdate)
	} else {
		resp, err = h.agent.Run(ctx, sess, messages, opts)
	}
	if err != nil {
		return nil, "", fmt.Errorf("agent %q run failed: %w", h.agent.Name(), err)
	}

	if err := h.store.Save(ctx, h.agent.Name(), conversationID, sess); err != nil {
		// The turn already succeeded; losing persistence should not lose
		// the response.
		h.log.Error("failed to persist session", "agent", h.agent.Name(),
			"conversation", conversationID, "error", err)
	}
	return resp, conversationID, nil
}

func (h *HostAgent) getOrCreateSession(ctx context.Context, conversationID string) (*session.Session, error) {
	sess, err := h.store.Get(ctx, h.agent.Name(), conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session for conversation %q: %w", conversationID, err)
	}
	if sess == nil {
		sess = session.New()
	}
	return sess, nil
}

// EndConversation drops the persisted session for a conversation.
func (h *HostAgent) EndConversation(ctx context.Context, conversationID string) error {
	return h.store.Delete(ctx, h.agent.Name(), conversationID)
}
