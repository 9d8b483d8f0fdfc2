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

package agent

import (
	"context"

	"github.com/kadirpekel/conductor/pkg/message"
	"github.com/kadirpekel/conductor/pkg/session"
)

// AIContext is the accumulated model context flowing through the provider
// pipeline: instructions, messages, and tools as they will be sent to the
// chat client.
type AIContext struct {
	Instructions string
	Messages     []message.ChatMessage
	Tools        []ToolDefinition
}

// ProviderContext identifies the agent and session a provider is serving.
type ProviderContext struct {
	AgentName string
	Session   *session.Session
}

// ContextProvider is a pre/post hook around an agent invocation. Providers
// persist their own state in the session state bag under their StateKey.
type ContextProvider interface {
	// StateKey returns the provider's state-bag key. Keys must be unique
	// across all providers attached to one agent.
	StateKey() string

	// Provide returns an updated AIContext before the chat-client call.
	Provide(ctx context.Context, pc ProviderContext, ai AIContext) (AIContext, error)

	// OnSuccess is notified after a successful call with the new request
	// messages and the response messages.
	OnSuccess(ctx context.Context, pc ProviderContext, request, response []message.ChatMessage) error

	// OnFailure is notified when the call failed. The provider must leave
	// its state consistent; no partial append.
	OnFailure(ctx context.Context, pc ProviderContext, cause error) error
}

// ChatHistoryProvider maintains conversation history for locally managed
// sessions. At most one history provider is active per invocation.
type ChatHistoryProvider interface {
	// StateKey returns the provider's state-bag key.
	StateKey() string

	// Merge returns history plus the new input messages.
	Merge(ctx context.Context, pc ProviderContext, input []message.ChatMessage) ([]message.ChatMessage, error)

	// OnSuccess persists the exchange.
	OnSuccess(ctx context.Context, pc ProviderContext, request, response []message.ChatMessage) error

	// OnFailure is notified when the call failed; nothing is persisted.
	OnFailure(ctx context.Context, pc ProviderContext, cause error) error
}

// DefaultHistoryStateKey is the state key of the in-memory history provider.
const DefaultHistoryStateKey = "chat_history"

// InMemoryHistoryProvider stores history in the session's message store,
// establishing the locally-managed discipline on first use.
type InMemoryHistoryProvider struct {
	stateKey string
}

var _ ChatHistoryProvider = (*InMemoryHistoryProvider)(nil)

// NewInMemoryHistoryProvider creates the default history provider. An empty
// stateKey falls back to DefaultHistoryStateKey.
func NewInMemoryHistoryProvider(stateKey string) *InMemoryHistoryProvider {
	if stateKey == "" {
		stateKey = DefaultHistoryStateKey
	}
	return &InMemoryHistoryProvider{stateKey: stateKey}
}

func (p *InMemoryHistoryProvider) StateKey() string { return p.stateKey }

func (p *InMemoryHistoryProvider) store(pc ProviderContext) (session.MessageStore, error) {
	if store, ok := pc.Session.Store(); ok {
		return store, nil
	}
	store := session.NewInMemoryStore()
	if err := pc.Session.SetStore(store); err != nil {
		return nil, err
	}
	return store, nil
}

func (p *InMemoryHistoryProvider) Merge(ctx context.Context, pc ProviderContext, input []message.ChatMessage) ([]message.ChatMessage, error) {
	store, err := p.store(pc)
	if err != nil {
		return nil, err
	}
	history, err := store.Messages(ctx)
	if err != nil {
		return nil, err
	}
	return append(history, input...), nil
}

func (p *InMemoryHistoryProvider) OnSuccess(ctx context.Context, pc ProviderContext, request, response []message.ChatMessage) error {
	store, err := p.store(pc)
	if err != nil {
		return err
	}
	exchange := append(append([]message.ChatMessage(nil), request...), response...)
	return store.Add(ctx, exchange...)
}

func (p *InMemoryHistoryProvider) OnFailure(context.Context, ProviderContext, error) error {
	return nil
}
