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

package session

import (
	"context"
	"sync"

	"github.com/kadirpekel/conductor/pkg/message"
)

// MessageStore holds the chat history of a locally managed session.
type MessageStore interface {
	// Add appends messages in order.
	Add(ctx context.Context, msgs ...message.ChatMessage) error

	// Messages returns the full history in insertion order.
	Messages(ctx context.Context) ([]message.ChatMessage, error)

	// Clear removes all messages.
	Clear(ctx context.Context) error
}

// InMemoryStore is the default message store.
type InMemoryStore struct {
	mu   sync.RWMutex
	msgs []message.ChatMessage
}

var _ MessageStore = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Add(_ context.Context, msgs ...message.ChatMessage) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, msgs...)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Messages(_ context.Context) ([]message.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]message.ChatMessage, len(s.msgs))
	copy(out, s.msgs)
	return out, nil
}

func (s *InMemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.msgs = nil
	s.mu.Unlock()
	return nil
}
