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
	"sync"

	"github.com/kadirpekel/conductor/pkg/session"
)

// SessionStore persists sessions per (agent, conversation). Get returns nil
// without error when no session is stored.
type SessionStore interface {
	Get(ctx context.Context, agentName, conversationID string) (*session.Session, error)
	Save(ctx context.Context, agentName, conversationID string, sess *session.Session) error
	Delete(ctx context.Context, agentName, conversationID string) error
}

type sessionKey struct {
	Agent        string
	Conversation string
}

// InMemorySessionStore keeps serialized sessions in process memory.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[sessionKey][]byte
}

var _ SessionStore = (*InMemorySessionStore)(nil)

// NewInMemorySessionStore creates an empty store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[sessionKey][]byte)}
}

func (s *InMemorySessionStore) Get(ctx context.Context, agentName, conversationID string) (*session.Session, error) {
	s.mu.RLock()
	raw, ok := s.sessions[sessionKey{agentName, conversationID}]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	sess, err := session.Deserialize(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to restore session %s/%s: %w", agentName, conversationID, err)
	}
	return sess, nil
}

func (s *InMemorySessionStore) Save(ctx context.Context, agentName, conversationID string, sess *session.Session) error {
	raw, err := sess.Serialize(ctx)
	if err != nil {
		return fmt.Errorf("failed to serialize session %s/%s: %w", agentName, conversationID, err)
	}
	s.mu.Lock()
	s.sessions[sessionKey{agentName, conversationID}] = raw
	s.mu.Unlock()
	return nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, agentName, conversationID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionKey{agentName, conversationID})
	s.mu.Unlock()
	return nil
}

// NoopSessionStore discards sessions; every conversation starts fresh.
type NoopSessionStore struct{}

var _ SessionStore = NoopSessionStore{}

func (NoopSessionStore) Get(context.Context, string, string) (*session.Session, error) {
	return nil, nil
}

func (NoopSessionStore) Save(context.Context, string, string, *session.Session) error {
	return nil
}

func (NoopSessionStore) Delete(context.Context, string, string) error {
	return nil
}
