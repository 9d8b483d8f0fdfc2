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

// Package session provides per-conversation state containers for agents.
//
// A session follows exactly one of two disciplines, fixed on first use:
//   - Service-backed: holds an opaque conversation id assigned by an external
//     AI service; history lives remotely.
//   - Locally managed: owns a message store holding chat history between runs.
//
// Setting one discipline after the other has been established is a hard
// error. Independent of discipline, a session carries a state bag mapping
// unique provider state keys to JSON-serializable values; providers use it to
// persist their own state across serialize/deserialize.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kadirpekel/conductor/pkg/message"
)

var (
	// ErrDisciplineConflict indicates an attempt to mix the service-backed
	// and locally-managed disciplines on one session.
	ErrDisciplineConflict = errors.New("session discipline already established")

	// ErrSessionBusy indicates a concurrent run attempted to use a session
	// another run holds.
	ErrSessionBusy = errors.New("session is in use by another run")

	// ErrInvalidSessionData indicates serialized session data that is not an
	// object or mixes both discipline keys.
	ErrInvalidSessionData = errors.New("invalid serialized session")
)

// Session is a per-conversation state container.
type Session struct {
	mu             sync.Mutex
	conversationID string
	store          MessageStore
	stateBag       map[string]json.RawMessage
	locked         bool
}

// New creates a session with no discipline established.
func New() *Session {
	return &Session{stateBag: make(map[string]json.RawMessage)}
}

// NewServiceBacked creates a session referencing a remote conversation.
func NewServiceBacked(conversationID string) *Session {
	s := New()
	s.conversationID = conversationID
	return s
}

// NewLocallyManaged creates a session owning the given message store. A nil
// store gets an in-memory one.
func NewLocallyManaged(store MessageStore) *Session {
	s := New()
	if store == nil {
		store = NewInMemoryStore()
	}
	s.store = store
	return s
}

// ConversationID returns the remote conversation id, if the session is
// service-backed.
func (s *Session) ConversationID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID, s.conversationID != ""
}

// SetConversationID establishes the service-backed discipline. It fails if
// the session is already locally managed.
func (s *Session) SetConversationID(id string) error {
	if id == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return fmt.Errorf("%w: session is locally managed", ErrDisciplineConflict)
	}
	s.conversationID = id
	return nil
}

// Store returns the message store, if the session is locally managed.
func (s *Session) Store() (MessageStore, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store, s.store != nil
}

// SetStore establishes the locally-managed discipline. It fails if the
// session is already service-backed.
func (s *Session) SetStore(store MessageStore) error {
	if store == nil {
		return fmt.Errorf("message store cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID != "" {
		return fmt.Errorf("%w: session is service-backed", ErrDisciplineConflict)
	}
	s.store = store
	return nil
}

// PutState stores a JSON-serializable value under a provider state key.
func (s *Session) PutState(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal state %q: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateBag[key] = data
	return nil
}

// GetState reads a state-bag value into out. It reports whether the key was
// present.
func (s *Session) GetState(key string, out any) (bool, error) {
	s.mu.Lock()
	data, ok := s.stateBag[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return true, fmt.Errorf("failed to unmarshal state %q: %w", key, err)
	}
	return true, nil
}

// RemoveState deletes a state-bag entry.
func (s *Session) RemoveState(key string) {
	s.mu.Lock()
	delete(s.stateBag, key)
	s.mu.Unlock()
}

// StateKeys lists the state-bag keys, sorted.
func (s *Session) StateKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.stateBag))
	for k := range s.stateBag {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Acquire takes the session's exclusive run lock. Concurrent runs on the
// same session are disallowed.
func (s *Session) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return ErrSessionBusy
	}
	s.locked = true
	return nil
}

// Release returns the exclusive run lock.
func (s *Session) Release() {
	s.mu.Lock()
	s.locked = false
	s.mu.Unlock()
}

// storeState is the serialized form of a locally managed session.
type storeState struct {
	Messages []message.ChatMessage      `json:"messages"`
	State    map[string]json.RawMessage `json:"state,omitempty"`
}

// serialized is the wire form of a session: exactly one of the two keys.
type serialized struct {
	ConversationID *string          `json:"conversationId,omitempty"`
	StoreState     *json.RawMessage `json:"storeState,omitempty"`
}

// Serialize produces the session's wire form: {"conversationId": ...} for
// service-backed sessions, {"storeState": ...} for locally managed ones.
func (s *Session) Serialize(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	conversationID := s.conversationID
	store := s.store
	bag := make(map[string]json.RawMessage, len(s.stateBag))
	for k, v := range s.stateBag {
		bag[k] = v
	}
	s.mu.Unlock()

	if conversationID != "" {
		return json.Marshal(serialized{ConversationID: &conversationID})
	}

	st := storeState{State: bag}
	if len(st.State) == 0 {
		st.State = nil
	}
	if store != nil {
		msgs, err := store.Messages(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read message store: %w", err)
		}
		st.Messages = msgs
	}
	if st.Messages == nil {
		st.Messages = []message.ChatMessage{}
	}

	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal store state: %w", err)
	}
	raw := json.RawMessage(data)
	return json.Marshal(serialized{StoreState: &raw})
}

// Deserialize rebuilds a session from its wire form. Data mixing both
// discipline keys, or that is not a JSON object, is rejected.
func Deserialize(ctx context.Context, data []byte) (*Session, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionData, err)
	}

	_, hasConversation := probe["conversationId"]
	_, hasStore := probe["storeState"]
	if hasConversation && hasStore {
		return nil, fmt.Errorf("%w: both conversationId and storeState present", ErrInvalidSessionData)
	}

	if hasConversation {
		var id string
		if err := json.Unmarshal(probe["conversationId"], &id); err != nil {
			return nil, fmt.Errorf("%w: conversationId is not a string", ErrInvalidSessionData)
		}
		return NewServiceBacked(id), nil
	}

	s := New()
	if !hasStore {
		return s, nil
	}

	var st storeState
	if err := json.Unmarshal(probe["storeState"], &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionData, err)
	}

	store := NewInMemoryStore()
	if len(st.Messages) > 0 {
		if err := store.Add(ctx, st.Messages...); err != nil {
			return nil, err
		}
	}
	s.store = store
	for k, v := range st.State {
		s.stateBag[k] = v
	}
	return s, nil
}
