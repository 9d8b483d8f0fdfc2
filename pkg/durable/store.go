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

package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// StateStore persists durable entity state. Load returns nil without error
// when no state exists for the id.
type StateStore interface {
	Load(ctx context.Context, id SessionID) (*State, error)
	Save(ctx context.Context, state *State) error
	Delete(ctx context.Context, id SessionID) error
}

// InMemoryStateStore keeps entity state in process memory.
type InMemoryStateStore struct {
	mu     sync.RWMutex
	states map[SessionID][]byte
}

var _ StateStore = (*InMemoryStateStore)(nil)

// NewInMemoryStateStore creates an empty store.
func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{states: make(map[SessionID][]byte)}
}

func (s *InMemoryStateStore) Load(_ context.Context, id SessionID) (*State, error) {
	s.mu.RLock()
	raw, ok := s.states[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to decode state for %s: %w", id, err)
	}
	return &st, nil
}

func (s *InMemoryStateStore) Save(_ context.Context, state *State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", state.ID, err)
	}
	s.mu.Lock()
	s.states[state.ID] = raw
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStateStore) Delete(_ context.Context, id SessionID) error {
	s.mu.Lock()
	delete(s.states, id)
	s.mu.Unlock()
	return nil
}
