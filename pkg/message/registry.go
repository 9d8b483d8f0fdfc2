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

package message

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// TypeID is a stable, durable identifier for a payload type. It is
// content-addressable: two values of the same underlying Go type always map
// to the same TypeID.
type TypeID string

// TypeIDOf derives the TypeID for a value from its Go type.
func TypeIDOf(v any) TypeID {
	return typeIDFor(reflect.TypeOf(v))
}

func typeIDFor(t reflect.Type) TypeID {
	if t == nil {
		return "nil"
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() != "" {
		return TypeID(t.PkgPath() + "." + t.Name())
	}
	return TypeID(t.String())
}

// Registry maps TypeIDs back to Go types so checkpointed payloads can be
// rehydrated. Registration is idempotent for a given type.
type Registry struct {
	mu    sync.RWMutex
	types map[TypeID]reflect.Type
}

// NewRegistry creates a registry pre-populated with the payload types the
// runtime itself routes: strings, chat messages and chat message lists.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[TypeID]reflect.Type)}
	r.Register("")
	r.Register(false)
	r.Register(ChatMessage{})
	r.Register([]ChatMessage{})
	return r
}

// Register records the type of v and returns its TypeID.
func (r *Registry) Register(v any) TypeID {
	t := reflect.TypeOf(v)
	id := typeIDFor(t)

	r.mu.Lock()
	defer r.mu.Unlock()
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.types[id] = t
	return id
}

// Lookup returns the Go type registered for the given TypeID.
func (r *Registry) Lookup(id TypeID) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[id]
	return t, ok
}

// Marshal serializes a payload together with its TypeID.
func (r *Registry) Marshal(v any) (TypeID, []byte, error) {
	id := TypeIDOf(v)
	data, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal payload %s: %w", id, err)
	}
	return id, data, nil
}

// Unmarshal rehydrates a payload from its TypeID and serialized form. The
// TypeID must have been registered, either explicitly or through NewRegistry.
func (r *Registry) Unmarshal(id TypeID, data []byte) (any, error) {
	t, ok := r.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("payload type %q is not registered", id)
	}

	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload %s: %w", id, err)
	}
	return ptr.Elem().Interface(), nil
}
