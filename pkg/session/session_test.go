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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conductor/pkg/message"
)

func TestDisciplineExclusivity(t *testing.T) {
	t.Run("service then local", func(t *testing.T) {
		s := NewServiceBacked("conv-1")
		err := s.SetStore(NewInMemoryStore())
		require.ErrorIs(t, err, ErrDisciplineConflict)

		// The failed call must not mutate the session.
		id, ok := s.ConversationID()
		require.True(t, ok)
		assert.Equal(t, "conv-1", id)
		_, hasStore := s.Store()
		assert.False(t, hasStore)
	})

	t.Run("local then service", func(t *testing.T) {
		s := NewLocallyManaged(nil)
		err := s.SetConversationID("conv-1")
		require.ErrorIs(t, err, ErrDisciplineConflict)

		_, hasID := s.ConversationID()
		assert.False(t, hasID)
		_, hasStore := s.Store()
		assert.True(t, hasStore)
	})
}

func TestServiceBackedRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewServiceBacked("conv-42")

	data, err := s.Serialize(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"conversationId":"conv-42"}`, string(data))

	restored, err := Deserialize(ctx, data)
	require.NoError(t, err)
	id, ok := restored.ConversationID()
	require.True(t, ok)
	assert.Equal(t, "conv-42", id)
	_, hasStore := restored.Store()
	assert.False(t, hasStore)
}

func TestLocallyManagedRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewLocallyManaged(nil)
	store, _ := s.Store()

	msgs := []message.ChatMessage{
		message.NewUserText("hello"),
		{
			Role:       message.RoleAssistant,
			AuthorName: "helper",
			Contents: []message.Content{
				message.TextContent{Text: "hi"},
				message.FunctionCallContent{Name: "lookup", CallID: "c1", Arguments: map[string]any{"q": "x"}},
			},
		},
	}
	require.NoError(t, store.Add(ctx, msgs...))
	require.NoError(t, s.PutState("history", map[string]any{"cursor": float64(2)}))

	data, err := s.Serialize(ctx)
	require.NoError(t, err)

	restored, err := Deserialize(ctx, data)
	require.NoError(t, err)
	restoredStore, ok := restored.Store()
	require.True(t, ok)

	got, err := restoredStore.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, message.RoleUser, got[0].Role)
	assert.Equal(t, "helper", got[1].AuthorName)
	require.Len(t, got[1].Contents, 2)
	assert.IsType(t, message.TextContent{}, got[1].Contents[0])
	call, ok := got[1].Contents[1].(message.FunctionCallContent)
	require.True(t, ok)
	assert.Equal(t, "lookup", call.Name)
	assert.Equal(t, "c1", call.CallID)

	var st map[string]any
	found, err := restored.GetState("history", &st)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, float64(2), st["cursor"])
}

func TestDeserializeRejectsMixedShape(t *testing.T) {
	ctx := context.Background()

	t.Run("both keys", func(t *testing.T) {
		_, err := Deserialize(ctx, []byte(`{"conversationId":"c","storeState":{}}`))
		require.ErrorIs(t, err, ErrInvalidSessionData)
	})

	t.Run("non-object", func(t *testing.T) {
		_, err := Deserialize(ctx, []byte(`[1,2,3]`))
		require.ErrorIs(t, err, ErrInvalidSessionData)
	})

	t.Run("conversation id wrong type", func(t *testing.T) {
		_, err := Deserialize(ctx, []byte(`{"conversationId":7}`))
		require.ErrorIs(t, err, ErrInvalidSessionData)
	})
}

func TestStateBag(t *testing.T) {
	s := New()
	require.NoError(t, s.PutState("b", 1))
	require.NoError(t, s.PutState("a", "x"))

	assert.Equal(t, []string{"a", "b"}, s.StateKeys())

	var n int
	found, err := s.GetState("b", &n)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, n)

	s.RemoveState("b")
	found, err = s.GetState("b", &n)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestExclusiveRunLock(t *testing.T) {
	s := New()
	require.NoError(t, s.Acquire())
	require.ErrorIs(t, s.Acquire(), ErrSessionBusy)
	s.Release()
	require.NoError(t, s.Acquire())
}

func TestSerializeEmptyLocalSession(t *testing.T) {
	ctx := context.Background()
	s := NewLocallyManaged(nil)

	data, err := s.Serialize(ctx)
	require.NoError(t, err)

	var wire map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &wire))
	_, hasStore := wire["storeState"]
	assert.True(t, hasStore)
	_, hasConversation := wire["conversationId"]
	assert.False(t, hasConversation)
}
