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
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/message"
	"github.com/kadirpekel/conductor/pkg/session"
	"github.com/kadirpekel/conductor/pkg/workflow"
)

// countingAgent tracks its turn number in the session state bag so tests can
// observe whether a session survived between calls.
type countingAgent struct {
	name string
}

var _ agent.Agent = (*countingAgent)(nil)

func (a *countingAgent) Name() string        { return a.name }
func (a *countingAgent) Description() string { return "" }

func (a *countingAgent) Run(_ context.Context, sess *session.Session, _ []message.ChatMessage, _ *agent.ChatOptions) (*agent.RunResponse, error) {
	var turns int
	if _, err := sess.GetState("turns", &turns); err != nil {
		return nil, err
	}
	turns++
	if err := sess.PutState("turns", turns); err != nil {
		return nil, err
	}
	return &agent.RunResponse{
		Messages: []message.ChatMessage{message.NewAssistantText(fmt.Sprintf("turn %d", turns))},
	}, nil
}

func TestAgentCatalogCaseInsensitive(t *testing.T) {
	catalog := NewAgentCatalog()
	require.NoError(t, catalog.Register("Writer", func(Services) (agent.Agent, error) {
		return &countingAgent{name: "writer"}, nil
	}))

	a, err := catalog.Get("WRITER", Services{})
	require.NoError(t, err)
	assert.Equal(t, "writer", a.Name())

	err = catalog.Register("wRiTeR", func(Services) (agent.Agent, error) { return nil, nil })
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	_, err = catalog.Get("missing", Services{})
	require.ErrorAs(t, err, &cfgErr)
}

func TestAgentCatalogNameMismatch(t *testing.T) {
	catalog := NewAgentCatalog()
	require.NoError(t, catalog.Register("writer", func(Services) (agent.Agent, error) {
		return &countingAgent{name: "editor"}, nil
	}))

	_, err := catalog.Get("writer", Services{})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestAgentCatalogFactoryFailure(t *testing.T) {
	catalog := NewAgentCatalog()
	boom := errors.New("no credentials")
	require.NoError(t, catalog.Register("writer", func(Services) (agent.Agent, error) {
		return nil, boom
	}))

	_, err := catalog.Get("writer", Services{})
	require.ErrorIs(t, err, boom)
}

func TestCatalogResolver(t *testing.T) {
	catalog := NewAgentCatalog()
	require.NoError(t, catalog.Register("writer", func(Services) (agent.Agent, error) {
		return &countingAgent{name: "writer"}, nil
	}))

	resolver := catalog.Resolver(Services{})
	a, ok := resolver.Resolve("Writer")
	require.True(t, ok)
	assert.Equal(t, "writer", a.Name())

	_, ok = resolver.Resolve("missing")
	assert.False(t, ok)
}

func TestWorkflowCatalog(t *testing.T) {
	catalog := NewWorkflowCatalog()
	require.NoError(t, catalog.Register("Pipeline", func() (*workflow.Workflow, error) {
		b := workflow.NewBuilder("pipeline")
		b.AddExecutor(workflow.NewAction("start",
			[]message.TypeID{message.TypeIDOf("")},
			func(context.Context, workflow.Envelope, workflow.Context) error { return nil }))
		b.SetStart("start")
		return b.Build()
	}))

	wf, err := catalog.Get("pipeline")
	require.NoError(t, err)
	assert.Equal(t, "pipeline", wf.Name())

	var cfgErr *ConfigurationError
	_, err = catalog.Get("missing")
	require.ErrorAs(t, err, &cfgErr)
	require.Error(t, catalog.Register("PIPELINE", func() (*workflow.Workflow, error) { return nil, nil }))
}

func TestHostAgentPersistsSessions(t *testing.T) {
	store := NewInMemorySessionStore()
	h, err := NewHostAgent(&countingAgent{name: "writer"}, store)
	require.NoError(t, err)
	ctx := context.Background()
	input := []message.ChatMessage{message.NewUserText("hi")}

	resp, convID, err := h.Respond(ctx, "", input, nil)
	require.NoError(t, err)
	require.NotEmpty(t, convID)
	assert.Equal(t, "turn 1", resp.Messages[0].Text())

	// Same conversation resumes the stored session.
	resp, sameID, err := h.Respond(ctx, convID, input, nil)
	require.NoError(t, err)
	assert.Equal(t, convID, sameID)
	assert.Equal(t, "turn 2", resp.Messages[0].Text())

	// A different conversation starts clean.
	resp, _, err = h.Respond(ctx, "other", input, nil)
	require.NoError(t, err)
	assert.Equal(t, "turn 1", resp.Messages[0].Text())
}

func TestHostAgentEndConversation(t *testing.T) {
	store := NewInMemorySessionStore()
	h, err := NewHostAgent(&countingAgent{name: "writer"}, store)
	require.NoError(t, err)
	ctx := context.Background()
	input := []message.ChatMessage{message.NewUserText("hi")}

	_, convID, err := h.Respond(ctx, "conv", input, nil)
	require.NoError(t, err)
	require.NoError(t, h.EndConversation(ctx, convID))

	resp, _, err := h.Respond(ctx, convID, input, nil)
	require.NoError(t, err)
	assert.Equal(t, "turn 1", resp.Messages[0].Text())
}

func TestNoopStoreKeepsNothing(t *testing.T) {
	h, err := NewHostAgent(&countingAgent{name: "writer"}, nil)
	require.NoError(t, err)
	ctx := context.Background()
	input := []message.ChatMessage{message.NewUserText("hi")}

	for i := 0; i < 2; i++ {
		resp, _, err := h.Respond(ctx, "conv", input, nil)
		require.NoError(t, err)
		assert.Equal(t, "turn 1", resp.Messages[0].Text())
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store := NewInMemorySessionStore()
	ctx := context.Background()

	sess := session.NewServiceBacked("conv-9")
	require.NoError(t, store.Save(ctx, "writer", "c1", sess))

	restored, err := store.Get(ctx, "writer", "c1")
	require.NoError(t, err)
	require.NotNil(t, restored)
	cid, ok := restored.ConversationID()
	require.True(t, ok)
	assert.Equal(t, "conv-9", cid)

	missing, err := store.Get(ctx, "writer", "absent")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.Delete(ctx, "writer", "c1"))
	gone, err := store.Get(ctx, "writer", "c1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}
