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
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/message"
	"github.com/kadirpekel/conductor/pkg/session"
)

type echoAgent struct {
	name  string
	calls int
}

var _ agent.Agent = (*echoAgent)(nil)

func (a *echoAgent) Name() string        { return a.name }
func (a *echoAgent) Description() string { return "" }

// Run replies with the size of the history it was given, so tests can verify
// the whole conversation log reaches the agent.
func (a *echoAgent) Run(_ context.Context, _ *session.Session, messages []message.ChatMessage, _ *agent.ChatOptions) (*agent.RunResponse, error) {
	a.calls++
	reply := fmt.Sprintf("seen %d", len(messages))
	return &agent.RunResponse{Messages: []message.ChatMessage{message.NewAssistantText(reply)}}, nil
}

type staticResolver map[string]agent.Agent

func (r staticResolver) Resolve(name string) (agent.Agent, bool) {
	a, ok := r[strings.ToLower(name)]
	return a, ok
}

type virtualClock struct {
	now time.Time
}

func (c *virtualClock) Now() time.Time          { return c.now }
func (c *virtualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type scheduledSignal struct {
	ID SessionID
	At time.Time
}

type recordingScheduler struct {
	signals []scheduledSignal
}

func (s *recordingScheduler) Schedule(id SessionID, at time.Time) {
	s.signals = append(s.signals, scheduledSignal{ID: id, At: at})
}

func newTestEntity(t *testing.T, cfg Config, a agent.Agent) (*Entity, *InMemoryStateStore, *virtualClock, *recordingScheduler) {
	t.Helper()
	store := NewInMemoryStateStore()
	clock := &virtualClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	scheduler := &recordingScheduler{}
	resolver := staticResolver{}
	id := SessionID{AgentName: "assistant", SessionKey: "user-1"}
	if a != nil {
		resolver[strings.ToLower(a.(*echoAgent).name)] = a
	}
	e, err := NewEntity(id, store, resolver, scheduler, cfg, WithEntityClock(clock))
	require.NoError(t, err)
	return e, store, clock, scheduler
}

func minuteTTL() Config {
	ttl := time.Minute
	return Config{DefaultTimeToLive: &ttl}
}

func TestConfigValidation(t *testing.T) {
	require.NoError(t, Config{MinSignalDelay: 5 * time.Minute}.Validate())
	require.Error(t, Config{MinSignalDelay: 6 * time.Minute}.Validate())
	require.Error(t, Config{MinSignalDelay: -time.Second}.Validate())

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.NotNil(t, cfg.DefaultTimeToLive)
	assert.Equal(t, 14*24*time.Hour, *cfg.DefaultTimeToLive)
}

func TestEmptyRequestIsNoOp(t *testing.T) {
	e, store, _, scheduler := newTestEntity(t, minuteTTL(), &echoAgent{name: "assistant"})

	resp, err := e.Run(context.Background(), RunRequest{CorrelationID: "c1"})
	require.NoError(t, err)
	assert.Empty(t, resp.Messages)

	st, err := store.Load(context.Background(), e.ID())
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.Empty(t, scheduler.signals)
}

func TestRunAppendsAndSchedules(t *testing.T) {
	a := &echoAgent{name: "assistant"}
	e, store, clock, scheduler := newTestEntity(t, minuteTTL(), a)
	ctx := context.Background()

	resp, err := e.Run(ctx, RunRequest{CorrelationID: "c1", Messages: []message.ChatMessage{message.NewUserText("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "seen 1", resp.Messages[0].Text())

	st, err := store.Load(ctx, e.ID())
	require.NoError(t, err)
	require.NotNil(t, st)
	require.Len(t, st.ConversationLog, 2)
	assert.Equal(t, entryRequest, st.ConversationLog[0].Kind)
	assert.Equal(t, entryResponse, st.ConversationLog[1].Kind)
	require.NotNil(t, st.ExpirationTimeUTC)
	assert.Equal(t, clock.Now().Add(time.Minute), *st.ExpirationTimeUTC)

	// The first interaction schedules the expiry check; later ones only
	// refresh the expiration time.
	require.Len(t, scheduler.signals, 1)
	assert.Equal(t, *st.ExpirationTimeUTC, scheduler.signals[0].At)

	clock.Advance(30 * time.Second)
	resp, err = e.Run(ctx, RunRequest{CorrelationID: "c2", Messages: []message.ChatMessage{message.NewUserText("again")}})
	require.NoError(t, err)
	// Full log so far: request, response, request.
	assert.Equal(t, "seen 3", resp.Messages[0].Text())
	assert.Len(t, scheduler.signals, 1)

	st, err = store.Load(ctx, e.ID())
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Minute), *st.ExpirationTimeUTC)
}

func TestRunIsIdempotentPerCorrelationID(t *testing.T) {
	a := &echoAgent{name: "assistant"}
	e, store, _, _ := newTestEntity(t, minuteTTL(), a)
	ctx := context.Background()

	req := RunRequest{CorrelationID: "dup", Messages: []message.ChatMessage{message.NewUserText("hi")}}
	first, err := e.Run(ctx, req)
	require.NoError(t, err)

	second, err := e.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Messages, second.Messages)
	assert.Equal(t, 1, a.calls)

	st, err := store.Load(ctx, e.ID())
	require.NoError(t, err)
	assert.Len(t, st.ConversationLog, 2)
}

func TestRunUnregisteredAgent(t *testing.T) {
	e, store, _, _ := newTestEntity(t, minuteTTL(), nil)

	_, err := e.Run(context.Background(), RunRequest{
		CorrelationID: "c1",
		Messages:      []message.ChatMessage{message.NewUserText("hi")},
	})
	var notRegistered *AgentNotRegisteredError
	require.ErrorAs(t, err, &notRegistered)
	assert.Equal(t, "assistant", notRegistered.Name)

	// Failure before the agent ran leaves no state behind.
	st, err := store.Load(context.Background(), e.ID())
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestExpiryDeletesState(t *testing.T) {
	a := &echoAgent{name: "assistant"}
	e, store, clock, scheduler := newTestEntity(t, minuteTTL(), a)
	ctx := context.Background()

	_, err := e.Run(ctx, RunRequest{CorrelationID: "c1", Messages: []message.ChatMessage{message.NewUserText("hi")}})
	require.NoError(t, err)
	require.Len(t, scheduler.signals, 1)

	// Past the TTL the scheduled check evicts the state.
	clock.Advance(90 * time.Second)
	require.NoError(t, e.CheckAndDeleteIfExpired(ctx))

	st, err := store.Load(ctx, e.ID())
	require.NoError(t, err)
	assert.Nil(t, st)

	// A run after expiry starts a fresh conversation.
	resp, err := e.Run(ctx, RunRequest{CorrelationID: "c2", Messages: []message.ChatMessage{message.NewUserText("back")}})
	require.NoError(t, err)
	assert.Equal(t, "seen 1", resp.Messages[0].Text())
}

func TestCheckReschedulesWhenRefreshed(t *testing.T) {
	a := &echoAgent{name: "assistant"}
	e, _, clock, scheduler := newTestEntity(t, minuteTTL(), a)
	ctx := context.Background()

	_, err := e.Run(ctx, RunRequest{CorrelationID: "c1", Messages: []message.ChatMessage{message.NewUserText("hi")}})
	require.NoError(t, err)

	// A second interaction pushes the expiration out, so the originally
	// scheduled check finds the entity alive and reschedules.
	clock.Advance(45 * time.Second)
	_, err = e.Run(ctx, RunRequest{CorrelationID: "c2", Messages: []message.ChatMessage{message.NewUserText("more")}})
	require.NoError(t, err)

	clock.Advance(20 * time.Second)
	require.NoError(t, e.CheckAndDeleteIfExpired(ctx))

	require.Len(t, scheduler.signals, 2)
	assert.Equal(t, clock.Now().Add(40*time.Second), scheduler.signals[1].At)
}

func TestMinSignalDelayFloorsSchedule(t *testing.T) {
	ttl := 10 * time.Second
	cfg := Config{DefaultTimeToLive: &ttl, MinSignalDelay: 2 * time.Minute}
	a := &echoAgent{name: "assistant"}
	e, _, clock, scheduler := newTestEntity(t, cfg, a)

	_, err := e.Run(context.Background(), RunRequest{
		CorrelationID: "c1",
		Messages:      []message.ChatMessage{message.NewUserText("hi")},
	})
	require.NoError(t, err)

	// The signal may not fire earlier than the configured minimum delay even
	// though the TTL is shorter.
	require.Len(t, scheduler.signals, 1)
	assert.Equal(t, clock.Now().Add(2*time.Minute), scheduler.signals[0].At)
}

func TestDisabledTTL(t *testing.T) {
	a := &echoAgent{name: "assistant"}
	e, store, _, scheduler := newTestEntity(t, Config{}, a)
	ctx := context.Background()

	_, err := e.Run(ctx, RunRequest{CorrelationID: "c1", Messages: []message.ChatMessage{message.NewUserText("hi")}})
	require.NoError(t, err)

	st, err := store.Load(ctx, e.ID())
	require.NoError(t, err)
	assert.Nil(t, st.ExpirationTimeUTC)
	assert.Empty(t, scheduler.signals)

	// Without an expiration the check is a no-op.
	require.NoError(t, e.CheckAndDeleteIfExpired(ctx))
	st, err = store.Load(ctx, e.ID())
	require.NoError(t, err)
	require.NotNil(t, st)
}

func TestPerAgentTTLOverride(t *testing.T) {
	ttl := time.Minute
	cfg := Config{
		DefaultTimeToLive: &ttl,
		TTLOverrides:      map[string]*time.Duration{"assistant": nil},
	}
	a := &echoAgent{name: "assistant"}
	e, store, _, scheduler := newTestEntity(t, cfg, a)
	ctx := context.Background()

	_, err := e.Run(ctx, RunRequest{CorrelationID: "c1", Messages: []message.ChatMessage{message.NewUserText("hi")}})
	require.NoError(t, err)

	st, err := store.Load(ctx, e.ID())
	require.NoError(t, err)
	assert.Nil(t, st.ExpirationTimeUTC)
	assert.Empty(t, scheduler.signals)
}

func TestStreamingSinkForwardsUpdates(t *testing.T) {
	// echoAgent is not streaming; the entity falls back to the blocking run
	// and the sink stays silent.
	var got []agent.ChatResponseUpdate
	store := NewInMemoryStateStore()
	clock := &virtualClock{now: time.Unix(0, 0)}
	a := &echoAgent{name: "assistant"}
	e, err := NewEntity(
		SessionID{AgentName: "assistant", SessionKey: "k"},
		store,
		staticResolver{"assistant": a},
		&recordingScheduler{},
		minuteTTL(),
		WithEntityClock(clock),
		WithStreamingSink(func(u agent.ChatResponseUpdate) { got = append(got, u) }),
	)
	require.NoError(t, err)

	resp, err := e.Run(context.Background(), RunRequest{
		CorrelationID: "c1",
		Messages:      []message.ChatMessage{message.NewUserText("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "seen 1", resp.Messages[0].Text())
	assert.Empty(t, got)
}

func TestSQLiteStateStoreRoundTrip(t *testing.T) {
	store, err := NewSQLiteStateStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	id := SessionID{AgentName: "assistant", SessionKey: "user-1"}

	st, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, st)

	exp := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	saved := &State{
		ID: id,
		ConversationLog: []LogEntry{
			{CorrelationID: "c1", Kind: entryRequest, Messages: []message.ChatMessage{message.NewUserText("hi")}},
			{CorrelationID: "c1", Kind: entryResponse, Messages: []message.ChatMessage{message.NewAssistantText("hello")}},
		},
		ExpirationTimeUTC: &exp,
		SignalScheduled:   true,
	}
	require.NoError(t, store.Save(ctx, saved))

	// Upsert replaces in place.
	saved.ConversationLog = saved.ConversationLog[:1]
	require.NoError(t, store.Save(ctx, saved))

	loaded, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Len(t, loaded.ConversationLog, 1)
	assert.Equal(t, "hi", loaded.ConversationLog[0].Messages[0].Text())
	assert.True(t, loaded.SignalScheduled)
	require.NotNil(t, loaded.ExpirationTimeUTC)
	assert.True(t, exp.Equal(*loaded.ExpirationTimeUTC))

	require.NoError(t, store.Delete(ctx, id))
	loaded, err = store.Load(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestEntityConstructorValidation(t *testing.T) {
	id := SessionID{AgentName: "a", SessionKey: "k"}
	store := NewInMemoryStateStore()
	resolver := staticResolver{}
	scheduler := &recordingScheduler{}

	_, err := NewEntity(id, nil, resolver, scheduler, Config{})
	require.Error(t, err)
	_, err = NewEntity(id, store, nil, scheduler, Config{})
	require.Error(t, err)
	_, err = NewEntity(id, store, resolver, nil, Config{})
	require.Error(t, err)
	_, err = NewEntity(id, store, resolver, scheduler, Config{MinSignalDelay: 6 * time.Minute})
	require.Error(t, err)
}
