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

// Package durable provides uniquely addressable, single-writer session
// entities identified by (agentName, sessionKey). An entity owns an
// append-only conversation log, deduplicates requests by correlation id, and
// evicts its state after a configurable time-to-live via self-scheduled
// expiry checks.
package durable

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/logger"
	"github.com/kadirpekel/conductor/pkg/message"
	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/session"
)

// MaxSignalDelay bounds the configurable minimum signal delay.
const MaxSignalDelay = 5 * time.Minute

// DefaultTimeToLive applies when no TTL is configured explicitly.
const DefaultTimeToLive = 14 * 24 * time.Hour

// SessionID addresses one durable entity.
type SessionID struct {
	AgentName  string `json:"agentName"`
	SessionKey string `json:"sessionKey"`
}

func (id SessionID) String() string {
	return id.AgentName + "/" + id.SessionKey
}

// RunRequest is one durable conversation turn.
type RunRequest struct {
	// CorrelationID deduplicates requests; a repeated id returns the
	// recorded response without appending.
	CorrelationID string `json:"correlationId"`

	Messages         []message.ChatMessage `json:"messages"`
	ResponseFormat   string                `json:"responseFormat,omitempty"`
	EnableToolCalls  bool                  `json:"enableToolCalls"`
	EnabledToolNames []string              `json:"enabledToolNames,omitempty"`
	OrchestrationID  string                `json:"orchestrationId,omitempty"`
}

// RunResponse carries the agent's reply.
type RunResponse struct {
	Messages []message.ChatMessage `json:"messages"`
}

// entryKind tags conversation-log entries.
type entryKind string

const (
	entryRequest  entryKind = "request"
	entryResponse entryKind = "response"
)

// LogEntry is one append-only conversation-log record.
type LogEntry struct {
	CorrelationID string                `json:"correlationId"`
	Kind          entryKind             `json:"kind"`
	Messages      []message.ChatMessage `json:"messages"`
}

// State is the persisted form of one entity.
type State struct {
	ID                SessionID  `json:"id"`
	ConversationLog   []LogEntry `json:"conversationLog"`
	ExpirationTimeUTC *time.Time `json:"expirationTimeUtc,omitempty"`

	// SignalScheduled records that the first-interaction expiry signal was
	// scheduled; later interactions only refresh the expiration time.
	SignalScheduled bool `json:"signalScheduled"`
}

// AgentNotRegisteredError reports a run against an unknown agent name.
type AgentNotRegisteredError struct {
	Name string
}

func (e *AgentNotRegisteredError) Error() string {
	return fmt.Sprintf("agent %q is not registered", e.Name)
}

// AgentResolver looks agents up by name. Lookups are case-insensitive.
type AgentResolver interface {
	Resolve(name string) (agent.Agent, bool)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// SignalScheduler schedules a CheckAndDeleteIfExpired self-signal. The host
// guarantees the signal is delivered after any in-flight operation returns.
type SignalScheduler interface {
	Schedule(id SessionID, at time.Time)
}

// Config bounds the TTL behavior of entities.
type Config struct {
	// MinSignalDelay is the earliest a deletion self-signal may fire after
	// scheduling; it must be within [0, MaxSignalDelay].
	MinSignalDelay time.Duration

	// DefaultTimeToLive applies to agents without an override. Nil disables
	// TTL entirely.
	DefaultTimeToLive *time.Duration

	// TTLOverrides maps agent names to per-agent TTLs, taking precedence
	// over the default. A nil value disables TTL for that agent.
	TTLOverrides map[string]*time.Duration
}

// DefaultConfig returns the stock configuration: no minimum signal delay and
// a 14-day TTL.
func DefaultConfig() Config {
	ttl := DefaultTimeToLive
	return Config{DefaultTimeToLive: &ttl}
}

// Validate rejects out-of-bounds settings.
func (c Config) Validate() error {
	if c.MinSignalDelay < 0 {
		return fmt.Errorf("minimum signal delay cannot be negative, got %s", c.MinSignalDelay)
	}
	if c.MinSignalDelay > MaxSignalDelay {
		return fmt.Errorf("minimum signal delay cannot exceed %s, got %s", MaxSignalDelay, c.MinSignalDelay)
	}
	return nil
}

// ttlFor resolves the effective TTL for an agent name.
func (c Config) ttlFor(agentName string) *time.Duration {
	if override, ok := c.TTLOverrides[strings.ToLower(agentName)]; ok {
		return override
	}
	return c.DefaultTimeToLive
}

// Entity is one durable session. All operations serialize on the entity.
type Entity struct {
	id        SessionID
	store     StateStore
	agents    AgentResolver
	cfg       Config
	clock     Clock
	scheduler SignalScheduler
	sink      func(agent.ChatResponseUpdate)
	log       *slog.Logger

	mu sync.Mutex
}

// EntityOption customizes an Entity.
type EntityOption func(*Entity)

// WithEntityClock overrides the entity's time source.
func WithEntityClock(clock Clock) EntityOption {
	return func(e *Entity) { e.clock = clock }
}

// WithStreamingSink forwards each response update to the sink as it is
// produced.
func WithStreamingSink(sink func(agent.ChatResponseUpdate)) EntityOption {
	return func(e *Entity) { e.sink = sink }
}

// NewEntity creates the entity addressed by id. The configuration must have
// been validated.
func NewEntity(id SessionID, store StateStore, agents AgentResolver, scheduler SignalScheduler, cfg Config, opts ...EntityOption) (*Entity, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if agents == nil {
		return nil, fmt.Errorf("agent resolver is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("signal scheduler is required")
	}

	e := &Entity{
		id:        id,
		store:     store,
		agents:    agents,
		cfg:       cfg,
		clock:     SystemClock(),
		scheduler: scheduler,
		log:       logger.Component("durable"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ID returns the entity's address.
func (e *Entity) ID() SessionID { return e.id }

// Run handles one conversation turn. It is idempotent per correlation id; an
// empty request is a no-op. Runs are not externally cancellable: the
// operation completes or fails as a unit.
func (e *Entity) Run(ctx context.Context, req RunRequest) (*RunResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(req.Messages) == 0 {
		return &RunResponse{}, nil
	}

	tracer := observability.GetTracer("conductor.durable")
	ctx, span := tracer.Start(ctx, observability.SpanDurableRun)
	defer span.End()

	st, err := e.store.Load(ctx, e.id)
	if err != nil {
		return nil, fmt.Errorf("failed to load durable state: %w", err)
	}
	if st == nil {
		st = &State{ID: e.id}
	}

	if resp, dup := recordedResponse(st, req.CorrelationID); dup {
		return resp, nil
	}

	a, ok := e.agents.Resolve(e.id.AgentName)
	if !ok {
		return nil, &AgentNotRegisteredError{Name: e.id.AgentName}
	}

	st.ConversationLog = append(st.ConversationLog, LogEntry{
		CorrelationID: req.CorrelationID,
		Kind:          entryRequest,
		Messages:      req.Messages,
	})

	history := concatenatedHistory(st)
	respMessages, err := e.invoke(ctx, a, history, req)
	if err != nil {
		return nil, fmt.Errorf("agent run failed: %w", err)
	}

	st.ConversationLog = append(st.ConversationLog, LogEntry{
		CorrelationID: req.CorrelationID,
		Kind:          entryResponse,
		Messages:      respMessages,
	})

	e.updateExpiration(st)

	if err := e.store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to persist durable state: %w", err)
	}

	observability.GetMetrics().DurableRunsTotal.WithLabelValues(e.id.AgentName).Inc()
	return &RunResponse{Messages: respMessages}, nil
}

func (e *Entity) invoke(ctx context.Context, a agent.Agent, history []message.ChatMessage, req RunRequest) ([]message.ChatMessage, error) {
	opts := &agent.ChatOptions{}
	if req.ResponseFormat != "" || req.EnableToolCalls || req.OrchestrationID != "" {
		opts.AdditionalProperties = map[string]any{}
		if req.ResponseFormat != "" {
			opts.AdditionalProperties["response_format"] = req.ResponseFormat
		}
		if req.EnableToolCalls {
			opts.AdditionalProperties["enable_tool_calls"] = true
			if len(req.EnabledToolNames) > 0 {
				opts.AdditionalProperties["enabled_tools"] = req.EnabledToolNames
			}
		}
		if req.OrchestrationID != "" {
			opts.AdditionalProperties["orchestration_id"] = req.OrchestrationID
		}
	}

	sess := session.New()
	if streaming, ok := a.(agent.StreamingAgent); ok && e.sink != nil {
		resp, err := streaming.RunStream(ctx, sess, history, opts, e.sink)
		if err != nil {
			return nil, err
		}
		return resp.Messages, nil
	}
	resp, err := a.Run(ctx, sess, history, opts)
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// updateExpiration applies the TTL policy after a successful turn.
func (e *Entity) updateExpiration(st *State) {
	ttl := e.cfg.ttlFor(e.id.AgentName)
	if ttl == nil {
		// TTL disabled; drop any previously set expiration.
		st.ExpirationTimeUTC = nil
		return
	}

	now := e.clock.Now().UTC()
	exp := now.Add(*ttl)
	st.ExpirationTimeUTC = &exp

	if !st.SignalScheduled {
		e.scheduler.Schedule(e.id, laterOf(exp, now.Add(e.cfg.MinSignalDelay)))
		st.SignalScheduled = true
	}
}

// CheckAndDeleteIfExpired handles the scheduled self-signal: delete the
// state when expired, otherwise reschedule lazily against the refreshed
// expiration time.
func (e *Entity) CheckAndDeleteIfExpired(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.store.Load(ctx, e.id)
	if err != nil {
		return fmt.Errorf("failed to load durable state: %w", err)
	}
	if st == nil || st.ExpirationTimeUTC == nil {
		return nil
	}

	now := e.clock.Now().UTC()
	if !st.ExpirationTimeUTC.After(now) {
		if err := e.store.Delete(ctx, e.id); err != nil {
			return fmt.Errorf("failed to delete expired state: %w", err)
		}
		observability.GetMetrics().DurableEvictions.Inc()
		e.log.Info("durable session expired", "session", e.id.String())
		return nil
	}

	e.scheduler.Schedule(e.id, laterOf(*st.ExpirationTimeUTC, now.Add(e.cfg.MinSignalDelay)))
	return nil
}

// recordedResponse returns the response already logged for a correlation id.
func recordedResponse(st *State, correlationID string) (*RunResponse, bool) {
	seen := false
	for _, entry := range st.ConversationLog {
		if entry.CorrelationID != correlationID {
			continue
		}
		if entry.Kind == entryResponse {
			return &RunResponse{Messages: entry.Messages}, true
		}
		seen = true
	}
	if seen {
		// Request logged but no response recorded; treat the retry as a
		// duplicate with an empty reply rather than double-appending.
		return &RunResponse{}, true
	}
	return nil, false
}

// concatenatedHistory flattens the conversation log into the agent input.
func concatenatedHistory(st *State) []message.ChatMessage {
	var out []message.ChatMessage
	for _, entry := range st.ConversationLog {
		out = append(out, entry.Messages...)
	}
	return out
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
