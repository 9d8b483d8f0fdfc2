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

package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/conductor/pkg/message"
	"github.com/kadirpekel/conductor/pkg/workflow"
)

// SavedPayload is a payload serialized with its TypeID so the registry can
// rehydrate it on resume.
type SavedPayload struct {
	TypeID message.TypeID  `json:"typeId"`
	Data   json.RawMessage `json:"data"`
}

// SavedEnvelope is a queued message captured at a superstep boundary.
type SavedEnvelope struct {
	Payload  SavedPayload `json:"payload"`
	SourceID string       `json:"sourceId,omitempty"`
	TargetID string       `json:"targetId"`
}

// SavedRequest is an outstanding external request captured at a boundary.
type SavedRequest struct {
	RequestID  string       `json:"requestId"`
	ExecutorID string       `json:"executorId"`
	Prompt     SavedPayload `json:"prompt"`
}

// SavedFanIn holds the undelivered messages buffered for one fan-in target.
type SavedFanIn struct {
	BySource map[string][]SavedPayload          `json:"bySource,omitempty"`
	ByKey    map[string]map[string]SavedPayload `json:"byKey,omitempty"`
	KeyOrder []string                           `json:"keyOrder,omitempty"`
}

// Checkpoint is a complete snapshot of a run at a superstep boundary. A run
// resumed from a checkpoint observes the same queue, state, outstanding
// requests, and fan-in buffers the boundary observed.
type Checkpoint struct {
	ID            string                             `json:"id"`
	WorkflowName  string                             `json:"workflowName"`
	Superstep     int                                `json:"superstep"`
	CreatedAt     time.Time                          `json:"createdAt"`
	Queue         []SavedEnvelope                    `json:"queue,omitempty"`
	State         map[string]map[string]SavedPayload `json:"state,omitempty"`
	Requests      []SavedRequest                     `json:"requests,omitempty"`
	FanIns        map[string]SavedFanIn              `json:"fanIns,omitempty"`
	OutputYielded bool                               `json:"outputYielded,omitempty"`
}

// CheckpointStore persists checkpoints keyed by id.
type CheckpointStore interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, id string) (*Checkpoint, error)

	// Latest returns the most recently saved checkpoint for a workflow, or
	// nil when none exists.
	Latest(ctx context.Context, workflowName string) (*Checkpoint, error)
}

// InMemoryCheckpointStore keeps checkpoints in process memory.
type InMemoryCheckpointStore struct {
	mu     sync.RWMutex
	byID   map[string]*Checkpoint
	latest map[string]*Checkpoint
}

var _ CheckpointStore = (*InMemoryCheckpointStore)(nil)

func NewInMemoryCheckpointStore() *InMemoryCheckpointStore {
	return &InMemoryCheckpointStore{
		byID:   make(map[string]*Checkpoint),
		latest: make(map[string]*Checkpoint),
	}
}

func (s *InMemoryCheckpointStore) Save(_ context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[cp.ID] = cp
	s.latest[cp.WorkflowName] = cp
	return nil
}

func (s *InMemoryCheckpointStore) Load(_ context.Context, id string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("checkpoint %q not found", id)
	}
	return cp, nil
}

func (s *InMemoryCheckpointStore) Latest(_ context.Context, workflowName string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest[workflowName], nil
}

func (st *runState) savePayload(v any) (SavedPayload, error) {
	st.r.opts.Registry.Register(v)
	id, data, err := st.r.opts.Registry.Marshal(v)
	if err != nil {
		return SavedPayload{}, err
	}
	return SavedPayload{TypeID: id, Data: data}, nil
}

func (st *runState) loadPayload(sp SavedPayload) (any, error) {
	return st.r.opts.Registry.Unmarshal(sp.TypeID, sp.Data)
}

// buildCheckpoint snapshots the run at the current boundary.
func (st *runState) buildCheckpoint() (*Checkpoint, error) {
	cp := &Checkpoint{
		ID:            uuid.NewString(),
		WorkflowName:  st.r.wf.Name(),
		Superstep:     st.superstep,
		CreatedAt:     time.Now().UTC(),
		OutputYielded: st.outputYielded,
	}

	for _, env := range st.queue {
		sp, err := st.savePayload(env.Payload)
		if err != nil {
			return nil, err
		}
		cp.Queue = append(cp.Queue, SavedEnvelope{Payload: sp, SourceID: env.SourceID, TargetID: env.TargetID})
	}

	if len(st.state) > 0 {
		cp.State = make(map[string]map[string]SavedPayload, len(st.state))
		for scope, vals := range st.state {
			saved := make(map[string]SavedPayload, len(vals))
			for key, v := range vals {
				sp, err := st.savePayload(v)
				if err != nil {
					return nil, err
				}
				saved[key] = sp
			}
			cp.State[scope] = saved
		}
	}

	for _, req := range st.r.PendingRequests() {
		sp, err := st.savePayload(req.Prompt)
		if err != nil {
			return nil, err
		}
		cp.Requests = append(cp.Requests, SavedRequest{
			RequestID:  req.RequestID,
			ExecutorID: req.ExecutorID,
			Prompt:     sp,
		})
	}

	if len(st.fanIns) > 0 {
		cp.FanIns = make(map[string]SavedFanIn, len(st.fanIns))
		for target, buf := range st.fanIns {
			saved := SavedFanIn{}
			for source, payloads := range buf.bySource {
				if len(payloads) == 0 {
					continue
				}
				if saved.BySource == nil {
					saved.BySource = make(map[string][]SavedPayload)
				}
				for _, v := range payloads {
					sp, err := st.savePayload(v)
					if err != nil {
						return nil, err
					}
					saved.BySource[source] = append(saved.BySource[source], sp)
				}
			}
			for key, bySource := range buf.byKey {
				if saved.ByKey == nil {
					saved.ByKey = make(map[string]map[string]SavedPayload)
				}
				inner := make(map[string]SavedPayload, len(bySource))
				for source, v := range bySource {
					sp, err := st.savePayload(v)
					if err != nil {
						return nil, err
					}
					inner[source] = sp
				}
				saved.ByKey[key] = inner
			}
			saved.KeyOrder = append([]string(nil), buf.keyOrder...)
			cp.FanIns[target] = saved
		}
	}

	return cp, nil
}

// restore rebuilds the run state from a checkpoint.
func (st *runState) restore(cp *Checkpoint) error {
	st.resumed = true
	st.superstep = cp.Superstep
	st.outputYielded = cp.OutputYielded

	for _, env := range cp.Queue {
		payload, err := st.loadPayload(env.Payload)
		if err != nil {
			return fmt.Errorf("failed to restore queued message for %q: %w", env.TargetID, err)
		}
		st.queue = append(st.queue, workflow.Envelope{
			Payload:  payload,
			SourceID: env.SourceID,
			TargetID: env.TargetID,
			TypeID:   env.Payload.TypeID,
		})
	}

	for scope, vals := range cp.State {
		scoped := make(map[string]any, len(vals))
		for key, sp := range vals {
			v, err := st.loadPayload(sp)
			if err != nil {
				return fmt.Errorf("failed to restore state %s/%s: %w", scope, key, err)
			}
			scoped[key] = v
		}
		st.state[scope] = scoped
	}

	for _, req := range cp.Requests {
		prompt, err := st.loadPayload(req.Prompt)
		if err != nil {
			return fmt.Errorf("failed to restore request %q: %w", req.RequestID, err)
		}
		st.r.registerPending(workflow.ExternalRequest{
			RequestID:  req.RequestID,
			ExecutorID: req.ExecutorID,
			Prompt:     prompt,
		})
	}

	fanInEdges := st.fanInEdgesByTarget()
	for target, saved := range cp.FanIns {
		edge, ok := fanInEdges[target]
		if !ok {
			return fmt.Errorf("checkpoint buffers fan-in for %q but the workflow has no such edge", target)
		}
		buf := &fanInBuffer{
			edge:     edge,
			bySource: make(map[string][]any),
			byKey:    make(map[string]map[string]any),
			keyOrder: append([]string(nil), saved.KeyOrder...),
		}
		for source, payloads := range saved.BySource {
			for _, sp := range payloads {
				v, err := st.loadPayload(sp)
				if err != nil {
					return fmt.Errorf("failed to restore fan-in buffer for %q: %w", target, err)
				}
				buf.bySource[source] = append(buf.bySource[source], v)
			}
		}
		for key, bySource := range saved.ByKey {
			inner := make(map[string]any, len(bySource))
			for source, sp := range bySource {
				v, err := st.loadPayload(sp)
				if err != nil {
					return fmt.Errorf("failed to restore fan-in buffer for %q: %w", target, err)
				}
				inner[source] = v
			}
			buf.byKey[key] = inner
		}
		st.fanIns[target] = buf
	}

	return nil
}

func (st *runState) fanInEdgesByTarget() map[string]workflow.FanInEdge {
	out := make(map[string]workflow.FanInEdge)
	for _, id := range st.r.wf.ExecutorIDs() {
		for _, e := range st.r.wf.EdgesFrom(id) {
			if fi, ok := e.(workflow.FanInEdge); ok {
				out[fi.Target] = fi
			}
		}
	}
	return out
}
