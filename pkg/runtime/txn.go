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
	"fmt"
	"sort"

	"github.com/kadirpekel/conductor/pkg/workflow"
)

// invocation is the transaction backing one handler call. Every effect the
// handler produces is buffered here; the scheduler flushes events, commits
// state, and routes messages at the superstep boundary. A faulted handler's
// buffered writes never apply.
type invocation struct {
	st     *runState
	execID string
	err    error

	events   []workflow.Event
	sent     []sentMessage
	outputs  []any
	stateOps []stateOp
	requests []workflow.ExternalRequest
	halt     bool

	// inits holds values materialized by ReadOrInitState so they are visible
	// to later reads within the same invocation, keyed by scope then key.
	inits map[string]map[string]any
}

type sentMessage struct {
	target  string
	payload any
}

type stateOp struct {
	scope      string
	key        string
	value      any
	clearScope bool
}

func newInvocation(st *runState, execID string) *invocation {
	return &invocation{st: st, execID: execID}
}

var _ workflow.Context = (*invocation)(nil)

func (t *invocation) scopeName(scope []string) string {
	if len(scope) > 0 && scope[0] != "" {
		return scope[0]
	}
	return t.execID
}

func (t *invocation) Send(payload any) {
	t.sent = append(t.sent, sentMessage{payload: payload})
}

func (t *invocation) SendTo(targetID string, payload any) {
	t.sent = append(t.sent, sentMessage{target: targetID, payload: payload})
}

func (t *invocation) AddEvent(e workflow.Event) {
	t.events = append(t.events, e)
}

func (t *invocation) YieldOutput(value any) error {
	if !t.st.r.wf.IsOutputProducer(t.execID) {
		return fmt.Errorf("%w: executor %q", workflow.ErrNotOutputProducer, t.execID)
	}
	t.outputs = append(t.outputs, value)
	return nil
}

func (t *invocation) RequestHalt() {
	t.halt = true
	t.events = append(t.events, workflow.RequestHaltEvent{ExecutorID: t.execID})
}

// ReadState returns committed state only; writes queued by this invocation
// are not visible until the boundary commit.
func (t *invocation) ReadState(key string, scope ...string) (any, bool) {
	name := t.scopeName(scope)
	if vals, ok := t.inits[name]; ok {
		if v, ok := vals[key]; ok {
			return v, true
		}
	}
	scoped, ok := t.st.state[name]
	if !ok {
		return nil, false
	}
	v, ok := scoped[key]
	return v, ok
}

func (t *invocation) ReadStateKeys(scope ...string) []string {
	name := t.scopeName(scope)
	seen := make(map[string]bool)
	for key := range t.st.state[name] {
		seen[key] = true
	}
	for key := range t.inits[name] {
		seen[key] = true
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (t *invocation) ReadOrInitState(key string, init func() any, scope ...string) any {
	if v, ok := t.ReadState(key, scope...); ok {
		return v
	}
	name := t.scopeName(scope)
	v := init()
	if t.inits == nil {
		t.inits = make(map[string]map[string]any)
	}
	if t.inits[name] == nil {
		t.inits[name] = make(map[string]any)
	}
	t.inits[name][key] = v
	t.stateOps = append(t.stateOps, stateOp{scope: name, key: key, value: v})
	return v
}

func (t *invocation) QueueStateUpdate(key string, value any, scope ...string) {
	t.stateOps = append(t.stateOps, stateOp{scope: t.scopeName(scope), key: key, value: value})
}

func (t *invocation) ClearScope(scope ...string) {
	t.stateOps = append(t.stateOps, stateOp{scope: t.scopeName(scope), clearScope: true})
}

func (t *invocation) PostExternalRequest(req workflow.ExternalRequest) {
	if req.ExecutorID == "" {
		req.ExecutorID = t.execID
	}
	t.requests = append(t.requests, req)
	t.events = append(t.events, workflow.RequestInfoEvent{Request: req})
}

// reportedOutput picks the value shown on ExecutorCompletedEvent: the first
// sent payload, else the first yielded output.
func (t *invocation) reportedOutput() any {
	if len(t.sent) > 0 {
		return t.sent[0].payload
	}
	if len(t.outputs) > 0 {
		return t.outputs[0]
	}
	return nil
}
