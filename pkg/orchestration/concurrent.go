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

package orchestration

import (
	"context"
	"fmt"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/message"
	"github.com/kadirpekel/conductor/pkg/workflow"
)

// participantBatch is one participant's accumulated output in a concurrent
// composition.
type participantBatch struct {
	Participant string
	Messages    []message.ChatMessage
}

// Aggregator folds per-participant batches, in participant declaration order,
// into the final output list.
type Aggregator func(batches []participantBatch) []message.ChatMessage

// lastMessageAggregator keeps the last message of each non-empty participant.
func lastMessageAggregator(batches []participantBatch) []message.ChatMessage {
	var out []message.ChatMessage
	for _, b := range batches {
		if len(b.Messages) > 0 {
			out = append(out, b.Messages[len(b.Messages)-1])
		}
	}
	return out
}

// NewConcurrent fans the input out to every agent and joins their outputs. A
// nil aggregator keeps the last message from each non-empty participant, in
// declaration order.
func NewConcurrent(agents []agent.Agent, aggregator Aggregator, name string) (*workflow.Workflow, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: concurrent composition needs at least one agent", workflow.ErrInvalidWorkflow)
	}
	if name == "" {
		name = "concurrent"
	}
	if aggregator == nil {
		aggregator = lastMessageAggregator
	}

	b := workflow.NewBuilder(name)

	start := workflow.NewAction("start", conversationInputTypes(),
		func(_ context.Context, env workflow.Envelope, wc workflow.Context) error {
			conv, err := asConversation(env.Payload)
			if err != nil {
				return err
			}
			wc.Send(conv)
			return nil
		})
	b.AddExecutor(start)
	b.SetStart("start")

	// Each participant gets an accumulator wrapping its agent run into a
	// tagged batch so the join preserves attribution.
	ids := make([]string, len(agents))
	for i, a := range agents {
		exec := NewAgentExecutor(a)
		id := exec.ID()
		ids[i] = id
		b.AddExecutorFactory(id, func() workflow.Executor {
			return &accumulatorExecutor{AgentExecutor: exec}
		})
	}

	aggregate := workflow.NewTypedAction("aggregate",
		func(_ context.Context, batch []any, wc workflow.Context) error {
			typed := make([]participantBatch, 0, len(batch))
			for _, item := range batch {
				pb, ok := item.(participantBatch)
				if !ok {
					return fmt.Errorf("%w: expected participant batch, got %T", workflow.ErrTypeMismatch, item)
				}
				typed = append(typed, pb)
			}
			return wc.YieldOutput(aggregator(typed))
		})
	b.AddExecutor(aggregate)
	b.MarkOutput("aggregate")

	b.AddFanOut("start", ids, nil)
	b.AddFanIn(ids, "aggregate")

	return b.Build()
}

// accumulatorExecutor runs the wrapped agent and emits its response as a
// tagged batch instead of the cumulative conversation.
type accumulatorExecutor struct {
	*AgentExecutor
}

func (e *accumulatorExecutor) OutputTypes() []message.TypeID {
	return []message.TypeID{message.TypeIDOf(participantBatch{})}
}

func (e *accumulatorExecutor) Handle(ctx context.Context, env workflow.Envelope, wc workflow.Context) error {
	conv, err := asConversation(env.Payload)
	if err != nil {
		return err
	}

	resp, err := e.run(ctx, conv, wc)
	if err != nil {
		return fmt.Errorf("agent %q failed: %w", e.ID(), err)
	}

	wc.Send(participantBatch{Participant: e.ID(), Messages: resp.Messages})
	return nil
}
