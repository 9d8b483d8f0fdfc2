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
	"fmt"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/workflow"
)

const sinkID = "output"

// NewSequential chains agents with direct edges. Each agent receives the
// prior agent's cumulative output, original input included; the terminal sink
// yields the collected messages as the workflow output.
func NewSequential(agents []agent.Agent, name string) (*workflow.Workflow, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: sequential composition needs at least one agent", workflow.ErrInvalidWorkflow)
	}
	if name == "" {
		name = "sequential"
	}

	b := workflow.NewBuilder(name)
	ids := make([]string, len(agents))
	for i, a := range agents {
		exec := NewAgentExecutor(a)
		ids[i] = exec.ID()
		b.AddExecutor(exec)
	}
	b.AddExecutor(outputSink(sinkID))
	b.SetStart(ids[0])
	b.MarkOutput(sinkID)

	for i := 0; i < len(ids)-1; i++ {
		b.AddEdge(ids[i], ids[i+1])
	}
	b.AddEdge(ids[len(ids)-1], sinkID)

	return b.Build()
}
