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

// Package conductor is an agent workflow runtime built around
// superstep-scheduled executor graphs.
//
// Workflows are directed graphs of executors connected by direct, fan-out,
// switch, and fan-in edges. The runtime delivers messages in supersteps:
// everything sent in one step is dispatched together in the next, and state
// written by a handler becomes visible only after the step commits. Runs can
// be checkpointed between supersteps and resumed later, including across
// pending requests for external input.
//
// On top of the runtime, the module provides:
//
//   - pkg/agent: chat agents with option merging, context providers, and
//     conversation history management.
//   - pkg/orchestration: sequential, concurrent, handoff, and group-chat
//     compositions of agents as workflows.
//   - pkg/actor: an in-process actor runtime for manager-coordinated group
//     conversations.
//   - pkg/durable: addressable session entities with idempotent runs and
//     TTL-based eviction.
//   - pkg/host: agent and workflow catalogs plus per-conversation session
//     persistence.
//
// See cmd/conductor for the CLI.
package conductor

import (
	"fmt"
	"runtime"
)

// Version is the module version.
const Version = "0.1.0"

// BuildInfo describes the running build.
type BuildInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetBuildInfo returns version details for diagnostics.
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
