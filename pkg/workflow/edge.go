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

package workflow

// Edge is a static routing rule between executors. The concrete kinds are
// DirectEdge, FanOutEdge, FanInEdge and SwitchEdge.
type Edge interface {
	// SourceIDs returns the executor ids this edge routes from.
	SourceIDs() []string

	edge()
}

// DirectEdge routes every message from Source to Target.
type DirectEdge struct {
	Source string
	Target string
}

// Assigner selects the subset of fan-out targets to receive a payload. It
// returns indices into the target list and must be pure and deterministic.
type Assigner func(payload any, targetCount int) []int

// FanOutEdge routes messages from Source to a subset of Targets. With a nil
// Assigner all targets receive the message.
type FanOutEdge struct {
	Source   string
	Targets  []string
	Assigner Assigner
}

// JoinPolicy controls when a fan-in releases its buffered messages.
type JoinPolicy int

const (
	// JoinWaitAll releases once every source has delivered at least one
	// message at a superstep boundary. This is the default.
	JoinWaitAll JoinPolicy = iota

	// JoinByCorrelation releases a batch once every source has delivered a
	// message with the same correlation key.
	JoinByCorrelation
)

// CorrelationKeyFunc extracts the join correlation key from a payload.
type CorrelationKeyFunc func(payload any) string

// FanInEdge buffers messages from Sources and delivers them to Target as a
// single batch ([]any in stable source order) once the join policy is
// satisfied.
type FanInEdge struct {
	Sources        []string
	Target         string
	Join           JoinPolicy
	CorrelationKey CorrelationKeyFunc
}

// SwitchCase pairs a predicate with a target. Predicates must be pure and
// deterministic.
type SwitchCase struct {
	Predicate func(payload any) bool
	Target    string
}

// SwitchEdge routes each message from Source to the first matching case, or
// to Default when none match.
type SwitchEdge struct {
	Source  string
	Cases   []SwitchCase
	Default string
}

func (e DirectEdge) SourceIDs() []string { return []string{e.Source} }
func (e FanOutEdge) SourceIDs() []string { return []string{e.Source} }
func (e FanInEdge) SourceIDs() []string  { return append([]string(nil), e.Sources...) }
func (e SwitchEdge) SourceIDs() []string { return []string{e.Source} }

func (DirectEdge) edge() {}
func (FanOutEdge) edge() {}
func (FanInEdge) edge()  {}
func (SwitchEdge) edge() {}
