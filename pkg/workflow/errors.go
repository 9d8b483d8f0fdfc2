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

import "errors"

var (
	// ErrExecutorNotRegistered is returned when routing names an executor the
	// workflow does not contain.
	ErrExecutorNotRegistered = errors.New("executor is not registered")

	// ErrTypeMismatch is returned when a message is delivered to an executor
	// that does not declare its payload type.
	ErrTypeMismatch = errors.New("payload type mismatch")

	// ErrNotOutputProducer is returned when an executor outside the declared
	// output-producer set yields an output.
	ErrNotOutputProducer = errors.New("executor is not a declared output producer")

	// ErrInvalidWorkflow is returned by Builder.Build when the graph is not
	// well formed.
	ErrInvalidWorkflow = errors.New("invalid workflow")
)
