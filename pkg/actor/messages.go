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

package actor

import (
	"github.com/kadirpekel/conductor/pkg/message"
)

// InputTask is the initial input delivered to the manager actor.
type InputTask struct {
	Messages []message.ChatMessage
}

// Group broadcasts an updated conversation slice to the topic.
type Group struct {
	Messages []message.ChatMessage
}

// Speak signals a specific agent actor to produce a turn.
type Speak struct {
	Target string
}

// Result signals the outer orchestration that the conversation is complete.
type Result struct {
	Final string
}

// StatusUpdate is a progress notification surfaced through a response
// handle.
type StatusUpdate struct {
	Speaker string
	Turn    int
}
