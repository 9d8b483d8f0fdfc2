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

package agent

import (
	"context"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/conductor/pkg/message"
)

// ChatClient is the synchronous interface to an AI chat service.
type ChatClient interface {
	GetResponse(ctx context.Context, msgs []message.ChatMessage, opts *ChatOptions) (*ChatResponse, error)
}

// ChatStreamingClient streams response updates as they are produced.
type ChatStreamingClient interface {
	ChatClient
	GetStreamingResponse(ctx context.Context, msgs []message.ChatMessage, opts *ChatOptions) (<-chan ChatResponseUpdate, error)
}

// ChatResponse is the complete result of one chat-client invocation.
type ChatResponse struct {
	// Messages are the response messages, in order.
	Messages []message.ChatMessage

	// ConversationID, when non-empty, is the service-assigned conversation
	// this exchange belongs to.
	ConversationID string
}

// Text concatenates the text of all response messages.
func (r *ChatResponse) Text() string {
	return message.JoinText(r.Messages)
}

// ChatResponseUpdate is one increment of a streaming response.
type ChatResponseUpdate struct {
	Role           message.Role
	Contents       []message.Content
	ConversationID string
}

// JoinUpdates folds streamed updates into a complete response.
func JoinUpdates(updates []ChatResponseUpdate) *ChatResponse {
	resp := &ChatResponse{}
	var current *message.ChatMessage
	for _, u := range updates {
		if u.ConversationID != "" {
			resp.ConversationID = u.ConversationID
		}
		if current == nil || (u.Role != "" && u.Role != current.Role) {
			resp.Messages = append(resp.Messages, message.ChatMessage{Role: u.Role})
			current = &resp.Messages[len(resp.Messages)-1]
		}
		current.Contents = append(current.Contents, u.Contents...)
	}
	return resp
}

// ChatOptions carries the tunable parameters of a chat-client invocation.
type ChatOptions struct {
	ModelID        string
	Temperature    *float64
	MaxTokens      *int
	ConversationID string

	// Instructions is the system prompt.
	Instructions string

	Tools          []ToolDefinition
	StopSequences  []string
	ResponseFormat *jsonschema.Schema

	// AdditionalProperties passes provider-specific parameters through.
	AdditionalProperties map[string]any

	// RawRepresentationFactory builds a provider-native request object. When
	// chained, the per-run factory's result falls back to the default one.
	RawRepresentationFactory func() any
}

// MergeOptions combines per-run options with agent defaults. Scalar fields
// prefer the per-run value; instructions concatenate default then per-run;
// list and map fields union with the defaults first.
func MergeOptions(defaults, perRun *ChatOptions) ChatOptions {
	if defaults == nil {
		defaults = &ChatOptions{}
	}
	if perRun == nil {
		perRun = &ChatOptions{}
	}

	merged := *defaults

	if perRun.ModelID != "" {
		merged.ModelID = perRun.ModelID
	}
	if perRun.Temperature != nil {
		merged.Temperature = perRun.Temperature
	}
	if perRun.MaxTokens != nil {
		merged.MaxTokens = perRun.MaxTokens
	}
	if perRun.ConversationID != "" {
		merged.ConversationID = perRun.ConversationID
	}
	if perRun.ResponseFormat != nil {
		merged.ResponseFormat = perRun.ResponseFormat
	}

	switch {
	case merged.Instructions == "":
		merged.Instructions = perRun.Instructions
	case perRun.Instructions != "":
		merged.Instructions = merged.Instructions + "\n" + perRun.Instructions
	}

	merged.Tools = append(append([]ToolDefinition(nil), defaults.Tools...), perRun.Tools...)
	merged.StopSequences = append(append([]string(nil), defaults.StopSequences...), perRun.StopSequences...)

	if len(defaults.AdditionalProperties) > 0 || len(perRun.AdditionalProperties) > 0 {
		merged.AdditionalProperties = make(map[string]any, len(defaults.AdditionalProperties)+len(perRun.AdditionalProperties))
		for k, v := range defaults.AdditionalProperties {
			merged.AdditionalProperties[k] = v
		}
		for k, v := range perRun.AdditionalProperties {
			merged.AdditionalProperties[k] = v
		}
	}

	defaultFactory := defaults.RawRepresentationFactory
	runFactory := perRun.RawRepresentationFactory
	switch {
	case runFactory == nil:
		merged.RawRepresentationFactory = defaultFactory
	case defaultFactory == nil:
		merged.RawRepresentationFactory = runFactory
	default:
		merged.RawRepresentationFactory = func() any {
			if v := runFactory(); v != nil {
				return v
			}
			return defaultFactory()
		}
	}

	return merged
}

// ToolDefinition describes a tool an agent exposes to the chat service.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema

	// Handler executes the tool. A nil handler marks a declaration-only tool
	// (the caller handles invocation, as with handoff tools).
	Handler func(ctx context.Context, args map[string]any) (any, error)
}

// NewTool builds a tool definition whose parameter schema is reflected from
// Args and whose handler receives the decoded arguments.
func NewTool[Args any](name, description string, handler func(ctx context.Context, args Args) (any, error)) ToolDefinition {
	reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	var zero Args
	schema := reflector.Reflect(&zero)

	return ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  schema,
		Handler: func(ctx context.Context, raw map[string]any) (any, error) {
			var args Args
			if err := mapstructure.Decode(raw, &args); err != nil {
				return nil, fmt.Errorf("invalid arguments for tool %q: %w", name, err)
			}
			return handler(ctx, args)
		},
	}
}
