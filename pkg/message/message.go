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

// Package message defines the chat message model and the durable type
// registry used by the workflow runtime.
//
// A ChatMessage is an ordered list of content parts. Each part carries a
// wire-level "type" tag so messages survive JSON round-trips through session
// stores and checkpoints without losing their structure:
//   - text: plain text
//   - data: inline data referenced by URI with a media type
//   - uri: external reference with a media type
//   - function_call: a tool invocation requested by the model
//   - function_result: the result of a tool invocation
//   - error: an error surfaced inside the conversation
//   - reasoning: model reasoning text
//
// The type registry assigns stable, content-addressable identifiers to Go
// payload types so the scheduler can rehydrate checkpointed envelopes.
package message

import (
	"strings"
)

// Role identifies the author class of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleDeveloper Role = "developer"
)

// ChatMessage is a single conversation entry composed of ordered content parts.
type ChatMessage struct {
	Role       Role           `json:"role"`
	AuthorName string         `json:"authorName,omitempty"`
	Contents   []Content      `json:"contents"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Content is one part of a chat message. Implementations are the closed set
// of part types declared in this package.
type Content interface {
	// PartType returns the wire-level tag for this content part.
	PartType() string
}

// TextContent is plain text.
type TextContent struct {
	Text string `json:"text"`
}

// DataContent is inline data addressed by URI.
type DataContent struct {
	URI       string `json:"uri"`
	MediaType string `json:"mediaType,omitempty"`
}

// URIContent references external content by URI.
type URIContent struct {
	URI       string `json:"uri"`
	MediaType string `json:"mediaType,omitempty"`
}

// FunctionCallContent is a tool invocation requested by the model.
type FunctionCallContent struct {
	Name      string         `json:"name"`
	CallID    string         `json:"callId"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// FunctionResultContent carries the outcome of a tool invocation.
type FunctionResultContent struct {
	CallID string `json:"callId"`
	Result any    `json:"result,omitempty"`
}

// ErrorContent surfaces an error inside the conversation.
type ErrorContent struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ReasoningContent is model reasoning text.
type ReasoningContent struct {
	Text string `json:"text"`
}

func (TextContent) PartType() string           { return "text" }
func (DataContent) PartType() string           { return "data" }
func (URIContent) PartType() string            { return "uri" }
func (FunctionCallContent) PartType() string   { return "function_call" }
func (FunctionResultContent) PartType() string { return "function_result" }
func (ErrorContent) PartType() string          { return "error" }
func (ReasoningContent) PartType() string      { return "reasoning" }

// NewText creates a message with a single text part.
func NewText(role Role, text string) ChatMessage {
	return ChatMessage{
		Role:     role,
		Contents: []Content{TextContent{Text: text}},
	}
}

// NewUserText creates a user message with a single text part.
func NewUserText(text string) ChatMessage {
	return NewText(RoleUser, text)
}

// NewAssistantText creates an assistant message with a single text part.
func NewAssistantText(text string) ChatMessage {
	return NewText(RoleAssistant, text)
}

// Text concatenates all text parts of the message.
func (m ChatMessage) Text() string {
	var sb strings.Builder
	for _, c := range m.Contents {
		if t, ok := c.(TextContent); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

// FunctionCalls returns all function call parts of the message.
func (m ChatMessage) FunctionCalls() []FunctionCallContent {
	var calls []FunctionCallContent
	for _, c := range m.Contents {
		if fc, ok := c.(FunctionCallContent); ok {
			calls = append(calls, fc)
		}
	}
	return calls
}

// JoinText concatenates the text of all messages, one line per message.
func JoinText(messages []ChatMessage) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		if t := m.Text(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}
