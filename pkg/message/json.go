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

package message

import (
	"encoding/json"
	"fmt"
)

// taggedPart is the wire shape of a content part: the part fields plus a
// discriminating "type" field.
type taggedPart struct {
	Type string `json:"type"`

	Text      string         `json:"text,omitempty"`
	URI       string         `json:"uri,omitempty"`
	MediaType string         `json:"mediaType,omitempty"`
	Name      string         `json:"name,omitempty"`
	CallID    string         `json:"callId,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    any            `json:"result,omitempty"`
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"message,omitempty"`
}

func toTagged(c Content) (taggedPart, error) {
	switch p := c.(type) {
	case TextContent:
		return taggedPart{Type: "text", Text: p.Text}, nil
	case DataContent:
		return taggedPart{Type: "data", URI: p.URI, MediaType: p.MediaType}, nil
	case URIContent:
		return taggedPart{Type: "uri", URI: p.URI, MediaType: p.MediaType}, nil
	case FunctionCallContent:
		return taggedPart{Type: "function_call", Name: p.Name, CallID: p.CallID, Arguments: p.Arguments}, nil
	case FunctionResultContent:
		return taggedPart{Type: "function_result", CallID: p.CallID, Result: p.Result}, nil
	case ErrorContent:
		return taggedPart{Type: "error", Code: p.Code, Message: p.Message}, nil
	case ReasoningContent:
		return taggedPart{Type: "reasoning", Text: p.Text}, nil
	default:
		return taggedPart{}, fmt.Errorf("unknown content part type %T", c)
	}
}

func fromTagged(p taggedPart) (Content, error) {
	switch p.Type {
	case "text":
		return TextContent{Text: p.Text}, nil
	case "data":
		return DataContent{URI: p.URI, MediaType: p.MediaType}, nil
	case "uri":
		return URIContent{URI: p.URI, MediaType: p.MediaType}, nil
	case "function_call":
		return FunctionCallContent{Name: p.Name, CallID: p.CallID, Arguments: p.Arguments}, nil
	case "function_result":
		return FunctionResultContent{CallID: p.CallID, Result: p.Result}, nil
	case "error":
		return ErrorContent{Code: p.Code, Message: p.Message}, nil
	case "reasoning":
		return ReasoningContent{Text: p.Text}, nil
	default:
		return nil, fmt.Errorf("unknown content part tag %q", p.Type)
	}
}

// MarshalJSON emits the message with every content part tagged by "type".
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	parts := make([]taggedPart, 0, len(m.Contents))
	for _, c := range m.Contents {
		p, err := toTagged(c)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}

	return json.Marshal(struct {
		Role       Role           `json:"role"`
		AuthorName string         `json:"authorName,omitempty"`
		Contents   []taggedPart   `json:"contents"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		Role:       m.Role,
		AuthorName: m.AuthorName,
		Contents:   parts,
		Metadata:   m.Metadata,
	})
}

// UnmarshalJSON restores content parts from their tagged wire shape.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role       Role           `json:"role"`
		AuthorName string         `json:"authorName"`
		Contents   []taggedPart   `json:"contents"`
		Metadata   map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal chat message: %w", err)
	}

	contents := make([]Content, 0, len(raw.Contents))
	for _, p := range raw.Contents {
		c, err := fromTagged(p)
		if err != nil {
			return err
		}
		contents = append(contents, c)
	}

	m.Role = raw.Role
	m.AuthorName = raw.AuthorName
	m.Contents = contents
	m.Metadata = raw.Metadata
	return nil
}
