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
	"fmt"
	"strings"
	"sync"

	"github.com/kadirpekel/conductor/pkg/message"
)

// Strategy decides how the manager actor drives the conversation.
type Strategy interface {
	// ShouldTerminate reports whether the conversation is complete.
	ShouldTerminate(history []message.ChatMessage) bool

	// SelectNextAgent returns the participant to speak next.
	SelectNextAgent(history []message.ChatMessage) (string, error)

	// FilterResults produces the final result string from the history.
	FilterResults(history []message.ChatMessage) string
}

// lastMessageResult is the default FilterResults: the text of the last
// message.
func lastMessageResult(history []message.ChatMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if t := history[i].Text(); t != "" {
			return t
		}
	}
	return ""
}

// RoundRobinStrategy cycles through participants for a bounded number of
// turns.
type RoundRobinStrategy struct {
	participants []string
	maxTurns     int

	mu   sync.Mutex
	turn int
}

var _ Strategy = (*RoundRobinStrategy)(nil)

// NewRoundRobinStrategy creates a round-robin strategy. maxTurns must be at
// least 1.
func NewRoundRobinStrategy(participants []string, maxTurns int) (*RoundRobinStrategy, error) {
	if len(participants) == 0 {
		return nil, fmt.Errorf("round-robin strategy needs at least one participant")
	}
	if maxTurns < 1 {
		return nil, fmt.Errorf("maximum turn count must be at least 1, got %d", maxTurns)
	}
	return &RoundRobinStrategy{participants: participants, maxTurns: maxTurns}, nil
}

func (s *RoundRobinStrategy) ShouldTerminate([]message.ChatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn >= s.maxTurns
}

func (s *RoundRobinStrategy) SelectNextAgent([]message.ChatMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.participants[s.turn%len(s.participants)]
	s.turn++
	return next, nil
}

func (s *RoundRobinStrategy) FilterResults(history []message.ChatMessage) string {
	return lastMessageResult(history)
}

// SelectionRule routes the turn to Target when any keyword appears in the
// latest message.
type SelectionRule struct {
	Keywords []string
	Target   string
}

// RuleBasedStrategy selects the next speaker by keyword rules over the last
// message, falling back to a default participant. It terminates when the
// last message contains the stop phrase or the turn budget is spent.
type RuleBasedStrategy struct {
	rules      []SelectionRule
	fallback   string
	stopPhrase string
	maxTurns   int

	mu   sync.Mutex
	turn int
}

var _ Strategy = (*RuleBasedStrategy)(nil)

// NewRuleBasedStrategy creates a rule-based strategy. maxTurns must be at
// least 1 and fallback names the participant used when no rule matches.
func NewRuleBasedStrategy(rules []SelectionRule, fallback, stopPhrase string, maxTurns int) (*RuleBasedStrategy, error) {
	if fallback == "" {
		return nil, fmt.Errorf("rule-based strategy needs a fallback participant")
	}
	if maxTurns < 1 {
		return nil, fmt.Errorf("maximum turn count must be at least 1, got %d", maxTurns)
	}
	return &RuleBasedStrategy{
		rules:      rules,
		fallback:   fallback,
		stopPhrase: stopPhrase,
		maxTurns:   maxTurns,
	}, nil
}

func (s *RuleBasedStrategy) ShouldTerminate(history []message.ChatMessage) bool {
	if s.stopPhrase != "" && len(history) > 0 {
		if strings.Contains(strings.ToLower(history[len(history)-1].Text()), strings.ToLower(s.stopPhrase)) {
			return true
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn >= s.maxTurns
}

func (s *RuleBasedStrategy) SelectNextAgent(history []message.ChatMessage) (string, error) {
	s.mu.Lock()
	s.turn++
	s.mu.Unlock()

	if len(history) == 0 {
		return s.fallback, nil
	}
	last := strings.ToLower(history[len(history)-1].Text())
	for _, rule := range s.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(last, strings.ToLower(kw)) {
				return rule.Target, nil
			}
		}
	}
	return s.fallback, nil
}

func (s *RuleBasedStrategy) FilterResults(history []message.ChatMessage) string {
	return lastMessageResult(history)
}
