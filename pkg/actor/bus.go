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

// Package actor provides a topic-based actor runtime backing group chats:
// one manager actor plus one agent actor per participant, exchanging
// messages on a named topic.
package actor

import (
	"sync"
)

// Bus is an in-process publish/subscribe fabric. Every subscriber of a topic
// receives every message published to it, in publish order.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]chan any
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan any)}
}

// Subscribe registers a new subscriber on the topic. The returned channel is
// closed when the bus closes.
func (b *Bus) Subscribe(topic string) <-chan any {
	ch := make(chan any, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// Publish delivers msg to every subscriber of the topic, in subscription
// order. Messages published to a full mailbox are dropped rather than
// blocking the bus.
func (b *Bus) Publish(topic string, msg any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.subs = nil
}
