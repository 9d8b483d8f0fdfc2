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

// Package conversation provides the in-memory conversation store backing the
// OpenAI-compatible host shim.
package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/conductor/pkg/message"
)

var (
	// ErrDuplicateItem indicates an item id already present in the
	// conversation.
	ErrDuplicateItem = errors.New("duplicate item id")

	// ErrNotFound indicates a missing conversation or item.
	ErrNotFound = errors.New("not found")

	// ErrInvalidLimit indicates a list limit outside [1, 100].
	ErrInvalidLimit = errors.New("limit must be between 1 and 100")
)

// Item is one conversation entry.
type Item struct {
	ID        string
	Message   message.ChatMessage
	CreatedAt time.Time
}

// Order is a listing direction.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ListOptions parameterizes a cursor-style listing.
type ListOptions struct {
	// Limit bounds the window size; it must be in [1, 100].
	Limit int

	// Order is asc (default) or desc over insertion order.
	Order Order

	// After, when set, starts the window just past the item with this id.
	After string
}

// ListResult is one listing window.
type ListResult struct {
	Items   []Item
	HasMore bool
}

// entry holds one conversation. Mutations on one conversation serialize on
// its own lock; cross-conversation operations are independent.
type entry struct {
	mu        sync.Mutex
	items     []Item
	index     map[string]int
	expiresAt time.Time
}

// Cache is an in-memory, TTL-evicting conversation store. Every mutating
// operation refreshes the conversation's TTL; expired conversations vanish
// on next access.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	now     func() time.Time
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

// WithClock overrides the cache's time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a cache. A zero ttl disables expiry.
func NewCache(ttl time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// entryFor returns the live entry for a conversation, creating it when
// create is set. Expired entries are dropped first.
func (c *Cache) entryFor(conversationID string, create bool) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[conversationID]
	if ok && c.ttl > 0 && !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, conversationID)
		e, ok = nil, false
	}
	if !ok && create {
		e = &entry{index: make(map[string]int)}
		c.entries[conversationID] = e
		ok = true
	}
	return e, ok
}

func (c *Cache) touch(e *entry) {
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
}

// AddItems appends items in order, rejecting duplicate ids.
func (c *Cache) AddItems(conversationID string, items ...Item) error {
	e, _ := c.entryFor(conversationID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, item := range items {
		if _, dup := e.index[item.ID]; dup {
			return fmt.Errorf("%w: %q in conversation %q", ErrDuplicateItem, item.ID, conversationID)
		}
	}
	for _, item := range items {
		if item.CreatedAt.IsZero() {
			item.CreatedAt = c.now()
		}
		e.index[item.ID] = len(e.items)
		e.items = append(e.items, item)
	}
	c.touch(e)
	return nil
}

// UpdateItem replaces an existing item in place.
func (c *Cache) UpdateItem(conversationID string, item Item) error {
	e, ok := c.entryFor(conversationID, false)
	if !ok {
		return fmt.Errorf("%w: conversation %q", ErrNotFound, conversationID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	i, ok := e.index[item.ID]
	if !ok {
		return fmt.Errorf("%w: item %q", ErrNotFound, item.ID)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = e.items[i].CreatedAt
	}
	e.items[i] = item
	c.touch(e)
	return nil
}

// RemoveItem deletes an item by id.
func (c *Cache) RemoveItem(conversationID, itemID string) error {
	e, ok := c.entryFor(conversationID, false)
	if !ok {
		return fmt.Errorf("%w: conversation %q", ErrNotFound, conversationID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	i, ok := e.index[itemID]
	if !ok {
		return fmt.Errorf("%w: item %q", ErrNotFound, itemID)
	}
	e.items = append(e.items[:i], e.items[i+1:]...)
	delete(e.index, itemID)
	for id, j := range e.index {
		if j > i {
			e.index[id] = j - 1
		}
	}
	c.touch(e)
	return nil
}

// List returns a cursor window over the conversation's items.
func (c *Cache) List(conversationID string, opts ListOptions) (ListResult, error) {
	if opts.Limit < 1 || opts.Limit > 100 {
		return ListResult{}, fmt.Errorf("%w: got %d", ErrInvalidLimit, opts.Limit)
	}
	if opts.Order == "" {
		opts.Order = OrderAsc
	}

	e, ok := c.entryFor(conversationID, false)
	if !ok {
		return ListResult{}, fmt.Errorf("%w: conversation %q", ErrNotFound, conversationID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ordered := make([]Item, len(e.items))
	copy(ordered, e.items)
	if opts.Order == OrderDesc {
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
	}

	start := 0
	if opts.After != "" {
		found := false
		for i, item := range ordered {
			if item.ID == opts.After {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return ListResult{}, fmt.Errorf("%w: item %q", ErrNotFound, opts.After)
		}
	}

	end := start + opts.Limit
	if end > len(ordered) {
		end = len(ordered)
	}
	window := make([]Item, end-start)
	copy(window, ordered[start:end])

	return ListResult{Items: window, HasMore: end < len(ordered)}, nil
}

// Delete removes a conversation outright.
func (c *Cache) Delete(conversationID string) {
	c.mu.Lock()
	delete(c.entries, conversationID)
	c.mu.Unlock()
}
