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

package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kadirpekel/conductor/pkg/session"
)

// RedisSessionStore persists serialized sessions in Redis so conversations
// survive process restarts and can be shared across hosts.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ SessionStore = (*RedisSessionStore)(nil)

// RedisOption customizes a RedisSessionStore.
type RedisOption func(*RedisSessionStore)

// WithSessionTTL sets a Redis expiry on stored sessions. Zero keeps them
// until deleted.
func WithSessionTTL(ttl time.Duration) RedisOption {
	return func(s *RedisSessionStore) { s.ttl = ttl }
}

// NewRedisSessionStore connects to Redis at addr and verifies the connection.
func NewRedisSessionStore(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*RedisSessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	s := &RedisSessionStore{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func redisSessionKey(agentName, conversationID string) string {
	return "conductor:session:" + agentName + ":" + conversationID
}

func (s *RedisSessionStore) Get(ctx context.Context, agentName, conversationID string) (*session.Session, error) {
	raw, err := s.client.Get(ctx, redisSessionKey(agentName, conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s/%s: %w", agentName, conversationID, err)
	}
	sess, err := session.Deserialize(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to restore session %s/%s: %w", agentName, conversationID, err)
	}
	return sess, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, agentName, conversationID string, sess *session.Session) error {
	raw, err := sess.Serialize(ctx)
	if err != nil {
		return fmt.Errorf("failed to serialize session %s/%s: %w", agentName, conversationID, err)
	}
	if err := s.client.Set(ctx, redisSessionKey(agentName, conversationID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write session %s/%s: %w", agentName, conversationID, err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, agentName, conversationID string) error {
	if err := s.client.Del(ctx, redisSessionKey(agentName, conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s/%s: %w", agentName, conversationID, err)
	}
	return nil
}

// Close releases the Redis client.
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}
