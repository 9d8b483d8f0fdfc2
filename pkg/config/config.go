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

// Package config defines the YAML configuration surface of a conductor host
// and its koanf-based loader.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/conductor/pkg/durable"
	"github.com/kadirpekel/conductor/pkg/host"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreNone   = "none"
)

// Config is the root configuration document.
type Config struct {
	Runtime       RuntimeConfig      `yaml:"runtime"`
	Durable       DurableConfig      `yaml:"durable"`
	Sessions      SessionStoreConfig `yaml:"sessions"`
	Conversations ConversationConfig `yaml:"conversations"`
}

// RuntimeConfig tunes workflow execution.
type RuntimeConfig struct {
	// Parallel dispatches each superstep's handlers concurrently.
	Parallel bool `yaml:"parallel"`

	// Checkpointing persists a checkpoint after every superstep.
	Checkpointing bool `yaml:"checkpointing"`
}

// DurableConfig tunes durable session entities.
type DurableConfig struct {
	// Store selects the state backend: memory or sqlite.
	Store string `yaml:"store"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`

	// TTLDisabled turns off expiry entirely.
	TTLDisabled bool `yaml:"ttl_disabled"`

	// DefaultTTL is the time-to-live applied to agents without an override.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// MinSignalDelay is the earliest an expiry check may fire; at most five
	// minutes.
	MinSignalDelay time.Duration `yaml:"min_signal_delay"`

	// TTLOverrides maps agent names to per-agent TTLs; zero disables expiry
	// for that agent.
	TTLOverrides map[string]time.Duration `yaml:"ttl_overrides"`
}

// SessionStoreConfig selects the host session backend.
type SessionStoreConfig struct {
	// Backend is memory, none, or redis.
	Backend string `yaml:"backend"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig connects the redis session backend.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// ConversationConfig tunes the in-memory conversation cache.
type ConversationConfig struct {
	// TTL evicts idle conversations; zero keeps them forever.
	TTL time.Duration `yaml:"ttl"`
}

// SetDefaults fills unset fields with their stock values.
func (c *Config) SetDefaults() {
	if c.Durable.Store == "" {
		c.Durable.Store = StoreMemory
	}
	if c.Durable.DefaultTTL == 0 && !c.Durable.TTLDisabled {
		c.Durable.DefaultTTL = durable.DefaultTimeToLive
	}
	if c.Durable.Store == StoreSQLite && c.Durable.SQLitePath == "" {
		c.Durable.SQLitePath = "conductor.db"
	}
	if c.Sessions.Backend == "" {
		c.Sessions.Backend = StoreMemory
	}
}

// Validate rejects inconsistent settings. Call SetDefaults first.
func (c *Config) Validate() error {
	switch c.Durable.Store {
	case StoreMemory, StoreSQLite:
	default:
		return fmt.Errorf("durable.store must be %q or %q, got %q", StoreMemory, StoreSQLite, c.Durable.Store)
	}
	if c.Durable.DefaultTTL < 0 {
		return fmt.Errorf("durable.default_ttl cannot be negative")
	}
	if err := c.Durable.EntityConfig().Validate(); err != nil {
		return fmt.Errorf("durable: %w", err)
	}

	switch c.Sessions.Backend {
	case StoreMemory, StoreNone:
	case StoreRedis:
		if c.Sessions.Redis.Addr == "" {
			return fmt.Errorf("sessions.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("sessions.backend must be %q, %q or %q, got %q",
			StoreMemory, StoreNone, StoreRedis, c.Sessions.Backend)
	}

	if c.Conversations.TTL < 0 {
		return fmt.Errorf("conversations.ttl cannot be negative")
	}
	return nil
}

// EntityConfig converts the document form into the durable entity settings.
func (c DurableConfig) EntityConfig() durable.Config {
	cfg := durable.Config{MinSignalDelay: c.MinSignalDelay}
	if !c.TTLDisabled {
		ttl := c.DefaultTTL
		cfg.DefaultTimeToLive = &ttl
	}
	if len(c.TTLOverrides) > 0 {
		cfg.TTLOverrides = make(map[string]*time.Duration, len(c.TTLOverrides))
		for name, ttl := range c.TTLOverrides {
			key := strings.ToLower(name)
			if ttl == 0 {
				cfg.TTLOverrides[key] = nil
				continue
			}
			override := ttl
			cfg.TTLOverrides[key] = &override
		}
	}
	return cfg
}

// BuildStateStore instantiates the configured durable state backend.
func (c DurableConfig) BuildStateStore() (durable.StateStore, error) {
	switch c.Store {
	case StoreMemory:
		return durable.NewInMemoryStateStore(), nil
	case StoreSQLite:
		return durable.NewSQLiteStateStore(c.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported durable store %q", c.Store)
	}
}

// BuildSessionStore instantiates the configured host session backend.
func (c SessionStoreConfig) BuildSessionStore(ctx context.Context) (host.SessionStore, error) {
	switch c.Backend {
	case StoreMemory:
		return host.NewInMemorySessionStore(), nil
	case StoreNone:
		return host.NoopSessionStore{}, nil
	case StoreRedis:
		return host.NewRedisSessionStore(ctx, c.Redis.Addr, c.Redis.Password, c.Redis.DB,
			host.WithSessionTTL(c.Redis.TTL))
	default:
		return nil, fmt.Errorf("unsupported session backend %q", c.Backend)
	}
}
