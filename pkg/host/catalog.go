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

// Package host provides the serving layer: named catalogs of agents and
// workflows, and per-conversation session persistence around agent runs.
package host

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/conversation"
	"github.com/kadirpekel/conductor/pkg/logger"
	"github.com/kadirpekel/conductor/pkg/workflow"
)

// ConfigurationError reports invalid catalog wiring.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

func configErrorf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// Services is the dependency bag handed to catalog factories.
type Services struct {
	Sessions      SessionStore
	Conversations *conversation.Cache
	Logger        *slog.Logger
}

// AgentFactory materializes an agent from host services.
type AgentFactory func(services Services) (agent.Agent, error)

// AgentCatalog maps names to agent factories. Names are case-insensitive.
type AgentCatalog struct {
	mu        sync.RWMutex
	factories map[string]AgentFactory
}

// NewAgentCatalog creates an empty catalog.
func NewAgentCatalog() *AgentCatalog {
	return &AgentCatalog{factories: make(map[string]AgentFactory)}
}

// Register adds a factory under name. Duplicate names are rejected.
func (c *AgentCatalog) Register(name string, factory AgentFactory) error {
	if name == "" {
		return configErrorf("agent name cannot be empty")
	}
	if factory == nil {
		return configErrorf("agent factory for %q cannot be nil", name)
	}
	key := strings.ToLower(name)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.factories[key]; dup {
		return configErrorf("agent %q is already registered", name)
	}
	c.factories[key] = factory
	return nil
}

// Names lists the registered keys.
func (c *AgentCatalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	return names
}

// Get materializes the agent registered under name. The produced agent's own
// name must match the registration key.
func (c *AgentCatalog) Get(name string, services Services) (agent.Agent, error) {
	key := strings.ToLower(name)
	c.mu.RLock()
	factory, ok := c.factories[key]
	c.mu.RUnlock()
	if !ok {
		return nil, configErrorf("agent %q is not registered", name)
	}

	a, err := factory(services)
	if err != nil {
		return nil, fmt.Errorf("failed to build agent %q: %w", name, err)
	}
	if !strings.EqualFold(a.Name(), name) {
		return nil, configErrorf("agent registered as %q reports name %q", name, a.Name())
	}
	return a, nil
}

// Resolver adapts the catalog to by-name lookup with fixed services, for
// callers that expect Resolve semantics.
func (c *AgentCatalog) Resolver(services Services) *CatalogResolver {
	if services.Logger == nil {
		services.Logger = logger.Component("host")
	}
	return &CatalogResolver{catalog: c, services: services}
}

// CatalogResolver materializes catalog agents on lookup.
type CatalogResolver struct {
	catalog  *AgentCatalog
	services Services
}

// Resolve returns the agent registered under name, if any.
func (r *CatalogResolver) Resolve(name string) (agent.Agent, bool) {
	a, err := r.catalog.Get(name, r.services)
	if err != nil {
		r.services.Logger.Warn("agent lookup failed", "agent", name, "error", err)
		return nil, false
	}
	return a, true
}

// WorkflowFactory builds a workflow instance.
type WorkflowFactory func() (*workflow.Workflow, error)

// WorkflowCatalog maps names to workflow factories. Names are
// case-insensitive.
type WorkflowCatalog struct {
	mu        sync.RWMutex
	factories map[string]WorkflowFactory
}

// NewWorkflowCatalog creates an empty catalog.
func NewWorkflowCatalog() *WorkflowCatalog {
	return &WorkflowCatalog{factories: make(map[string]WorkflowFactory)}
}

// Register adds a factory under name. Duplicate names are rejected.
func (c *WorkflowCatalog) Register(name string, factory WorkflowFactory) error {
	if name == "" {
		return configErrorf("workflow name cannot be empty")
	}
	if factory == nil {
		return configErrorf("workflow factory for %q cannot be nil", name)
	}
	key := strings.ToLower(name)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.factories[key]; dup {
		return configErrorf("workflow %q is already registered", name)
	}
	c.factories[key] = factory
	return nil
}

// Get builds the workflow registered under name.
func (c *WorkflowCatalog) Get(name string) (*workflow.Workflow, error) {
	key := strings.ToLower(name)
	c.mu.RLock()
	factory, ok := c.factories[key]
	c.mu.RUnlock()
	if !ok {
		return nil, configErrorf("workflow %q is not registered", name)
	}
	wf, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to build workflow %q: %w", name, err)
	}
	return wf, nil
}

// Names lists the registered keys.
func (c *WorkflowCatalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	return names
}
