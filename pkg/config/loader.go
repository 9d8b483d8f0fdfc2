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

package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load reads, defaults, and validates the YAML configuration at path.
// ${VAR} references in string values are expanded from the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return finalize(k)
}

// FromMap builds a configuration from an in-memory document, mainly for
// embedding and tests.
func FromMap(doc map[string]any) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(doc, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load config map: %w", err)
	}
	return finalize(k)
}

func finalize(k *koanf.Koanf) (*Config, error) {
	expanded := expandEnv(k.Raw())
	doc, ok := expanded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected config shape after env expansion")
	}

	k = koanf.New(".")
	if err := k.Load(confmap.Provider(doc, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to reload expanded config: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// expandEnv walks the raw document and expands ${VAR} in string values.
func expandEnv(v any) any {
	switch val := v.(type) {
	case string:
		return os.Expand(val, func(name string) string {
			if resolved, ok := os.LookupEnv(name); ok {
				return resolved
			}
			// Leave unknown references intact so validation can surface
			// them instead of silently blanking values.
			return "${" + name + "}"
		})
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, item := range val {
			out[key] = expandEnv(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = expandEnv(item)
		}
		return out
	default:
		return v
	}
}
