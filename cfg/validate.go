// Copyright 2026 The layerfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import "fmt"

// ValidateConfig returns a non-nil error if the config is structurally
// invalid. Reference validity (does every Next/Children/DataLayer/HashLayer
// name an entry in Layers) is the builder's job, since only it walks the
// graph and can name a cycle; this only checks what can be known without
// building anything.
func ValidateConfig(c *Config) error {
	if c.RootLayer == "" {
		return fmt.Errorf("root_layer is required")
	}
	if len(c.Layers) == 0 {
		return fmt.Errorf("at least one entry under [layers] is required")
	}
	if _, ok := c.Layers[c.RootLayer]; !ok {
		return fmt.Errorf("root_layer %q has no corresponding [layers.%s] entry", c.RootLayer, c.RootLayer)
	}
	for name, lc := range c.Layers {
		if lc.Type == "" {
			return fmt.Errorf("layer %q is missing a type", name)
		}
	}
	if c.Services != nil && c.Services.Metadata != nil {
		m := c.Services.Metadata
		if m.CacheSize < 0 {
			return fmt.Errorf("services.metadata.cache_size must be >= 0, got %d", m.CacheSize)
		}
		if m.Threads < 0 {
			return fmt.Errorf("services.metadata.threads must be >= 0, got %d", m.Threads)
		}
	}
	return nil
}
