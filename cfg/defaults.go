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

// ApplyDefaults fills in zero-valued top-level fields after mapstructure
// decode and before validation: log_mode falls back to disabled and
// services.metadata.cache_size to 1024. Per-layer params defaults are
// applied by the builder when it decodes each layer's params.
func ApplyDefaults(c *Config) {
	if c.LogMode == "" {
		c.LogMode = LogDisabled
	}
	if c.Services != nil && c.Services.Metadata != nil {
		m := c.Services.Metadata
		if m.CacheSize == 0 {
			m.CacheSize = 1024
		}
	}
}
