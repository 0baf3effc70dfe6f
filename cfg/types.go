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

import (
	"fmt"
	"slices"
	"strings"
)

// LogMode mirrors internal/logging.Mode as a plain string so cfg doesn't
// have to import the logging package just to parse one field.
type LogMode string

const (
	LogDisabled LogMode = "disabled"
	LogScreen   LogMode = "screen"
	LogError    LogMode = "error"
	LogWarn     LogMode = "warn"
	LogInfo     LogMode = "info"
	LogDebug    LogMode = "debug"
)

var validLogModes = []string{
	string(LogDisabled), string(LogScreen), string(LogError),
	string(LogWarn), string(LogInfo), string(LogDebug),
}

func (m *LogMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	if !slices.Contains(validLogModes, v) {
		return fmt.Errorf("invalid log_mode: %s. Must be one of %v", text, validLogModes)
	}
	*m = LogMode(v)
	return nil
}

// LayerConfig is the declarative record for a single named node in the
// layer graph (spec.md §3's "LayerConfig (declarative)"). Type selects the
// layer kind the builder instantiates; the dependency fields below cover
// every shape spec.md's builder algorithm names: a single next layer, an
// ordered list (demultiplexer), or a {data_layer, hash_layer} pair
// (anti_tampering). Params carries the type-specific parameter union,
// decoded into the layer's own Config struct by the builder via
// mapstructure and DecodeHook.
type LayerConfig struct {
	Type string `mapstructure:"type"`

	Next      string   `mapstructure:"next"`
	Children  []string `mapstructure:"children"`
	DataLayer string   `mapstructure:"data_layer"`
	HashLayer string   `mapstructure:"hash_layer"`

	Params map[string]any `mapstructure:",remain"`
}

// MetadataServiceConfig mirrors spec.md §6's `{type = "metadata", cache_size
// = <int>, threads = <int>}` service record.
type MetadataServiceConfig struct {
	Path      string `mapstructure:"path"`
	CacheSize int    `mapstructure:"cache_size"`
	Threads   int    `mapstructure:"threads"`
}

// ServicesConfig names the optional external collaborators a build may need
// outside the layer graph itself.
type ServicesConfig struct {
	Metadata *MetadataServiceConfig `mapstructure:"metadata"`
}
