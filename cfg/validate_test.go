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
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		RootLayer: "disk",
		Layers: map[string]LayerConfig{
			"disk": {Type: "local"},
		},
	}
}

func TestValidateConfigAcceptsMinimalConfig(t *testing.T) {
	require.NoError(t, ValidateConfig(validConfig()))
}

func TestValidateConfigRejectsEmptyRootLayer(t *testing.T) {
	c := validConfig()
	c.RootLayer = ""
	require.Error(t, ValidateConfig(c))
}

func TestValidateConfigRejectsMissingRootLayerEntry(t *testing.T) {
	c := validConfig()
	c.RootLayer = "nonexistent"
	require.Error(t, ValidateConfig(c))
}

func TestValidateConfigRejectsLayerWithoutType(t *testing.T) {
	c := validConfig()
	c.Layers["disk"] = LayerConfig{}
	require.Error(t, ValidateConfig(c))
}

func TestValidateConfigRejectsNegativeThreads(t *testing.T) {
	c := validConfig()
	c.Services = &ServicesConfig{Metadata: &MetadataServiceConfig{Threads: -1}}
	require.Error(t, ValidateConfig(c))
}
