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

package cmd

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/layerfs/layerfs/cfg"
)

func TestGetFuseMountConfigNamesLayerfs(t *testing.T) {
	mc := getFuseMountConfig()
	require.Equal(t, "layerfs", mc.FSName)
	require.Equal(t, "layerfs", mc.Subtype)
	require.True(t, mc.EnableParallelDirOps)
	require.True(t, mc.EnableReaddirplus)
}

func TestResolveLogModePrefersFlagOverFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("log_mode", "debug")

	got := resolveLogMode(&cfg.Config{LogMode: cfg.LogInfo})
	require.Equal(t, "debug", got)
}

func TestResolveLogModeFallsBackToFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	got := resolveLogMode(&cfg.Config{LogMode: cfg.LogWarn})
	require.Equal(t, "warn", got)
}
