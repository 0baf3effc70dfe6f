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
	"time"

	"github.com/stretchr/testify/require"
)

type remoteParams struct {
	Addr    string        `mapstructure:"addr"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func TestDecodeParamsConvertsDurationString(t *testing.T) {
	var out remoteParams
	err := DecodeParams(map[string]any{"addr": "10.0.0.1:9000", "timeout": "5s"}, &out)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:9000", out.Addr)
	require.Equal(t, 5*time.Second, out.Timeout)
}

func TestLogModeUnmarshalTextRejectsUnknownValue(t *testing.T) {
	var m LogMode
	err := m.UnmarshalText([]byte("verbose"))
	require.Error(t, err)
}

func TestLogModeUnmarshalTextLowercases(t *testing.T) {
	var m LogMode
	require.NoError(t, m.UnmarshalText([]byte("DEBUG")))
	require.Equal(t, LogDebug, m)
}
