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

package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisabledModeEmitsNothing(t *testing.T) {
	log, err := New(Config{Mode: Disabled})
	require.NoError(t, err)
	require.False(t, log.Enabled(nil, 1<<20))
}

func TestUnknownModeErrors(t *testing.T) {
	_, err := New(Config{Mode: "bogus"})
	require.Error(t, err)
}

func TestErrorModeWritesToRotatingLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layerfs.log")
	log, err := New(Config{Mode: Error, LogFile: path})
	require.NoError(t, err)

	log.Error("something broke")
	log.Info("should be filtered out at ERROR level")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(content), "something broke")
	require.NotContains(t, string(content), "should be filtered out")
}
