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

	"github.com/stretchr/testify/require"
)

func TestRootCmdHasMountSubcommand(t *testing.T) {
	found := false
	for _, c := range rootCmd.Commands() {
		if c.Name() == "mount" {
			found = true
		}
	}
	require.True(t, found)
}

func TestMountCmdAcceptsAtMostOneArg(t *testing.T) {
	require.NoError(t, mountCmd.Args(mountCmd, []string{"/mnt/x"}))
	require.NoError(t, mountCmd.Args(mountCmd, nil))
	require.Error(t, mountCmd.Args(mountCmd, []string{"a", "b"}))
}
