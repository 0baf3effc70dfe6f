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

// Package cmd is the Cobra/Viper CLI surface: "layerfs mount --config <path>
// <mountpoint>". The mount subcommand's flags are registered and bound
// through cfg.BindFlags; mount's RunE
// loads the config before dispatching.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "layerfs",
	Short: "Mount a layerfs layer stack as a local FUSE file system",
	Long: `layerfs assembles a configurable stack of pluggable layers (read
cache, AES-XTS encryption, anti-tampering, compression, remote and
cloud-storage terminals, ...) behind a single FUSE mount point.`,
	SilenceUsage: true,
}

// Execute runs the root command, exiting the process with status 1 on
// error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(mountCmd)
}
