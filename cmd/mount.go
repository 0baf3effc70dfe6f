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
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/layerfs/layerfs/cfg"
	"github.com/layerfs/layerfs/internal/builder"
	"github.com/layerfs/layerfs/internal/fusehost"
	"github.com/layerfs/layerfs/internal/logging"
)

var mountCmd = &cobra.Command{
	Use:   "mount [mountpoint]",
	Short: "Build the configured layer stack and mount it at mountpoint",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMount,
}

func init() {
	if err := cfg.BindFlags(mountCmd.Flags()); err != nil {
		panic(fmt.Sprintf("cmd: binding mount flags: %v", err))
	}
}

func runMount(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	c, err := cfg.Load(configPath)
	if err != nil {
		return err
	}

	mountPoint := c.Root
	if len(args) == 1 {
		mountPoint = args[0]
	}
	if mountPoint == "" {
		return fmt.Errorf("layerfs mount: a mount point is required, either as an argument or config's root")
	}
	mountPoint, err = filepath.Abs(mountPoint)
	if err != nil {
		return fmt.Errorf("canonicalizing mount point: %w", err)
	}

	logFile := c.LogFile
	if v := viper.GetString("log_file"); v != "" {
		logFile = v
	}
	log, err := logging.New(logging.Config{
		Mode:    logging.Mode(resolveLogMode(c)),
		LogFile: logFile,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	res, err := builder.Build(c, builder.Deps{Ctx: ctx, Logger: log})
	if err != nil {
		return fmt.Errorf("building layer stack: %w", err)
	}
	defer res.Teardown()

	host := fusehost.New(res.Root, log)
	server := fuseutil.NewFileSystemServer(host)

	mfs, err := fuse.Mount(mountPoint, server, getFuseMountConfig())
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	log.Info("layerfs mounted", "mountpoint", mountPoint, "config", configPath)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}

	if err := fuse.Unmount(mountPoint); err != nil {
		return fmt.Errorf("unmount: %w", err)
	}
	return mfs.Join(context.Background())
}

// resolveLogMode lets --log-mode, bound into viper by cfg.BindFlags,
// override the file-configured log_mode.
func resolveLogMode(c *cfg.Config) string {
	if v := viper.GetString("log_mode"); v != "" {
		return v
	}
	return string(c.LogMode)
}

// getFuseMountConfig builds a fixed FSName/Subtype/VolumeName plus the
// parallel-dir-ops and writeback-caching knobs jacobsa/fuse exposes.
func getFuseMountConfig() *fuse.MountConfig {
	return &fuse.MountConfig{
		FSName:                  "layerfs",
		Subtype:                 "layerfs",
		VolumeName:              "layerfs",
		EnableParallelDirOps:    true,
		DisableWritebackCaching: false,
		EnableReaddirplus:       true,
	}
}
