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

// Package cfg loads and validates the TOML configuration spec.md §3 calls
// "Config": a named root layer, an ordered mapping of layer name to
// LayerConfig, a global log mode, and optional service configuration.
// Viper reads the file, pflag binds CLI overrides, and mapstructure (with a
// custom DecodeHook) decodes the result into typed Go values.
package cfg

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the root of a layerfs configuration file.
type Config struct {
	// Root is the mountpoint the FUSE host binds to. It may also be
	// supplied as a positional CLI argument, which takes precedence.
	Root string `mapstructure:"root"`

	// RootLayer names the entry in Layers the builder starts from.
	RootLayer string `mapstructure:"root_layer"`

	LogMode LogMode `mapstructure:"log_mode"`
	LogFile string  `mapstructure:"log_file"`

	Services *ServicesConfig `mapstructure:"services"`

	Layers map[string]LayerConfig `mapstructure:"layers"`
}

// BindFlags registers the CLI flags every `layerfs mount` invocation
// accepts and binds them into viper so CLI values override file values.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.StringP("config", "c", "./config.toml", "Path to the layerfs TOML configuration file.")
	flagSet.StringP("log-mode", "", "", "Override the configured log_mode.")
	flagSet.StringP("log-file", "", "", "Override the configured log_file.")

	if err := viper.BindPFlag("log_mode", flagSet.Lookup("log-mode")); err != nil {
		return err
	}
	if err := viper.BindPFlag("log_file", flagSet.Lookup("log-file")); err != nil {
		return err
	}
	return nil
}

// Load reads and decodes the TOML file at path, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("cfg: reading %s: %w", path, err)
	}

	var c Config
	decoderOpts := func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = DecodeHook()
		dc.ErrorUnused = false
	}
	if err := v.Unmarshal(&c, decoderOpts); err != nil {
		return nil, fmt.Errorf("cfg: decoding %s: %w", path, err)
	}

	ApplyDefaults(&c)

	if err := ValidateConfig(&c); err != nil {
		return nil, fmt.Errorf("cfg: %s: %w", path, err)
	}
	return &c, nil
}
