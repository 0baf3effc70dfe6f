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

import "github.com/mitchellh/mapstructure"

// DecodeHook composes the hooks cfg.Load and the builder's per-layer Params
// decode both need: TextUnmarshallerHookFunc picks up LogMode's
// UnmarshalText, and the two default hooks handle "30s"-style durations and
// split comma-separated strings inside a layer's params table into slices.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// DecodeParams decodes a LayerConfig's Params map into out, a pointer to a
// specific layer package's Config struct, using the same hook chain as
// cfg.Load. Layer constructors in internal/builder call this rather than
// reaching into the map themselves.
func DecodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: DecodeHook(),
		Result:     out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(params)
}
