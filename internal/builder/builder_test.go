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

package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/layerfs/layerfs/cfg"
	"github.com/layerfs/layerfs/internal/layer"
)

func rc() *layer.RequestContext {
	return &layer.RequestContext{Path: "/f"}
}

func TestBuildChainRoundTrips(t *testing.T) {
	dir := t.TempDir()
	c := &cfg.Config{
		RootLayer: "cache",
		Layers: map[string]cfg.LayerConfig{
			"cache": {
				Type: "read_cache",
				Next: "enc",
				Params: map[string]any{
					"block_size": int64(4096),
					"num_blocks": 16,
				},
			},
			"enc": {
				Type: "encryption",
				Next: "disk",
				Params: map[string]any{
					"block_size":     int64(4096),
					"encryption_key": "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8gISIjJCUmJygpKissLS4vMDEyMzQ1Njc4OTo7PD0+Pw==",
				},
			},
			"disk": {
				Type:   "local",
				Params: map[string]any{"root": dir},
			},
		},
	}

	res, err := Build(c, Deps{})
	require.NoError(t, err)
	defer res.Teardown()

	fd, err := res.Root.Ops.Open(rc(), "/f", os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer res.Root.Ops.Close(rc(), fd)

	payload := []byte("layerfs builder round trip")
	n, err := res.Root.Ops.Pwrite(rc(), fd, payload, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = res.Root.Ops.Pread(rc(), fd, buf, 0)
	require.NoError(t, err)
	require.Equal(t, payload, buf[:n])
}

func TestBuildUnknownRootLayerFails(t *testing.T) {
	c := &cfg.Config{RootLayer: "missing", Layers: map[string]cfg.LayerConfig{}}
	_, err := Build(c, Deps{})
	require.Error(t, err)
	var unk *layer.ErrUnknownLayer
	require.ErrorAs(t, err, &unk)
}

func TestBuildCycleDetected(t *testing.T) {
	c := &cfg.Config{
		RootLayer: "a",
		Layers: map[string]cfg.LayerConfig{
			"a": {Type: "block_align", Next: "b"},
			"b": {Type: "block_align", Next: "a"},
		},
	}
	_, err := Build(c, Deps{})
	require.Error(t, err)
	var cyc *layer.ErrCycle
	require.ErrorAs(t, err, &cyc)
}

func TestBuildDemultiplexerSharesMemoizedChild(t *testing.T) {
	dir := t.TempDir()
	c := &cfg.Config{
		RootLayer: "fanout",
		Layers: map[string]cfg.LayerConfig{
			"fanout": {
				Type:     "demultiplexer",
				Children: []string{"disk", "disk"},
			},
			"disk": {Type: "local", Params: map[string]any{"root": dir}},
		},
	}

	res, err := Build(c, Deps{})
	require.NoError(t, err)
	defer res.Teardown()

	require.Len(t, res.Root.Next, 2)
	require.Same(t, res.Root.Next[0].Ops, res.Root.Next[1].Ops)
}

func TestBuildMissingNextFails(t *testing.T) {
	c := &cfg.Config{
		RootLayer: "enc",
		Layers: map[string]cfg.LayerConfig{
			"enc": {Type: "encryption"},
		},
	}
	_, err := Build(c, Deps{})
	require.Error(t, err)
}

func TestBuildTeardownDestroysOnConstructorFailure(t *testing.T) {
	dir := t.TempDir()
	c := &cfg.Config{
		RootLayer: "enc",
		Layers: map[string]cfg.LayerConfig{
			"enc": {
				Type: "encryption",
				Next: "disk",
				Params: map[string]any{
					"block_size": int64(4), // below encryption's minimum of 16
				},
			},
			"disk": {Type: "local", Params: map[string]any{"root": dir}},
		},
	}
	_, err := Build(c, Deps{})
	require.Error(t, err)
}

func TestBuildAntiTamperingWiresDataAndHashLayers(t *testing.T) {
	dataDir := t.TempDir()
	hashDir := t.TempDir()
	c := &cfg.Config{
		RootLayer: "guarded",
		Layers: map[string]cfg.LayerConfig{
			"guarded": {
				Type:      "anti_tampering",
				DataLayer: "data",
				HashLayer: "hash",
				Params:    map[string]any{"block_size": int64(512)},
			},
			"data": {Type: "local", Params: map[string]any{"root": dataDir}},
			"hash": {Type: "local", Params: map[string]any{"root": hashDir}},
		},
	}

	res, err := Build(c, Deps{})
	require.NoError(t, err)
	defer res.Teardown()

	fd, err := res.Root.Ops.Open(rc(), "/f", os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer res.Root.Ops.Close(rc(), fd)

	payload := []byte("hello anti-tamper")
	_, err = res.Root.Ops.Pwrite(rc(), fd, payload, 0)
	require.NoError(t, err)

	buf := make([]byte, len(payload))
	n, err := res.Root.Ops.Pread(rc(), fd, buf, 0)
	require.NoError(t, err)
	require.Equal(t, payload, buf[:n])

	entries, err := os.ReadDir(hashDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	require.Contains(t, filepath.Base(entries[0].Name()), ".sha256")
}
