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

package metadata

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func open(t *testing.T, cfg Config) *Service {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "meta.db")
	}
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrips(t *testing.T) {
	s := open(t, Config{})
	require.NoError(t, s.Put([]byte("k"), []byte("v")))

	v, ok, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(v))
}

func TestGetMissingKeyReturnsFalse(t *testing.T) {
	s := open(t, Config{})
	_, ok, err := s.Get([]byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteRemovesKey(t *testing.T) {
	s := open(t, Config{})
	require.NoError(t, s.Put([]byte("k"), []byte("v")))
	require.NoError(t, s.Delete([]byte("k")))

	_, ok, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteInvalidatesFrontCache(t *testing.T) {
	s := open(t, Config{CacheSize: 8})
	require.NoError(t, s.Put([]byte("k"), []byte("v")))

	v, ok, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(v))

	require.NoError(t, s.Delete([]byte("k")))
	_, ok, err = s.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok, "delete must invalidate the front cache, not just the bbolt bucket")
}

func TestReopenPersistsAcrossProcesses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")
	s1 := open(t, Config{Path: path})
	require.NoError(t, s1.Put([]byte("k"), []byte("v")))
	require.NoError(t, s1.Close())

	s2, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer s2.Close()
	v, ok, err := s2.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(v))
}
