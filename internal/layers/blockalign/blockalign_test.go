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

package blockalign

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/layerfs/layerfs/internal/layer"
	"github.com/layerfs/layerfs/internal/layer/layertest"
)

func rc() *layer.RequestContext {
	return &layer.RequestContext{Ctx: context.Background(), Path: "/f"}
}

func TestUnalignedWriteThenReadRoundTrips(t *testing.T) {
	mem := layertest.New()
	l, err := New(mem.Context(), Config{BlockSize: 16})
	require.NoError(t, err)

	fd, err := mem.Open(rc(), "/f", os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = l.Pwrite(rc(), fd, []byte("hello"), 5) // unaligned: off=5, n=5
	require.NoError(t, err)

	stored, ok := mem.Get("/f")
	require.True(t, ok)
	require.Equal(t, int64(16), int64(len(stored))) // rounded to one full block

	buf := make([]byte, 5)
	n, err := l.Pread(rc(), fd, buf, 5)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
}

func TestAlignedPwriteSkipsScratchRoundTrip(t *testing.T) {
	mem := layertest.New()
	l, err := New(mem.Context(), Config{BlockSize: 16})
	require.NoError(t, err)

	fd, err := mem.Open(rc(), "/f", os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	buf16 := make([]byte, 16)
	for i := range buf16 {
		buf16[i] = byte(i)
	}
	n, err := l.Pwrite(rc(), fd, buf16, 0)
	require.NoError(t, err)
	require.Equal(t, 16, n)

	stored, ok := mem.Get("/f")
	require.True(t, ok)
	require.Equal(t, buf16, stored)
}
