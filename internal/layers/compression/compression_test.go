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

package compression

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

func TestWriteCloseThenReopenRoundTrips(t *testing.T) {
	mem := layertest.New()
	l, err := New(mem.Context(), Config{})
	require.NoError(t, err)

	fd, err := l.Open(rc(), "/f", os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	payload := []byte("the quick brown fox jumps over the lazy dog, repeatedly, for compressibility")
	_, err = l.Pwrite(rc(), fd, payload, 0)
	require.NoError(t, err)
	require.NoError(t, l.Close(rc(), fd))

	stored, ok := mem.Get("/f")
	require.True(t, ok)
	require.Less(t, len(stored), len(payload)+8+32, "stored object should not be wildly larger than the input")

	fd2, err := l.Open(rc(), "/f", os.O_RDONLY, 0)
	require.NoError(t, err)
	buf := make([]byte, len(payload))
	n, err := l.Pread(rc(), fd2, buf, 0)
	require.NoError(t, err)
	require.Equal(t, payload, buf[:n])
}

func TestTruncateWithNoOpenFDRoundTrips(t *testing.T) {
	mem := layertest.New()
	l, err := New(mem.Context(), Config{})
	require.NoError(t, err)

	fd, err := l.Open(rc(), "/f", os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = l.Pwrite(rc(), fd, []byte("0123456789"), 0)
	require.NoError(t, err)
	require.NoError(t, l.Close(rc(), fd))

	require.NoError(t, l.Truncate(rc(), "/f", 4))

	fd2, err := l.Open(rc(), "/f", os.O_RDONLY, 0)
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err := l.Pread(rc(), fd2, buf, 0)
	require.NoError(t, err)
	require.Equal(t, "0123", string(buf[:n]))
}

func TestFstatReportsDecompressedSizeWhileOpen(t *testing.T) {
	mem := layertest.New()
	l, err := New(mem.Context(), Config{})
	require.NoError(t, err)

	fd, err := l.Open(rc(), "/f", os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = l.Pwrite(rc(), fd, []byte("hello"), 0)
	require.NoError(t, err)

	st, err := l.Fstat(rc(), fd)
	require.NoError(t, err)
	require.EqualValues(t, 5, st.Size)
}
