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

package readcache

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/layerfs/layerfs/internal/cacheplugin/lru"
	"github.com/layerfs/layerfs/internal/layer"
	"github.com/layerfs/layerfs/internal/layer/layertest"
)

func rc() *layer.RequestContext {
	return &layer.RequestContext{Ctx: context.Background(), Path: "/f"}
}

func newLayer(t *testing.T, blockSize int64, numBlocks int) (*Layer, *layertest.MemFS) {
	t.Helper()
	mem := layertest.New()
	cache, err := lru.New(numBlocks)
	require.NoError(t, err)
	l, err := New(mem.Context(), Config{BlockSize: blockSize, NumBlocks: numBlocks}, cache, nil)
	require.NoError(t, err)
	return l, mem
}

func TestNewRejectsNonPositiveBlockSize(t *testing.T) {
	cache, err := lru.New(4)
	require.NoError(t, err)
	_, err = New(layertest.New().Context(), Config{BlockSize: 0, NumBlocks: 4}, cache, nil)
	require.Error(t, err)
}

func TestDefaultConfigMatchesParamTable(t *testing.T) {
	d := DefaultConfig()
	require.EqualValues(t, 4096, d.BlockSize)
	require.Equal(t, 100, d.NumBlocks)
}

func TestPreadMissThenHitServesFromCache(t *testing.T) {
	l, mem := newLayer(t, 4, 16)
	mem.Put("/f", []byte("0123456789ABCDEF"))

	h, err := l.Open(rc(), "/f", os.O_RDONLY, 0)
	require.NoError(t, err)

	buf := make([]byte, 8)
	n, err := l.Pread(rc(), h, buf, 0)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, "01234567", string(buf))

	// Second read of the same blocks must not touch the terminal: corrupt the
	// backing file and confirm the cached bytes still come back.
	mem.Put("/f", []byte("XXXXXXXXXXXXXXXX"))
	buf2 := make([]byte, 8)
	n, err = l.Pread(rc(), h, buf2, 0)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, "01234567", string(buf2))
}

func TestPreadCoalescesConsecutiveMisses(t *testing.T) {
	l, mem := newLayer(t, 4, 16)
	mem.Put("/f", []byte("0123456789ABCDEF"))

	h, err := l.Open(rc(), "/f", os.O_RDONLY, 0)
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := l.Pread(rc(), h, buf, 0)
	require.NoError(t, err)
	require.Equal(t, 16, n)
	require.Equal(t, "0123456789ABCDEF", string(buf))
}

func TestPwriteRefreshesOnlyCachedBlocks(t *testing.T) {
	l, mem := newLayer(t, 4, 16)
	mem.Put("/f", []byte("0123456789ABCDEF"))

	h, err := l.Open(rc(), "/f", os.O_RDWR, 0)
	require.NoError(t, err)

	// Warm block 0 only.
	warm := make([]byte, 4)
	_, err = l.Pread(rc(), h, warm, 0)
	require.NoError(t, err)

	n, err := l.Pwrite(rc(), h, []byte("abcd"), 0)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	// Block 0 was cached so the refreshed bytes come back without touching
	// the (now-stale) terminal copy.
	mem.Put("/f", []byte("ZZZZ456789ABCDEF"))
	got := make([]byte, 4)
	_, err = l.Pread(rc(), h, got, 0)
	require.NoError(t, err)
	require.Equal(t, "abcd", string(got))
}

func TestFtruncateGrowZeroFillsCachedTailBlock(t *testing.T) {
	l, mem := newLayer(t, 4, 16)
	mem.Put("/f", []byte("0123"))

	h, err := l.Open(rc(), "/f", os.O_RDWR, 0)
	require.NoError(t, err)

	warm := make([]byte, 4)
	_, err = l.Pread(rc(), h, warm, 0)
	require.NoError(t, err)

	require.NoError(t, l.Ftruncate(rc(), h, 6))

	st, err := l.Fstat(rc(), h)
	require.NoError(t, err)
	require.EqualValues(t, 6, st.Size)
}

func TestFtruncateShrinkEvictsDroppedBlocks(t *testing.T) {
	l, mem := newLayer(t, 4, 16)
	mem.Put("/f", []byte("0123456789ABCDEF"))

	h, err := l.Open(rc(), "/f", os.O_RDWR, 0)
	require.NoError(t, err)

	buf := make([]byte, 16)
	_, err = l.Pread(rc(), h, buf, 0)
	require.NoError(t, err)

	require.NoError(t, l.Ftruncate(rc(), h, 4))

	// Grow back past the evicted range through the terminal and confirm the
	// stale cached bytes for block 1 are gone, not resurrected.
	mem.Put("/f", []byte("0123WWWW9ABCDEF0"))
	require.NoError(t, l.Ftruncate(rc(), h, 16))
	got := make([]byte, 4)
	_, err = l.Pread(rc(), h, got, 4)
	require.NoError(t, err)
	require.Equal(t, "WWWW", string(got))
}

func TestUnlinkDeferredEvictionWaitsForLastClose(t *testing.T) {
	l, mem := newLayer(t, 4, 16)
	mem.Put("/f", []byte("0123"))

	h, err := l.Open(rc(), "/f", os.O_RDWR, 0)
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = l.Pread(rc(), h, buf, 0)
	require.NoError(t, err)

	require.NoError(t, l.Unlink(rc(), "/f"))
	require.NoError(t, l.Close(rc(), h))

	_, ok := mem.Get("/f")
	require.False(t, ok)
}

func TestCloseWithoutOpenInfoIsNotAnError(t *testing.T) {
	l, mem := newLayer(t, 4, 16)
	mem.Put("/f", []byte("0123"))
	h, err := l.Open(rc(), "/f", os.O_RDONLY, 0)
	require.NoError(t, err)
	require.NoError(t, l.Close(rc(), h))
}

func TestDestroyClosesCacheOnly(t *testing.T) {
	// Destroy releases only this layer's own cache; the next layer is torn
	// down separately by the builder's flat teardown walk, not recursively.
	l, mem := newLayer(t, 4, 16)
	require.NoError(t, l.Destroy())
	require.Equal(t, 0, mem.Destroys)
}
