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

package encryption

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/layerfs/layerfs/internal/layer"
	"github.com/layerfs/layerfs/internal/layer/layertest"
)

func randomKey(t *testing.T) string {
	t.Helper()
	buf := make([]byte, keySize)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(buf)
}

func newLayer(t *testing.T, blockSize int64) (*Layer, *layertest.MemFS) {
	t.Helper()
	mem := layertest.New()
	l, err := New(mem.Context(), Config{BlockSize: blockSize, EncryptionKey: randomKey(t)})
	require.NoError(t, err)
	return l, mem
}

func rc() *layer.RequestContext {
	return &layer.RequestContext{Ctx: context.Background(), Path: "/f"}
}

func TestRoundTripBlockAligned(t *testing.T) {
	l, mem := newLayer(t, 16)
	fd, err := mem.Open(rc(), "/f", os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte("A"), 64)
	n, err := l.Pwrite(rc(), fd, plaintext, 0)
	require.NoError(t, err)
	require.Equal(t, len(plaintext), n)

	// The underlying bytes must not equal the plaintext: encryption happened.
	stored, ok := mem.Get("/f")
	require.True(t, ok)
	require.NotEqual(t, plaintext, stored)

	got := make([]byte, len(plaintext))
	n, err = l.Pread(rc(), fd, got, 0)
	require.NoError(t, err)
	require.Equal(t, len(plaintext), n)
	require.Equal(t, plaintext, got)
}

func TestPartialTrailingBlockRejectedOnWrite(t *testing.T) {
	l, mem := newLayer(t, 16)
	fd, err := mem.Open(rc(), "/f", os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte("B"), 20) // one full 16-byte block + 4 tail bytes
	_, err = l.Pwrite(rc(), fd, plaintext, 0)
	require.Error(t, err) // 4 < 16, XTS cannot address it
	require.ErrorIs(t, err, layer.ErrXTSTooShort)

	// Nothing was written downstream: the encrypt pass fails before the
	// terminal ever sees a Pwrite call.
	stored, ok := mem.Get("/f")
	require.True(t, ok)
	require.Empty(t, stored)
}

func TestDifferentBlocksEncryptDifferently(t *testing.T) {
	l, mem := newLayer(t, 16)
	fd, err := mem.Open(rc(), "/f", os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte("C"), 32) // two identical 16-byte plaintext blocks
	_, err = l.Pwrite(rc(), fd, plaintext, 0)
	require.NoError(t, err)

	stored, ok := mem.Get("/f")
	require.True(t, ok)
	require.NotEqual(t, stored[:16], stored[16:32], "identical plaintext blocks must diverge once tweaked by block index")
}

func TestDestroyZeroesKey(t *testing.T) {
	l, _ := newLayer(t, 16)
	require.NotZero(t, l.key)
	require.NoError(t, l.Destroy())
	for _, b := range l.key {
		require.Zero(t, b)
	}
}
