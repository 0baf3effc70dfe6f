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

package demux

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

func TestWritePassthroughMirrorsToAllWriteChildren(t *testing.T) {
	a, b := layertest.New(), layertest.New()
	l, err := New([]layer.Context{a.Context(), b.Context()}, Config{
		PassthroughWrites: []bool{true, true},
		Enforced:          []bool{true, true},
	}, nil)
	require.NoError(t, err)

	h, err := l.Open(rc(), "/f", os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	n, err := l.Pwrite(rc(), h, []byte("hello"), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	got, ok := a.Get("/f")
	require.True(t, ok)
	require.Equal(t, "hello", string(got))
	got, ok = b.Get("/f")
	require.True(t, ok)
	require.Equal(t, "hello", string(got))
}

func TestReadPassthroughReturnsFirstSuccess(t *testing.T) {
	a, b := layertest.New(), layertest.New()
	b.Put("/f", []byte("from-b"))
	l, err := New([]layer.Context{a.Context(), b.Context()}, Config{
		PassthroughReads: []bool{true, true},
	}, nil)
	require.NoError(t, err)

	h, err := l.Open(rc(), "/f", os.O_RDONLY, 0)
	require.NoError(t, err)

	buf := make([]byte, 6)
	n, err := l.Pread(rc(), h, buf, 0)
	require.NoError(t, err)
	require.Equal(t, "from-b", string(buf[:n]))
}

func TestNonEnforcedWriteFailureDoesNotFailAggregate(t *testing.T) {
	a := layertest.New()
	l, err := New([]layer.Context{a.Context()}, Config{
		PassthroughWrites: []bool{true},
		Enforced:          []bool{false},
	}, nil)
	require.NoError(t, err)

	h, err := l.Open(rc(), "/f", os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = l.Pwrite(rc(), h, []byte("x"), 0)
	require.NoError(t, err)
}

func TestEnforcedOpenFailureFailsAggregate(t *testing.T) {
	a := layertest.New()
	l, err := New([]layer.Context{a.Context()}, Config{Enforced: []bool{true}}, nil)
	require.NoError(t, err)

	_, err = l.Open(rc(), "/missing", os.O_RDONLY, 0)
	require.Error(t, err)
}
