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

package s3opendal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/layerfs/layerfs/internal/layer"
)

func rc() *layer.RequestContext {
	return &layer.RequestContext{Ctx: context.Background(), Path: "/f"}
}

func newTestLayer() *Layer {
	return &Layer{bucket: "test-bucket", prefix: "root/", fds: make(map[int]*handle), next: 3}
}

func TestKeyForAppliesPrefixAndStripsLeadingSlash(t *testing.T) {
	l := newTestLayer()
	require.Equal(t, "root/a/b.txt", l.keyFor("/a/b.txt"))
}

func TestPwriteThenPreadOnHandle(t *testing.T) {
	l := newTestLayer()
	fd := l.next
	l.fds[fd] = &handle{key: l.keyFor("/f")}
	l.next++

	n, err := l.Pwrite(rc(), fd, []byte("hello"), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = l.Pread(rc(), fd, buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestFtruncateGrowsAndShrinks(t *testing.T) {
	l := newTestLayer()
	fd := l.next
	l.fds[fd] = &handle{key: "k", data: []byte("abcdef")}

	require.NoError(t, l.Ftruncate(rc(), fd, 3))
	require.Equal(t, "abc", string(l.fds[fd].data))

	require.NoError(t, l.Ftruncate(rc(), fd, 5))
	require.Len(t, l.fds[fd].data, 5)
}
