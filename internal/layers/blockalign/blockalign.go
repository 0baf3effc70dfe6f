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

// Package blockalign presents block-aligned pread/pwrite to its child,
// rounding each request outward to block_size and trimming the result back
// down for the caller (spec.md §4.6). It is purely arithmetic: no state
// beyond the configured block size.
package blockalign

import (
	"fmt"
	"os"

	"github.com/layerfs/layerfs/internal/layer"
)

// Config mirrors the block_align params table in spec.md §6.
type Config struct {
	BlockSize int64 `mapstructure:"block_size"`
}

// DefaultConfig matches the default named in spec.md §6.
func DefaultConfig() Config {
	return Config{BlockSize: 4096}
}

// Layer rounds pread/pwrite out to block boundaries before forwarding.
type Layer struct {
	next layer.Context
	B    int64
}

// New builds a block-align layer in front of next.
func New(next layer.Context, cfg Config) (*Layer, error) {
	if cfg.BlockSize < 1 {
		return nil, fmt.Errorf("blockalign: block_size must be >= 1, got %d", cfg.BlockSize)
	}
	return &Layer{next: next, B: cfg.BlockSize}, nil
}

func (l *Layer) alignedRange(off, n int64) (alignedOff, alignedLen int64) {
	alignedOff = (off / l.B) * l.B
	end := off + n
	alignedEnd := ((end + l.B - 1) / l.B) * l.B
	return alignedOff, alignedEnd - alignedOff
}

func (l *Layer) Pread(rc *layer.RequestContext, fd int, buf []byte, off int64) (int, error) {
	n := int64(len(buf))
	if n == 0 {
		return 0, nil
	}
	alignedOff, alignedLen := l.alignedRange(off, n)
	scratch := make([]byte, alignedLen)

	got, err := l.next.Ops.Pread(rc.Child(), fd, scratch, alignedOff)
	if err != nil {
		return 0, err
	}
	skip := off - alignedOff
	if int64(got) <= skip {
		return 0, nil
	}
	avail := int64(got) - skip
	want := n
	if avail < want {
		want = avail
	}
	copy(buf[:want], scratch[skip:skip+want])
	return int(want), nil
}

func (l *Layer) Pwrite(rc *layer.RequestContext, fd int, buf []byte, off int64) (int, error) {
	n := int64(len(buf))
	if n == 0 {
		return 0, nil
	}
	alignedOff, alignedLen := l.alignedRange(off, n)
	if alignedOff == off && alignedLen == n {
		return l.next.Ops.Pwrite(rc.Child(), fd, buf, off)
	}

	scratch := make([]byte, alignedLen)
	got, err := l.next.Ops.Pread(rc.Child(), fd, scratch, alignedOff)
	if err != nil && got == 0 {
		// Nothing downstream yet (e.g. write past EOF into a fresh file);
		// proceed with a zero-filled scratch buffer for the untouched edges.
	}
	skip := off - alignedOff
	copy(scratch[skip:skip+n], buf)

	if _, err := l.next.Ops.Pwrite(rc.Child(), fd, scratch, alignedOff); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (l *Layer) Open(rc *layer.RequestContext, path string, flags int, mode os.FileMode) (int, error) {
	return l.next.Ops.Open(rc.Child(), path, flags, mode)
}

func (l *Layer) Close(rc *layer.RequestContext, fd int) error {
	return l.next.Ops.Close(rc.Child(), fd)
}

func (l *Layer) Ftruncate(rc *layer.RequestContext, fd int, size int64) error {
	return l.next.Ops.Ftruncate(rc.Child(), fd, size)
}

func (l *Layer) Truncate(rc *layer.RequestContext, path string, size int64) error {
	return l.next.Ops.Truncate(rc.Child(), path, size)
}

func (l *Layer) Lstat(rc *layer.RequestContext, path string) (layer.Stat, error) {
	return l.next.Ops.Lstat(rc.Child(), path)
}

func (l *Layer) Fstat(rc *layer.RequestContext, fd int) (layer.Stat, error) {
	return l.next.Ops.Fstat(rc.Child(), fd)
}

func (l *Layer) Unlink(rc *layer.RequestContext, path string) error {
	return l.next.Ops.Unlink(rc.Child(), path)
}

func (l *Layer) Fsync(rc *layer.RequestContext, fd int, dataOnly bool) error {
	return l.next.Ops.Fsync(rc.Child(), fd, dataOnly)
}

func (l *Layer) Readdir(rc *layer.RequestContext, path string) ([]layer.DirEntry, error) {
	return l.next.Ops.Readdir(rc.Child(), path)
}

func (l *Layer) Rename(rc *layer.RequestContext, from, to string) error {
	return l.next.Ops.Rename(rc.Child(), from, to)
}

func (l *Layer) Chmod(rc *layer.RequestContext, path string, mode os.FileMode) error {
	return l.next.Ops.Chmod(rc.Child(), path, mode)
}

// Destroy is a no-op: this layer owns no resources of its own. The
// builder's flat teardown walk destroys l.next separately, exactly once.
func (l *Layer) Destroy() error {
	return nil
}
