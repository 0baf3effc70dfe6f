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

// Package compression keeps each open file's decompressed bytes in memory:
// Open decompresses the whole stored object, reads and writes act on that
// copy, and Close compresses it into one length-prefixed deflate object
// stored downstream. No compression library appears
// anywhere in the retrieval pack, so this uses stdlib compress/flate — see
// DESIGN.md for the standard-library justification.
//
// This is deliberately the layer with the weakest random-access story in
// the stack (whole-object decompress per read) and is meant to sit below a
// read_cache in the reference topology, never bare.
package compression

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/layerfs/layerfs/internal/layer"
)

// Config mirrors the compression params table.
type Config struct {
	Level int `mapstructure:"level"` // compress/flate level, default flate.DefaultCompression
}

// Layer stores each file as one compressed object downstream, fronted by an
// 8-byte big-endian length prefix recording the decompressed size.
type Layer struct {
	next  layer.Context
	level int

	mu    sync.Mutex
	store map[int]*object
}

type object struct {
	data []byte // decompressed, in-memory working copy between open and close
}

// New builds a compression layer in front of next.
func New(next layer.Context, cfg Config) (*Layer, error) {
	level := cfg.Level
	if level == 0 {
		level = flate.DefaultCompression
	}
	return &Layer{next: next, level: level, store: make(map[int]*object)}, nil
}

func (l *Layer) compress(data []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := binary.Write(&out, binary.BigEndian, uint64(len(data))); err != nil {
		return nil, err
	}
	w, err := flate.NewWriter(&out, l.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (l *Layer) decompress(stored []byte) ([]byte, error) {
	if len(stored) < 8 {
		return nil, nil
	}
	size := binary.BigEndian.Uint64(stored[:8])
	r := flate.NewReader(bytes.NewReader(stored[8:]))
	defer r.Close()
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("compression: decompressing: %w", err)
	}
	return data, nil
}

func (l *Layer) Open(rc *layer.RequestContext, path string, flags int, mode os.FileMode) (int, error) {
	fd, err := l.next.Ops.Open(rc.Child(), path, flags, mode)
	if err != nil {
		return -1, err
	}

	var data []byte
	if flags&os.O_TRUNC == 0 {
		st, err := l.next.Ops.Fstat(rc.Child(), fd)
		if err == nil && st.Size > 0 {
			stored := make([]byte, st.Size)
			n, err := l.next.Ops.Pread(rc.Child(), fd, stored, 0)
			if err != nil {
				_ = l.next.Ops.Close(rc.Child(), fd)
				return -1, err
			}
			data, err = l.decompress(stored[:n])
			if err != nil {
				_ = l.next.Ops.Close(rc.Child(), fd)
				return -1, err
			}
		}
	}

	l.mu.Lock()
	l.store[fd] = &object{data: data}
	l.mu.Unlock()
	return fd, nil
}

func (l *Layer) objectFor(fd int) (*object, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	obj, ok := l.store[fd]
	return obj, ok
}

func (l *Layer) Close(rc *layer.RequestContext, fd int) error {
	obj, ok := l.objectFor(fd)
	if !ok {
		return l.next.Ops.Close(rc.Child(), fd)
	}
	compressed, err := l.compress(obj.data)
	if err != nil {
		return err
	}
	if err := l.next.Ops.Ftruncate(rc.Child(), fd, 0); err != nil {
		return err
	}
	if _, err := l.next.Ops.Pwrite(rc.Child(), fd, compressed, 0); err != nil {
		return err
	}
	l.mu.Lock()
	delete(l.store, fd)
	l.mu.Unlock()
	return l.next.Ops.Close(rc.Child(), fd)
}

func (l *Layer) Pread(rc *layer.RequestContext, fd int, buf []byte, off int64) (int, error) {
	obj, ok := l.objectFor(fd)
	if !ok {
		return 0, os.ErrInvalid
	}
	if off >= int64(len(obj.data)) {
		return 0, nil
	}
	return copy(buf, obj.data[off:]), nil
}

func (l *Layer) Pwrite(rc *layer.RequestContext, fd int, buf []byte, off int64) (int, error) {
	obj, ok := l.objectFor(fd)
	if !ok {
		return 0, os.ErrInvalid
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	end := off + int64(len(buf))
	if end > int64(len(obj.data)) {
		grown := make([]byte, end)
		copy(grown, obj.data)
		obj.data = grown
	}
	copy(obj.data[off:end], buf)
	return len(buf), nil
}

func (l *Layer) Ftruncate(rc *layer.RequestContext, fd int, size int64) error {
	obj, ok := l.objectFor(fd)
	if !ok {
		return os.ErrInvalid
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if size <= int64(len(obj.data)) {
		obj.data = obj.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, obj.data)
	obj.data = grown
	return nil
}

// Truncate on a closed file must round-trip through decompress/recompress
// since there is no open working copy to mutate in place.
func (l *Layer) Truncate(rc *layer.RequestContext, path string, size int64) error {
	fd, err := l.next.Ops.Open(rc.Child(), path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer l.next.Ops.Close(rc.Child(), fd)

	st, err := l.next.Ops.Fstat(rc.Child(), fd)
	if err != nil {
		return err
	}
	stored := make([]byte, st.Size)
	n, err := l.next.Ops.Pread(rc.Child(), fd, stored, 0)
	if err != nil {
		return err
	}
	data, err := l.decompress(stored[:n])
	if err != nil {
		return err
	}
	if size <= int64(len(data)) {
		data = data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, data)
		data = grown
	}
	compressed, err := l.compress(data)
	if err != nil {
		return err
	}
	if err := l.next.Ops.Ftruncate(rc.Child(), fd, 0); err != nil {
		return err
	}
	_, err = l.next.Ops.Pwrite(rc.Child(), fd, compressed, 0)
	return err
}

func (l *Layer) Lstat(rc *layer.RequestContext, path string) (layer.Stat, error) {
	return l.next.Ops.Lstat(rc.Child(), path)
}

func (l *Layer) Fstat(rc *layer.RequestContext, fd int) (layer.Stat, error) {
	obj, ok := l.objectFor(fd)
	if !ok {
		return l.next.Ops.Fstat(rc.Child(), fd)
	}
	st, err := l.next.Ops.Fstat(rc.Child(), fd)
	if err != nil {
		return layer.Stat{}, err
	}
	st.Size = int64(len(obj.data))
	return st, nil
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
