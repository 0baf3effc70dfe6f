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

// Package layertest is a tiny in-memory terminal layer used to unit-test the
// pass-through layers without a real mountpoint, modeled on the fake
// filesystems gcsfuse's own layer tests build over its storage fakes.
package layertest

import (
	"os"
	"sync"
	"time"

	"github.com/layerfs/layerfs/internal/layer"
)

type file struct {
	data []byte
	mode os.FileMode
	ino  uint64
}

type fd struct {
	f    *file
	path string
}

// MemFS is an Ops implementation backed entirely by an in-process map. It
// has no children: Destroy on it is a no-op base case for layer stacks under
// test.
type MemFS struct {
	mu       sync.Mutex
	files    map[string]*file
	fds      map[int]*fd
	nextFd   int
	nextIno  uint64
	Destroys int
}

// New returns an empty MemFS.
func New() *MemFS {
	return &MemFS{
		files:   make(map[string]*file),
		fds:     make(map[int]*fd),
		nextFd:  3,
		nextIno: 1,
	}
}

// Context wraps m in a layer.Context with no children, ready to be used as
// the innermost node of a stack under test.
func (m *MemFS) Context() layer.Context {
	return layer.Context{Ops: m}
}

// Put seeds path with content, bypassing Open/Pwrite.
func (m *MemFS) Put(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	if !ok {
		f = &file{mode: 0o644, ino: m.nextIno}
		m.nextIno++
		m.files[path] = f
	}
	f.data = append([]byte(nil), content...)
}

// Get returns the current bytes stored at path.
func (m *MemFS) Get(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), f.data...), true
}

func (m *MemFS) Open(rc *layer.RequestContext, path string, flags int, mode os.FileMode) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[path]
	if !ok {
		if flags&os.O_CREATE == 0 {
			return -1, os.ErrNotExist
		}
		f = &file{mode: mode, ino: m.nextIno}
		m.nextIno++
		m.files[path] = f
	} else if flags&os.O_TRUNC != 0 {
		f.data = nil
	}

	h := m.nextFd
	m.nextFd++
	m.fds[h] = &fd{f: f, path: path}
	return h, nil
}

func (m *MemFS) Close(rc *layer.RequestContext, h int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.fds[h]; !ok {
		return os.ErrInvalid
	}
	delete(m.fds, h)
	return nil
}

func (m *MemFS) Pread(rc *layer.RequestContext, h int, buf []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.fds[h]
	if !ok {
		return 0, os.ErrInvalid
	}
	if off >= int64(len(e.f.data)) {
		return 0, nil
	}
	n := copy(buf, e.f.data[off:])
	return n, nil
}

func (m *MemFS) Pwrite(rc *layer.RequestContext, h int, buf []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.fds[h]
	if !ok {
		return 0, os.ErrInvalid
	}
	end := off + int64(len(buf))
	if end > int64(len(e.f.data)) {
		grown := make([]byte, end)
		copy(grown, e.f.data)
		e.f.data = grown
	}
	copy(e.f.data[off:end], buf)
	return len(buf), nil
}

func (m *MemFS) Ftruncate(rc *layer.RequestContext, h int, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.fds[h]
	if !ok {
		return os.ErrInvalid
	}
	return m.truncateFile(e.f, size)
}

func (m *MemFS) Truncate(rc *layer.RequestContext, path string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	if !ok {
		return os.ErrNotExist
	}
	return m.truncateFile(f, size)
}

func (m *MemFS) truncateFile(f *file, size int64) error {
	if size <= int64(len(f.data)) {
		f.data = f.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, f.data)
	f.data = grown
	return nil
}

func (m *MemFS) statFor(f *file) layer.Stat {
	return layer.Stat{
		Ino:     f.ino,
		Size:    int64(len(f.data)),
		Mode:    f.mode,
		Mtime:   time.Time{},
		Nlink:   1,
		BlkSize: 4096,
	}
}

func (m *MemFS) Lstat(rc *layer.RequestContext, path string) (layer.Stat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	if !ok {
		return layer.Stat{}, os.ErrNotExist
	}
	return m.statFor(f), nil
}

func (m *MemFS) Fstat(rc *layer.RequestContext, h int) (layer.Stat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.fds[h]
	if !ok {
		return layer.Stat{}, os.ErrInvalid
	}
	return m.statFor(e.f), nil
}

func (m *MemFS) Unlink(rc *layer.RequestContext, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; !ok {
		return os.ErrNotExist
	}
	delete(m.files, path)
	return nil
}

func (m *MemFS) Fsync(rc *layer.RequestContext, h int, dataOnly bool) error {
	return nil
}

func (m *MemFS) Readdir(rc *layer.RequestContext, path string) ([]layer.DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []layer.DirEntry
	for p, f := range m.files {
		out = append(out, layer.DirEntry{Name: p, Stat: m.statFor(f)})
	}
	return out, nil
}

func (m *MemFS) Rename(rc *layer.RequestContext, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[from]
	if !ok {
		return os.ErrNotExist
	}
	delete(m.files, from)
	m.files[to] = f
	return nil
}

func (m *MemFS) Chmod(rc *layer.RequestContext, path string, mode os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	if !ok {
		return os.ErrNotExist
	}
	f.mode = mode
	return nil
}

func (m *MemFS) Destroy() error {
	m.Destroys++
	return nil
}
