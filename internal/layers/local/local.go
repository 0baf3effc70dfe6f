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

// Package local is a terminal layer: it serves every operation directly
// against a configurable root directory on the host, using the host's own
// file primitives (spec.md §4.6). It has no children.
package local

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/layerfs/layerfs/internal/layer"
)

// Config mirrors the local_terminal params table in spec.md §6.
type Config struct {
	Root string `mapstructure:"root"`
}

// Layer serves file operations rooted at Config.Root.
type Layer struct {
	root string

	mu  sync.Mutex
	fds map[int]*os.File
}

// New builds a local terminal layer rooted at cfg.Root. The root must exist
// and be a directory.
func New(cfg Config) (*Layer, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("local: resolving root %q: %w", cfg.Root, err)
	}
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("local: root %q: %w", root, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("local: root %q is not a directory", root)
	}
	return &Layer{root: root, fds: make(map[int]*os.File)}, nil
}

// Context wraps l in a layer.Context with no children.
func (l *Layer) Context() layer.Context {
	return layer.Context{Ops: l}
}

// resolve maps a logical path onto the host filesystem, rejecting any
// traversal that would escape Root.
func (l *Layer) resolve(path string) (string, error) {
	clean := filepath.Join(l.root, filepath.Clean("/"+path))
	if clean != l.root && !strings.HasPrefix(clean, l.root+string(filepath.Separator)) {
		return "", fmt.Errorf("local: path %q escapes root %q", path, l.root)
	}
	return clean, nil
}

func (l *Layer) Open(rc *layer.RequestContext, path string, flags int, mode os.FileMode) (int, error) {
	full, err := l.resolve(path)
	if err != nil {
		return -1, err
	}
	f, err := os.OpenFile(full, flags, mode)
	if err != nil {
		return -1, err
	}
	h := int(f.Fd())

	l.mu.Lock()
	l.fds[h] = f
	l.mu.Unlock()
	return h, nil
}

func (l *Layer) fileFor(h int) (*os.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.fds[h]
	if !ok {
		return nil, os.ErrInvalid
	}
	return f, nil
}

func (l *Layer) Close(rc *layer.RequestContext, h int) error {
	f, err := l.fileFor(h)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	l.mu.Lock()
	delete(l.fds, h)
	l.mu.Unlock()
	return nil
}

func (l *Layer) Pread(rc *layer.RequestContext, h int, buf []byte, off int64) (int, error) {
	f, err := l.fileFor(h)
	if err != nil {
		return 0, err
	}
	n, err := f.ReadAt(buf, off)
	if err == io.EOF || (err != nil && n > 0) {
		// io.EOF, with or without partial data, is a normal short read for
		// pread semantics: a read at or past end of file returns 0.
		return n, nil
	}
	return n, err
}

func (l *Layer) Pwrite(rc *layer.RequestContext, h int, buf []byte, off int64) (int, error) {
	f, err := l.fileFor(h)
	if err != nil {
		return 0, err
	}
	return f.WriteAt(buf, off)
}

func (l *Layer) Ftruncate(rc *layer.RequestContext, h int, size int64) error {
	f, err := l.fileFor(h)
	if err != nil {
		return err
	}
	return f.Truncate(size)
}

func (l *Layer) Truncate(rc *layer.RequestContext, path string, size int64) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	return os.Truncate(full, size)
}

func toStat(fi os.FileInfo) layer.Stat {
	st := layer.Stat{
		Size:  fi.Size(),
		Mode:  fi.Mode(),
		Mtime: fi.ModTime(),
	}
	if sys, ok := fi.Sys().(*unix.Stat_t); ok {
		st.Ino = sys.Ino
		st.Nlink = uint32(sys.Nlink)
		st.BlkSize = uint32(sys.Blksize)
	}
	return st
}

func (l *Layer) Lstat(rc *layer.RequestContext, path string) (layer.Stat, error) {
	full, err := l.resolve(path)
	if err != nil {
		return layer.Stat{}, err
	}
	fi, err := os.Lstat(full)
	if err != nil {
		return layer.Stat{}, err
	}
	return toStat(fi), nil
}

func (l *Layer) Fstat(rc *layer.RequestContext, h int) (layer.Stat, error) {
	f, err := l.fileFor(h)
	if err != nil {
		return layer.Stat{}, err
	}
	fi, err := f.Stat()
	if err != nil {
		return layer.Stat{}, err
	}
	return toStat(fi), nil
}

func (l *Layer) Unlink(rc *layer.RequestContext, path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	return os.Remove(full)
}

func (l *Layer) Fsync(rc *layer.RequestContext, h int, dataOnly bool) error {
	f, err := l.fileFor(h)
	if err != nil {
		return err
	}
	if dataOnly {
		return unix.Fdatasync(int(f.Fd()))
	}
	return f.Sync()
}

func (l *Layer) Readdir(rc *layer.RequestContext, path string) ([]layer.DirEntry, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}
	out := make([]layer.DirEntry, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, layer.DirEntry{Name: e.Name(), Stat: toStat(fi)})
	}
	return out, nil
}

func (l *Layer) Rename(rc *layer.RequestContext, from, to string) error {
	fullFrom, err := l.resolve(from)
	if err != nil {
		return err
	}
	fullTo, err := l.resolve(to)
	if err != nil {
		return err
	}
	return os.Rename(fullFrom, fullTo)
}

func (l *Layer) Chmod(rc *layer.RequestContext, path string, mode os.FileMode) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	return os.Chmod(full, mode)
}

func (l *Layer) Destroy() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for h, f := range l.fds {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(l.fds, h)
	}
	return firstErr
}
