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

// Package layer defines the uniform file-operation contract every layer in
// the stack implements, and the Context a layer carries between itself and
// its children.
package layer

import (
	"os"
	"time"
)

// Stat is the subset of file metadata every layer can fill in and forward
// without depending on a particular host's stat struct layout.
type Stat struct {
	Ino     uint64
	Size    int64
	Mode    os.FileMode
	Mtime   time.Time
	Nlink   uint32
	BlkSize uint32
}

// DirEntry is a single entry produced by Readdir.
type DirEntry struct {
	Name string
	Stat Stat
}

// Ops is the operation table every layer implements. Every method takes an
// explicit *RequestContext rather than relying on shared mutable state (see
// RequestContext for why), and every method is safe to call concurrently
// on distinct descriptors/paths as long as the caller doesn't interleave
// calls on the same descriptor (the host is expected to serialize those).
type Ops interface {
	Open(rc *RequestContext, path string, flags int, mode os.FileMode) (fd int, err error)
	Close(rc *RequestContext, fd int) error
	Pread(rc *RequestContext, fd int, buf []byte, off int64) (n int, err error)
	Pwrite(rc *RequestContext, fd int, buf []byte, off int64) (n int, err error)
	Ftruncate(rc *RequestContext, fd int, size int64) error
	Truncate(rc *RequestContext, path string, size int64) error
	Lstat(rc *RequestContext, path string) (Stat, error)
	Fstat(rc *RequestContext, fd int) (Stat, error)
	Unlink(rc *RequestContext, path string) error
	Fsync(rc *RequestContext, fd int, dataOnly bool) error
	Readdir(rc *RequestContext, path string) ([]DirEntry, error)
	Rename(rc *RequestContext, from, to string) error
	Chmod(rc *RequestContext, path string, mode os.FileMode) error

	// Destroy releases only the state this layer itself owns (an open
	// cache, key material, file descriptors); it must not recurse into
	// Context.Next, a data/hash pair, or a demultiplexer's children. The
	// builder's flat, memoized teardown walk is the sole owner of
	// recursion and destroys every constructed layer, shared or not,
	// exactly once, including on a partially built graph during
	// teardown-on-error. Destroy must still be idempotent.
	Destroy() error
}
