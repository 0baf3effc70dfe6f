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

// Package antitamper pairs a data layer with a hash layer: every pwrite is
// forwarded to the data layer, then each block_size block it touched is
// re-read from the data layer and hashed with crypto/sha256 (no
// hashing library appears anywhere in the retrieval pack, see DESIGN.md),
// and the digest persisted through the hash layer at the mirrored block
// index. A pread recomputes the digest over the bytes the data layer
// actually returns and fails with layer.ErrIntegrity rather than serving
// silently-tampered content on mismatch. This is not the encryption layer's
// job (spec.md's non-goal names encryption specifically) — it is a
// separate, explicitly-configured layer.
package antitamper

import (
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/layerfs/layerfs/internal/layer"
)

const digestSize = sha256.Size

// Config mirrors the anti_tampering params table.
type Config struct {
	BlockSize int64 `mapstructure:"block_size"`
}

// DefaultConfig matches block_align's default, since anti-tampering is
// typically layered alongside it.
func DefaultConfig() Config {
	return Config{BlockSize: 4096}
}

// Layer fronts a data layer and a hash layer with per-block digests.
type Layer struct {
	data layer.Context
	hash layer.Context
	b    int64
}

// New builds an anti-tampering layer over data and hash.
func New(data, hash layer.Context, cfg Config) (*Layer, error) {
	if cfg.BlockSize < 1 {
		return nil, fmt.Errorf("antitamper: block_size must be >= 1, got %d", cfg.BlockSize)
	}
	return &Layer{data: data, hash: hash, b: cfg.BlockSize}, nil
}

func (l *Layer) blockIndex(off int64) int64 { return off / l.b }

// Open opens only the data child; the aggregate descriptor is the data
// child's fd. The hash sidecar is opened per pread/pwrite/ftruncate call
// against a derived path, via rc.WithPath, since its own small reads and
// writes don't need a long-lived descriptor.
func (l *Layer) Open(rc *layer.RequestContext, path string, flags int, mode os.FileMode) (int, error) {
	return l.data.Ops.Open(rc.Child(), path, flags, mode)
}

// hashPath derives the sidecar hash-store path for a data path. The hash
// layer stores one digestSize-byte record per data block, at byte offset
// blockIndex*digestSize, under this mirrored name.
func hashPath(path string) string {
	return path + ".sha256"
}

func (l *Layer) openHash(rc *layer.RequestContext, path string, flags int, mode os.FileMode) (int, error) {
	hrc := rc.WithPath(hashPath(path))
	return l.hash.Ops.Open(hrc, hashPath(path), flags|os.O_CREATE, mode)
}

func (l *Layer) Close(rc *layer.RequestContext, fd int) error {
	return l.data.Ops.Close(rc.Child(), fd)
}

// Pwrite forwards the write to the data layer first, then re-reads every
// block_size block the write touched and persists each block's digest to
// the hash layer at the mirrored block index.
func (l *Layer) Pwrite(rc *layer.RequestContext, fd int, buf []byte, off int64) (int, error) {
	n, err := l.data.Ops.Pwrite(rc.Child(), fd, buf, off)
	if err != nil {
		return n, err
	}

	hashFd, err := l.openHash(rc, rc.Path, os.O_RDWR, 0o644)
	if err != nil {
		return n, fmt.Errorf("antitamper: opening hash sidecar: %w", err)
	}
	defer l.hash.Ops.Close(rc.Child(), hashFd)

	pos := off
	remaining := buf[:n]
	for len(remaining) > 0 {
		blockStart := (pos / l.b) * l.b
		chunkEnd := blockStart + l.b
		if chunkEnd > pos+int64(len(remaining)) {
			chunkEnd = pos + int64(len(remaining))
		}
		chunkLen := chunkEnd - pos

		digest, err := l.digestBlock(rc, fd, blockStart)
		if err != nil {
			return n, err
		}
		idx := l.blockIndex(blockStart)
		if _, err := l.hash.Ops.Pwrite(rc.Child(), hashFd, digest[:], idx*digestSize); err != nil {
			return n, fmt.Errorf("antitamper: persisting digest: %w", err)
		}

		pos += chunkLen
		remaining = remaining[chunkLen:]
	}
	return n, nil
}

// digestBlock re-reads the full block containing off from the data layer
// (not just the bytes just written) and hashes it, so the stored digest
// always covers the complete on-disk block regardless of write alignment.
func (l *Layer) digestBlock(rc *layer.RequestContext, fd int, blockStart int64) ([digestSize]byte, error) {
	scratch := make([]byte, l.b)
	got, err := l.data.Ops.Pread(rc.Child(), fd, scratch, blockStart)
	if err != nil {
		return [digestSize]byte{}, fmt.Errorf("antitamper: re-reading block for digest: %w", err)
	}
	return sha256.Sum256(scratch[:got]), nil
}

// Pread reads the requested range, then recomputes and compares the digest
// for every block the range touches. Any mismatch fails the whole read with
// layer.ErrIntegrity.
func (l *Layer) Pread(rc *layer.RequestContext, fd int, buf []byte, off int64) (int, error) {
	n, err := l.data.Ops.Pread(rc.Child(), fd, buf, off)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, nil
	}

	hashFd, err := l.openHash(rc, rc.Path, os.O_RDONLY, 0o644)
	if err != nil {
		return n, fmt.Errorf("antitamper: opening hash sidecar: %w", err)
	}
	defer l.hash.Ops.Close(rc.Child(), hashFd)

	pos := off
	remaining := n
	for remaining > 0 {
		blockStart := (pos / l.b) * l.b
		chunkEnd := blockStart + l.b
		if chunkEnd > pos+int64(remaining) {
			chunkEnd = pos + int64(remaining)
		}
		chunkLen := chunkEnd - pos

		digest, err := l.digestBlock(rc, fd, blockStart)
		if err != nil {
			return n, err
		}

		var stored [digestSize]byte
		idx := l.blockIndex(blockStart)
		got, err := l.hash.Ops.Pread(rc.Child(), hashFd, stored[:], idx*digestSize)
		if err != nil {
			return n, fmt.Errorf("antitamper: reading stored digest: %w", err)
		}
		if got == digestSize && stored != digest {
			return 0, layer.ErrIntegrity
		}

		pos += chunkLen
		remaining -= chunkLen
	}
	return n, nil
}

func (l *Layer) Ftruncate(rc *layer.RequestContext, fd int, size int64) error {
	if err := l.data.Ops.Ftruncate(rc.Child(), fd, size); err != nil {
		return err
	}
	hashFd, err := l.openHash(rc, rc.Path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("antitamper: opening hash sidecar: %w", err)
	}
	defer l.hash.Ops.Close(rc.Child(), hashFd)
	blocks := (size + l.b - 1) / l.b
	return l.hash.Ops.Ftruncate(rc.Child(), hashFd, blocks*digestSize)
}

func (l *Layer) Truncate(rc *layer.RequestContext, path string, size int64) error {
	if err := l.data.Ops.Truncate(rc.Child(), path, size); err != nil {
		return err
	}
	blocks := (size + l.b - 1) / l.b
	return l.hash.Ops.Truncate(rc.Child(), hashPath(path), blocks*digestSize)
}

func (l *Layer) Lstat(rc *layer.RequestContext, path string) (layer.Stat, error) {
	return l.data.Ops.Lstat(rc.Child(), path)
}

func (l *Layer) Fstat(rc *layer.RequestContext, fd int) (layer.Stat, error) {
	return l.data.Ops.Fstat(rc.Child(), fd)
}

func (l *Layer) Unlink(rc *layer.RequestContext, path string) error {
	if err := l.data.Ops.Unlink(rc.Child(), path); err != nil {
		return err
	}
	_ = l.hash.Ops.Unlink(rc.Child(), hashPath(path))
	return nil
}

func (l *Layer) Fsync(rc *layer.RequestContext, fd int, dataOnly bool) error {
	return l.data.Ops.Fsync(rc.Child(), fd, dataOnly)
}

func (l *Layer) Readdir(rc *layer.RequestContext, path string) ([]layer.DirEntry, error) {
	return l.data.Ops.Readdir(rc.Child(), path)
}

func (l *Layer) Rename(rc *layer.RequestContext, from, to string) error {
	if err := l.data.Ops.Rename(rc.Child(), from, to); err != nil {
		return err
	}
	_ = l.hash.Ops.Rename(rc.Child(), hashPath(from), hashPath(to))
	return nil
}

func (l *Layer) Chmod(rc *layer.RequestContext, path string, mode os.FileMode) error {
	return l.data.Ops.Chmod(rc.Child(), path, mode)
}

// Destroy is a no-op: this layer owns no resources of its own. The
// builder's flat teardown walk destroys l.data and l.hash separately,
// exactly once each.
func (l *Layer) Destroy() error {
	return nil
}
