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

// Package demux implements the fan-out layer: spec.md §4.5. It is one of
// the three most algorithmically involved layers named in the core budget
// table, alongside read cache and encryption.
package demux

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/layerfs/layerfs/internal/layer"
)

// Config mirrors demultiplexer/config.h's three boolean masks, each aligned
// to the layer's ordered child list, which the builder supplies separately.
type Config struct {
	PassthroughReads  []bool `mapstructure:"passthrough_reads"`
	PassthroughWrites []bool `mapstructure:"passthrough_writes"`
	Enforced          []bool `mapstructure:"enforced"`
}

// Layer fans a request out to N children per the three masks in Config.
type Layer struct {
	children []layer.Context
	readPT   []bool
	writePT  []bool
	enforced []bool
	log      *slog.Logger

	mu    sync.Mutex
	nextH int
	descs map[int][]childDesc
}

type childDesc struct {
	idx int
	fd  int
	ok  bool
}

// New builds a demultiplexer over children. len(children) must equal the
// length of every mask in cfg; masks default to all-false when nil.
func New(children []layer.Context, cfg Config, log *slog.Logger) (*Layer, error) {
	n := len(children)
	if n == 0 {
		return nil, fmt.Errorf("demux: at least one child layer is required")
	}
	readPT := fillOrDefault(cfg.PassthroughReads, n)
	writePT := fillOrDefault(cfg.PassthroughWrites, n)
	enforced := fillOrDefault(cfg.Enforced, n)
	if len(readPT) != n || len(writePT) != n || len(enforced) != n {
		return nil, fmt.Errorf("demux: mask length must match child count %d", n)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Layer{
		children: children,
		readPT:   readPT,
		writePT:  writePT,
		enforced: enforced,
		log:      log,
		descs:    make(map[int][]childDesc),
		nextH:    1,
	}, nil
}

func fillOrDefault(mask []bool, n int) []bool {
	if mask == nil {
		return make([]bool, n)
	}
	return mask
}

func anyTrue(mask []bool) bool {
	for _, b := range mask {
		if b {
			return true
		}
	}
	return false
}

// Open invokes every child (open policy, §4.5) and assigns an aggregate
// handle mapping to the N per-child descriptors. create/trunc opens are
// write-type operations: every enforced child must succeed.
func (l *Layer) Open(rc *layer.RequestContext, path string, flags int, mode os.FileMode) (int, error) {
	isWrite := flags&(os.O_CREATE|os.O_TRUNC) != 0

	descs := make([]childDesc, len(l.children))
	var failed []error
	for i, c := range l.children {
		fd, err := c.Ops.Open(rc.Child(), path, flags, mode)
		if err != nil {
			failed = append(failed, fmt.Errorf("child %d: %w", i, err))
			descs[i] = childDesc{idx: i, ok: false}
			continue
		}
		descs[i] = childDesc{idx: i, fd: fd, ok: true}
	}

	if isWrite {
		for i, d := range descs {
			if l.enforced[i] && !d.ok {
				l.closeAll(rc, descs)
				return -1, errors.Join(failed...)
			}
		}
	} else if len(failed) == len(l.children) {
		return -1, errors.Join(failed...)
	}

	if len(failed) > 0 {
		l.log.Error("demux: open failed on non-enforced or read child", "path", path, "errs", errors.Join(failed...))
	}

	l.mu.Lock()
	h := l.nextH
	l.nextH++
	l.descs[h] = descs
	l.mu.Unlock()
	return h, nil
}

func (l *Layer) closeAll(rc *layer.RequestContext, descs []childDesc) {
	for i, d := range descs {
		if d.ok {
			_ = l.children[i].Ops.Close(rc.Child(), d.fd)
		}
	}
}

func (l *Layer) lookup(h int) ([]childDesc, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.descs[h]
	return d, ok
}

func (l *Layer) Close(rc *layer.RequestContext, h int) error {
	descs, ok := l.lookup(h)
	if !ok {
		return os.ErrInvalid
	}
	var failed []error
	for i, d := range descs {
		if !d.ok {
			continue
		}
		if err := l.children[i].Ops.Close(rc.Child(), d.fd); err != nil {
			failed = append(failed, fmt.Errorf("child %d: %w", i, err))
		}
	}
	l.mu.Lock()
	delete(l.descs, h)
	l.mu.Unlock()
	if len(failed) > 0 {
		return errors.Join(failed...)
	}
	return nil
}

// Pread: read policy, §4.5. If any passthrough_reads[i] is set, try those
// children in order and return the first success; else read from child 0.
func (l *Layer) Pread(rc *layer.RequestContext, h int, buf []byte, off int64) (int, error) {
	descs, ok := l.lookup(h)
	if !ok {
		return 0, os.ErrInvalid
	}

	if anyTrue(l.readPT) {
		var lastErr error
		for i, d := range descs {
			if !l.readPT[i] || !d.ok {
				continue
			}
			n, err := l.children[i].Ops.Pread(rc.Child(), d.fd, buf, off)
			if err == nil {
				return n, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("demux: no passthrough_reads child available")
		}
		return 0, lastErr
	}

	if !descs[0].ok {
		return 0, fmt.Errorf("demux: default read child 0 is not open")
	}
	return l.children[0].Ops.Pread(rc.Child(), descs[0].fd, buf, off)
}

// Pwrite: write policy, §4.5. Every passthrough_writes[i] child receives the
// write; the aggregate succeeds if every enforced child succeeded. The
// returned byte count is the first enforced child's count, or child 0's if
// none is enforced.
func (l *Layer) Pwrite(rc *layer.RequestContext, h int, buf []byte, off int64) (int, error) {
	descs, ok := l.lookup(h)
	if !ok {
		return 0, os.ErrInvalid
	}

	var failed []error
	enforcedFail := false
	results := make([]int, len(descs))
	succeeded := make([]bool, len(descs))
	for i, d := range descs {
		if !l.writePT[i] {
			continue
		}
		if !d.ok {
			failed = append(failed, fmt.Errorf("child %d: descriptor not open", i))
			if l.enforced[i] {
				enforcedFail = true
			}
			continue
		}
		n, err := l.children[i].Ops.Pwrite(rc.Child(), d.fd, buf, off)
		if err != nil {
			failed = append(failed, fmt.Errorf("child %d: %w", i, err))
			if l.enforced[i] {
				enforcedFail = true
			}
			continue
		}
		results[i] = n
		succeeded[i] = true
	}

	if enforcedFail {
		return 0, errors.Join(failed...)
	}
	if len(failed) > 0 {
		l.log.Error("demux: pwrite failed on non-enforced child", "errs", errors.Join(failed...))
	}

	for i := range results {
		if succeeded[i] && l.enforced[i] {
			return results[i], nil
		}
	}
	return results[0], nil
}

func (l *Layer) Ftruncate(rc *layer.RequestContext, h int, size int64) error {
	descs, ok := l.lookup(h)
	if !ok {
		return os.ErrInvalid
	}
	return l.fanWrite(descs, func(i int, d childDesc) error {
		return l.children[i].Ops.Ftruncate(rc.Child(), d.fd, size)
	})
}

func (l *Layer) Truncate(rc *layer.RequestContext, path string, size int64) error {
	return l.fanWritePath(func(i int) error {
		return l.children[i].Ops.Truncate(rc.Child(), path, size)
	})
}

func (l *Layer) Unlink(rc *layer.RequestContext, path string) error {
	return l.fanWritePath(func(i int) error {
		return l.children[i].Ops.Unlink(rc.Child(), path)
	})
}

func (l *Layer) Fsync(rc *layer.RequestContext, h int, dataOnly bool) error {
	descs, ok := l.lookup(h)
	if !ok {
		return os.ErrInvalid
	}
	return l.fanWrite(descs, func(i int, d childDesc) error {
		return l.children[i].Ops.Fsync(rc.Child(), d.fd, dataOnly)
	})
}

func (l *Layer) Rename(rc *layer.RequestContext, from, to string) error {
	return l.fanWritePath(func(i int) error {
		return l.children[i].Ops.Rename(rc.Child(), from, to)
	})
}

func (l *Layer) Chmod(rc *layer.RequestContext, path string, mode os.FileMode) error {
	return l.fanWritePath(func(i int) error {
		return l.children[i].Ops.Chmod(rc.Child(), path, mode)
	})
}

// fanWrite invokes fn on every child with an open descriptor, enforcing the
// same success rule as Pwrite/Open.
func (l *Layer) fanWrite(descs []childDesc, fn func(i int, d childDesc) error) error {
	var failed []error
	enforcedFail := false
	for i, d := range descs {
		if !d.ok {
			if l.enforced[i] {
				enforcedFail = true
				failed = append(failed, fmt.Errorf("child %d: descriptor not open", i))
			}
			continue
		}
		if err := fn(i, d); err != nil {
			failed = append(failed, fmt.Errorf("child %d: %w", i, err))
			if l.enforced[i] {
				enforcedFail = true
			}
		}
	}
	if enforcedFail {
		return errors.Join(failed...)
	}
	if len(failed) > 0 {
		l.log.Error("demux: non-enforced child failed", "errs", errors.Join(failed...))
	}
	return nil
}

// fanWritePath is fanWrite for path-addressed write-type ops, which have no
// per-call descriptor table and so always fan to every child.
func (l *Layer) fanWritePath(fn func(i int) error) error {
	var failed []error
	enforcedFail := false
	for i := range l.children {
		if err := fn(i); err != nil {
			failed = append(failed, fmt.Errorf("child %d: %w", i, err))
			if l.enforced[i] {
				enforcedFail = true
			}
		}
	}
	if enforcedFail {
		return errors.Join(failed...)
	}
	if len(failed) > 0 {
		l.log.Error("demux: non-enforced child failed", "errs", errors.Join(failed...))
	}
	return nil
}

func (l *Layer) Lstat(rc *layer.RequestContext, path string) (layer.Stat, error) {
	var lastErr error
	for i, c := range l.children {
		st, err := c.Ops.Lstat(rc.Child(), path)
		if err == nil {
			return st, nil
		}
		lastErr = fmt.Errorf("child %d: %w", i, err)
	}
	return layer.Stat{}, lastErr
}

func (l *Layer) Fstat(rc *layer.RequestContext, h int) (layer.Stat, error) {
	descs, ok := l.lookup(h)
	if !ok {
		return layer.Stat{}, os.ErrInvalid
	}
	var lastErr error
	for i, d := range descs {
		if !d.ok {
			continue
		}
		st, err := l.children[i].Ops.Fstat(rc.Child(), d.fd)
		if err == nil {
			return st, nil
		}
		lastErr = fmt.Errorf("child %d: %w", i, err)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("demux: no open child descriptor for fstat")
	}
	return layer.Stat{}, lastErr
}

func (l *Layer) Readdir(rc *layer.RequestContext, path string) ([]layer.DirEntry, error) {
	return l.children[0].Ops.Readdir(rc.Child(), path)
}

// Destroy is a no-op: this layer owns no resources of its own. The
// builder's flat teardown walk destroys every child separately, exactly
// once each, even when two demultiplexers name the same memoized child.
func (l *Layer) Destroy() error {
	return nil
}
