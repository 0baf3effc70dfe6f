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

// Package remote is a terminal layer that forwards every operation across a
// framed TCP connection to a remote storage daemon (spec.md §4.6). It has no
// children. The wire struct mirrors remote.h's fixed-size MSG, extended with
// a second path field for rename and an errno field the original left in a
// thread-local instead.
package remote

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/layerfs/layerfs/internal/layer"
)

const (
	pathSize   = 512
	bufferSize = 4096
)

// Opcodes, extending remote.h's READ/WRITE/STAT/OPEN/UNLINK/CLOSE with the
// remaining operations layer.Ops requires.
const (
	opRead = iota
	opWrite
	opStat
	opOpen
	opUnlink
	opClose
	opFtruncate
	opTruncate
	opFsync
	opReaddir
	opRename
	opChmod
)

// frame is the fixed-size wire message. Every field is fixed-width so it can
// be written and read directly with encoding/binary: no length prefix is
// needed because the frame size never varies.
type frame struct {
	Op        int32
	Path      [pathSize]byte
	Path2     [pathSize]byte
	Buffer    [bufferSize]byte
	Flags     int32
	Offset    int64
	Size      int64
	Res       int64
	Fd        int32
	Mode      uint32
	Errno     int32
	StatIno   uint64
	StatSize  int64
	StatMode  uint32
	StatNlink uint32
	StatBlk   uint32
	StatMtime int64
}

func putPath(dst *[pathSize]byte, s string) error {
	if len(s) >= pathSize {
		return fmt.Errorf("remote: path %q exceeds %d bytes", s, pathSize-1)
	}
	*dst = [pathSize]byte{}
	copy(dst[:], s)
	return nil
}

func getPath(src *[pathSize]byte) string {
	n := bytes.IndexByte(src[:], 0)
	if n < 0 {
		n = len(src)
	}
	return string(src[:n])
}

// Config mirrors the remote_terminal params table in spec.md §6.
type Config struct {
	Addr    string        `mapstructure:"addr"` // host:port of the remote daemon
	Timeout time.Duration `mapstructure:"timeout"`
}

// Layer forwards every operation to a remote daemon over one framed,
// mutex-serialized TCP connection, matching the "synchronous per
// descriptor" requirement in spec.md §4.6 by serializing all requests.
type Layer struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// New dials addr immediately so that configuration errors surface at build
// time rather than on the first operation.
func New(cfg Config) (*Layer, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	l := &Layer{addr: cfg.Addr, timeout: cfg.Timeout}
	if err := l.ensureConn(); err != nil {
		return nil, fmt.Errorf("remote: dialing %s: %w", cfg.Addr, err)
	}
	return l, nil
}

// Context wraps l in a layer.Context with no children.
func (l *Layer) Context() layer.Context {
	return layer.Context{Ops: l}
}

func (l *Layer) ensureConn() error {
	if l.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", l.addr, l.timeout)
	if err != nil {
		return err
	}
	l.conn = conn
	return nil
}

// roundTrip sends req and returns the daemon's reply. On a transport error
// the connection is closed and dropped without retrying the request; the
// next call dials a fresh connection. Every socket-layer failure is translated to EIO via
// layer.WithErrno: the host never needs to know the failure was network-level.
func (l *Layer) roundTrip(req *frame) (*frame, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureConn(); err != nil {
		return nil, layer.WithErrno(syscall.EIO, err)
	}
	if l.timeout > 0 {
		_ = l.conn.SetDeadline(time.Now().Add(l.timeout))
	}

	if err := binary.Write(l.conn, binary.BigEndian, req); err != nil {
		l.conn.Close()
		l.conn = nil
		return nil, layer.WithErrno(syscall.EIO, fmt.Errorf("remote: write request: %w", err))
	}

	var resp frame
	if err := binary.Read(l.conn, binary.BigEndian, &resp); err != nil {
		l.conn.Close()
		l.conn = nil
		return nil, layer.WithErrno(syscall.EIO, fmt.Errorf("remote: read reply: %w", err))
	}
	if resp.Errno != 0 {
		return &resp, layer.WithErrno(syscall.Errno(resp.Errno), fmt.Errorf("remote: daemon returned errno %d", resp.Errno))
	}
	return &resp, nil
}

func (l *Layer) Open(rc *layer.RequestContext, path string, flags int, mode os.FileMode) (int, error) {
	var req frame
	req.Op = opOpen
	if err := putPath(&req.Path, path); err != nil {
		return -1, err
	}
	req.Flags = int32(flags)
	req.Mode = uint32(mode.Perm())

	resp, err := l.roundTrip(&req)
	if err != nil {
		return -1, err
	}
	return int(resp.Fd), nil
}

func (l *Layer) Close(rc *layer.RequestContext, fd int) error {
	var req frame
	req.Op = opClose
	req.Fd = int32(fd)
	_, err := l.roundTrip(&req)
	return err
}

func (l *Layer) Pread(rc *layer.RequestContext, fd int, buf []byte, off int64) (int, error) {
	var req frame
	req.Op = opRead
	req.Fd = int32(fd)
	req.Offset = off
	req.Size = int64(len(buf))
	if req.Size > bufferSize {
		req.Size = bufferSize
	}

	resp, err := l.roundTrip(&req)
	if err != nil {
		return 0, err
	}
	n := int(resp.Res)
	if n < 0 {
		n = 0
	}
	if n > len(buf) {
		n = len(buf)
	}
	if n > bufferSize {
		n = bufferSize
	}
	copy(buf[:n], resp.Buffer[:n])
	return n, nil
}

func (l *Layer) Pwrite(rc *layer.RequestContext, fd int, buf []byte, off int64) (int, error) {
	if len(buf) > bufferSize {
		return 0, fmt.Errorf("remote: write of %d bytes exceeds frame capacity %d", len(buf), bufferSize)
	}
	var req frame
	req.Op = opWrite
	req.Fd = int32(fd)
	req.Offset = off
	req.Size = int64(len(buf))
	copy(req.Buffer[:], buf)

	resp, err := l.roundTrip(&req)
	if err != nil {
		return 0, err
	}
	return int(resp.Res), nil
}

func (l *Layer) Ftruncate(rc *layer.RequestContext, fd int, size int64) error {
	var req frame
	req.Op = opFtruncate
	req.Fd = int32(fd)
	req.Size = size
	_, err := l.roundTrip(&req)
	return err
}

func (l *Layer) Truncate(rc *layer.RequestContext, path string, size int64) error {
	var req frame
	req.Op = opTruncate
	if err := putPath(&req.Path, path); err != nil {
		return err
	}
	req.Size = size
	_, err := l.roundTrip(&req)
	return err
}

func statFromFrame(f *frame) layer.Stat {
	return layer.Stat{
		Ino:     f.StatIno,
		Size:    f.StatSize,
		Mode:    os.FileMode(f.StatMode),
		Mtime:   time.Unix(f.StatMtime, 0),
		Nlink:   f.StatNlink,
		BlkSize: f.StatBlk,
	}
}

func (l *Layer) Lstat(rc *layer.RequestContext, path string) (layer.Stat, error) {
	var req frame
	req.Op = opStat
	if err := putPath(&req.Path, path); err != nil {
		return layer.Stat{}, err
	}
	resp, err := l.roundTrip(&req)
	if err != nil {
		return layer.Stat{}, err
	}
	return statFromFrame(resp), nil
}

func (l *Layer) Fstat(rc *layer.RequestContext, fd int) (layer.Stat, error) {
	var req frame
	req.Op = opStat
	req.Fd = int32(fd)
	resp, err := l.roundTrip(&req)
	if err != nil {
		return layer.Stat{}, err
	}
	return statFromFrame(resp), nil
}

func (l *Layer) Unlink(rc *layer.RequestContext, path string) error {
	var req frame
	req.Op = opUnlink
	if err := putPath(&req.Path, path); err != nil {
		return err
	}
	_, err := l.roundTrip(&req)
	return err
}

func (l *Layer) Fsync(rc *layer.RequestContext, fd int, dataOnly bool) error {
	var req frame
	req.Op = opFsync
	req.Fd = int32(fd)
	if dataOnly {
		req.Flags = 1
	}
	_, err := l.roundTrip(&req)
	return err
}

// Readdir asks the daemon for a NUL-separated listing of names in path,
// limited to whatever fits in one frame's buffer: the directory-entry count
// and stat-per-entry protocol the rest of the table enjoys doesn't fit the
// fixed single-frame design without multi-frame pagination, which the
// daemon side of this protocol doesn't implement.
func (l *Layer) Readdir(rc *layer.RequestContext, path string) ([]layer.DirEntry, error) {
	var req frame
	req.Op = opReaddir
	if err := putPath(&req.Path, path); err != nil {
		return nil, err
	}
	resp, err := l.roundTrip(&req)
	if err != nil {
		return nil, err
	}
	n := int(resp.Res)
	if n > bufferSize {
		n = bufferSize
	}
	var entries []layer.DirEntry
	for _, name := range bytes.Split(resp.Buffer[:n], []byte{0}) {
		if len(name) == 0 {
			continue
		}
		entries = append(entries, layer.DirEntry{Name: string(name)})
	}
	return entries, nil
}

func (l *Layer) Rename(rc *layer.RequestContext, from, to string) error {
	var req frame
	req.Op = opRename
	if err := putPath(&req.Path, from); err != nil {
		return err
	}
	if err := putPath(&req.Path2, to); err != nil {
		return err
	}
	_, err := l.roundTrip(&req)
	return err
}

func (l *Layer) Chmod(rc *layer.RequestContext, path string, mode os.FileMode) error {
	var req frame
	req.Op = opChmod
	if err := putPath(&req.Path, path); err != nil {
		return err
	}
	req.Mode = uint32(mode.Perm())
	_, err := l.roundTrip(&req)
	return err
}

func (l *Layer) Destroy() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}
