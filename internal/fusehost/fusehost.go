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

// Package fusehost implements fuseutil.FileSystem in front of a layer.Context
// graph produced by internal/builder. It keeps a small path<->inode table
// (inode number allocation only; no permissions model, per spec.md's
// Non-goals) and translates every FUSE op into one or more calls against the
// root layer, propagating a fresh *layer.RequestContext per op per spec.md
// §4.1. There is no mkdir/rmdir primitive in layer.Ops (spec.md §3 lists
// readdir/rename/chmod as the only directory-adjacent operations), so MkDir
// and CreateSymlink respond ENOSYS and RmDir is forwarded to the root
// layer's Unlink; directories are whatever a terminal layer's Readdir
// already reports.
package fusehost

import (
	"context"
	"log/slog"
	"os"
	"path"
	"sync"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/layerfs/layerfs/internal/layer"
)

// Host bridges FUSE ops onto root.
type Host struct {
	root layer.Context
	log  *slog.Logger

	mu          sync.Mutex
	pathToInode map[string]fuseops.InodeID
	inodes      map[fuseops.InodeID]*inodeRecord
	nextInode   fuseops.InodeID

	handleMu    sync.Mutex
	dirHandles  map[fuseops.HandleID]*dirHandle
	fileHandles map[fuseops.HandleID]*fileHandle
	nextHandle  fuseops.HandleID
}

type inodeRecord struct {
	path        string
	lookupCount uint64
}

type dirHandle struct {
	path    string
	entries []layer.DirEntry
}

type fileHandle struct {
	fd   int
	path string
}

// New returns a Host rooted at root, ready to be handed to
// fuseutil.NewFileSystemServer.
func New(root layer.Context, log *slog.Logger) *Host {
	if log == nil {
		log = slog.Default()
	}
	h := &Host{
		root:        root,
		log:         log,
		pathToInode: map[string]fuseops.InodeID{"/": fuseops.RootInodeID},
		inodes: map[fuseops.InodeID]*inodeRecord{
			fuseops.RootInodeID: {path: "/", lookupCount: 1},
		},
		nextInode:   fuseops.RootInodeID + 1,
		dirHandles:  map[fuseops.HandleID]*dirHandle{},
		fileHandles: map[fuseops.HandleID]*fileHandle{},
		nextHandle:  1,
	}
	return h
}

func (h *Host) pathFor(id fuseops.InodeID) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.inodes[id]
	if !ok {
		return "", false
	}
	return rec.path, true
}

// mintInode returns the inode ID for p, allocating a fresh one if p hasn't
// been seen before, and bumps its lookup count by one (the kernel's
// reference-counting contract: every entry handed out must be balanced by a
// later ForgetInode).
func (h *Host) mintInode(p string) fuseops.InodeID {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id, ok := h.pathToInode[p]; ok {
		h.inodes[id].lookupCount++
		return id
	}
	id := h.nextInode
	h.nextInode++
	h.pathToInode[p] = id
	h.inodes[id] = &inodeRecord{path: p, lookupCount: 1}
	return id
}

func (h *Host) forget(id fuseops.InodeID, n uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.inodes[id]
	if !ok {
		return
	}
	if n >= rec.lookupCount {
		delete(h.inodes, id)
		delete(h.pathToInode, rec.path)
		return
	}
	rec.lookupCount -= n
}

func childPath(parent, name string) string {
	return path.Join(parent, name)
}

func toAttributes(st layer.Stat) fuseops.InodeAttributes {
	nlink := st.Nlink
	if nlink == 0 {
		nlink = 1
	}
	mode := st.Mode
	if mode == 0 {
		mode = 0o644
	}
	return fuseops.InodeAttributes{
		Size:  uint64(st.Size),
		Nlink: nlink,
		Mode:  mode,
		Uid:   uint32(os.Getuid()),
		Gid:   uint32(os.Getgid()),
		Atime: st.Mtime,
		Mtime: st.Mtime,
		Ctime: st.Mtime,
	}
}

func (h *Host) rc(ctx context.Context, p string) *layer.RequestContext {
	return &layer.RequestContext{Ctx: ctx, Path: p}
}

func errnoOf(err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return fuse.ENOENT
	}
	if os.IsExist(err) {
		return fuse.EEXIST
	}
	return layer.Errno(err)
}

func (h *Host) Init(op *fuseops.InitOp) {
	op.Respond(nil)
}

func (h *Host) LookUpInode(op *fuseops.LookUpInodeOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	parent, ok := h.pathFor(op.Parent)
	if !ok {
		err = fuse.ENOENT
		return
	}

	p := childPath(parent, op.Name)
	st, serr := h.root.Ops.Lstat(h.rc(op.Context(), p), p)
	if serr != nil {
		err = errnoOf(serr)
		return
	}

	op.Entry.Child = h.mintInode(p)
	op.Entry.Attributes = toAttributes(st)
}

func (h *Host) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	p, ok := h.pathFor(op.Inode)
	if !ok {
		err = fuse.ENOENT
		return
	}

	st, serr := h.root.Ops.Lstat(h.rc(op.Context(), p), p)
	if serr != nil {
		err = errnoOf(serr)
		return
	}
	op.Attributes = toAttributes(st)
}

func (h *Host) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	p, ok := h.pathFor(op.Inode)
	if !ok {
		err = fuse.ENOENT
		return
	}

	if op.Atime != nil || op.Mtime != nil {
		err = fuse.ENOSYS
		return
	}

	rc := h.rc(op.Context(), p)
	if op.Size != nil {
		if err = h.root.Ops.Truncate(rc, p, int64(*op.Size)); err != nil {
			err = errnoOf(err)
			return
		}
	}
	if op.Mode != nil {
		if err = h.root.Ops.Chmod(rc, p, *op.Mode); err != nil {
			err = errnoOf(err)
			return
		}
	}

	st, serr := h.root.Ops.Lstat(rc, p)
	if serr != nil {
		err = errnoOf(serr)
		return
	}
	op.Attributes = toAttributes(st)
}

func (h *Host) ForgetInode(op *fuseops.ForgetInodeOp) {
	h.forget(op.Inode, uint64(op.N))
	op.Respond(nil)
}

func (h *Host) MkDir(op *fuseops.MkDirOp) {
	op.Respond(fuse.ENOSYS)
}

func (h *Host) CreateFile(op *fuseops.CreateFileOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	parent, ok := h.pathFor(op.Parent)
	if !ok {
		err = fuse.ENOENT
		return
	}
	p := childPath(parent, op.Name)
	rc := h.rc(op.Context(), p)

	fd, oerr := h.root.Ops.Open(rc, p, os.O_RDWR|os.O_CREATE|os.O_EXCL, op.Mode)
	if oerr != nil {
		err = errnoOf(oerr)
		return
	}

	st, serr := h.root.Ops.Fstat(rc, fd)
	if serr != nil {
		_ = h.root.Ops.Close(rc, fd)
		err = errnoOf(serr)
		return
	}

	op.Entry.Child = h.mintInode(p)
	op.Entry.Attributes = toAttributes(st)
	op.Handle = h.registerFile(fd, p)
}

func (h *Host) CreateSymlink(op *fuseops.CreateSymlinkOp) {
	op.Respond(fuse.ENOSYS)
}

func (h *Host) RmDir(op *fuseops.RmDirOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	parent, ok := h.pathFor(op.Parent)
	if !ok {
		err = fuse.ENOENT
		return
	}
	p := childPath(parent, op.Name)
	if uerr := h.root.Ops.Unlink(h.rc(op.Context(), p), p); uerr != nil {
		err = errnoOf(uerr)
	}
}

func (h *Host) Unlink(op *fuseops.UnlinkOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	parent, ok := h.pathFor(op.Parent)
	if !ok {
		err = fuse.ENOENT
		return
	}
	p := childPath(parent, op.Name)
	if uerr := h.root.Ops.Unlink(h.rc(op.Context(), p), p); uerr != nil {
		err = errnoOf(uerr)
	}
}

func (h *Host) registerDir(p string, entries []layer.DirEntry) fuseops.HandleID {
	h.handleMu.Lock()
	defer h.handleMu.Unlock()
	id := h.nextHandle
	h.nextHandle++
	h.dirHandles[id] = &dirHandle{path: p, entries: entries}
	return id
}

func (h *Host) registerFile(fd int, p string) fuseops.HandleID {
	h.handleMu.Lock()
	defer h.handleMu.Unlock()
	id := h.nextHandle
	h.nextHandle++
	h.fileHandles[id] = &fileHandle{fd: fd, path: p}
	return id
}

func (h *Host) OpenDir(op *fuseops.OpenDirOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	p, ok := h.pathFor(op.Inode)
	if !ok {
		err = fuse.ENOENT
		return
	}
	entries, rerr := h.root.Ops.Readdir(h.rc(op.Context(), p), p)
	if rerr != nil {
		err = errnoOf(rerr)
		return
	}
	op.Handle = h.registerDir(p, entries)
}

func (h *Host) ReadDir(op *fuseops.ReadDirOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	h.handleMu.Lock()
	dh, ok := h.dirHandles[op.Handle]
	h.handleMu.Unlock()
	if !ok {
		err = fuse.EINVAL
		return
	}

	idx := int(op.Offset)
	var n int
	for idx < len(dh.entries) {
		e := dh.entries[idx]
		de := fuseutil.Dirent{
			Offset: fuseops.DirOffset(idx + 1),
			Inode:  h.mintInode(childPath(dh.path, e.Name)),
			Name:   e.Name,
			Type:   direntType(e.Stat),
		}
		wrote := fuseutil.WriteDirent(op.Data[n:], de)
		if wrote == 0 {
			break
		}
		n += wrote
		idx++
	}
	op.Data = op.Data[:n]
}

func direntType(st layer.Stat) fuseutil.DirentType {
	if st.Mode.IsDir() {
		return fuseutil.DT_Directory
	}
	return fuseutil.DT_File
}

func (h *Host) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) {
	h.handleMu.Lock()
	delete(h.dirHandles, op.Handle)
	h.handleMu.Unlock()
	op.Respond(nil)
}

func (h *Host) OpenFile(op *fuseops.OpenFileOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	p, ok := h.pathFor(op.Inode)
	if !ok {
		err = fuse.ENOENT
		return
	}
	rc := h.rc(op.Context(), p)
	fd, oerr := h.root.Ops.Open(rc, p, os.O_RDWR, 0)
	if oerr != nil {
		err = errnoOf(oerr)
		return
	}
	op.Handle = h.registerFile(fd, p)
}

func (h *Host) fileFor(id fuseops.HandleID) (*fileHandle, bool) {
	h.handleMu.Lock()
	defer h.handleMu.Unlock()
	fh, ok := h.fileHandles[id]
	return fh, ok
}

func (h *Host) ReadFile(op *fuseops.ReadFileOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	fh, ok := h.fileFor(op.Handle)
	if !ok {
		err = fuse.EINVAL
		return
	}
	buf := make([]byte, op.Size)
	n, rerr := h.root.Ops.Pread(h.rc(op.Context(), fh.path), fh.fd, buf, op.Offset)
	if rerr != nil {
		err = errnoOf(rerr)
		return
	}
	op.Data = buf[:n]
}

func (h *Host) WriteFile(op *fuseops.WriteFileOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	fh, ok := h.fileFor(op.Handle)
	if !ok {
		err = fuse.EINVAL
		return
	}
	if _, werr := h.root.Ops.Pwrite(h.rc(op.Context(), fh.path), fh.fd, op.Data, op.Offset); werr != nil {
		err = errnoOf(werr)
	}
}

func (h *Host) SyncFile(op *fuseops.SyncFileOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	fh, ok := h.fileFor(op.Handle)
	if !ok {
		err = fuse.EINVAL
		return
	}
	if serr := h.root.Ops.Fsync(h.rc(op.Context(), fh.path), fh.fd, false); serr != nil {
		err = errnoOf(serr)
	}
}

func (h *Host) FlushFile(op *fuseops.FlushFileOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	fh, ok := h.fileFor(op.Handle)
	if !ok {
		err = fuse.EINVAL
		return
	}
	if serr := h.root.Ops.Fsync(h.rc(op.Context(), fh.path), fh.fd, true); serr != nil {
		err = errnoOf(serr)
	}
}

func (h *Host) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	h.handleMu.Lock()
	fh, ok := h.fileHandles[op.Handle]
	delete(h.fileHandles, op.Handle)
	h.handleMu.Unlock()
	if !ok {
		return
	}
	if cerr := h.root.Ops.Close(h.rc(op.Context(), fh.path), fh.fd); cerr != nil {
		err = errnoOf(cerr)
	}
}
