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

// Package ipfsopendal is a terminal layer addressing an IPFS HTTP API
// (spec.md §6's "invisible-storage backends"). No Go IPFS client appears
// anywhere in the retrieval pack, so this is a hand-rolled net/http facade
// over the kubo RPC API, the same boundary-case justification as the
// source's own curl-based secrets fetch (see DESIGN.md).
package ipfsopendal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/layerfs/layerfs/internal/layer"
)

// Config mirrors the ipfs_opendal params table.
type Config struct {
	APIAddr string        `mapstructure:"api_addr"` // e.g. http://127.0.0.1:5001
	Timeout time.Duration `mapstructure:"timeout"`
}

// Layer keeps, in cids, the CID pinned under each logical path; IPFS is
// content-addressed, so a layer sitting above this one (typically the
// metadata service) is expected to own the path→CID mapping in a real
// deployment. Here that mapping lives in-process for simplicity.
type Layer struct {
	apiAddr string
	client  *http.Client

	mu      sync.Mutex
	cids    map[string]string
	handles map[int]*handle
	next    int
}

type handle struct {
	path string
	data []byte
}

// New builds an ipfs_opendal layer talking to the kubo HTTP API at
// cfg.APIAddr.
func New(cfg Config) (*Layer, error) {
	if cfg.APIAddr == "" {
		return nil, fmt.Errorf("ipfsopendal: api_addr is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Layer{
		apiAddr: strings.TrimRight(cfg.APIAddr, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		cids:    make(map[string]string),
		handles: make(map[int]*handle),
		next:    3,
	}, nil
}

// Context wraps l in a layer.Context with no children.
func (l *Layer) Context() layer.Context {
	return layer.Context{Ops: l}
}

func (l *Layer) ctx(rc *layer.RequestContext) context.Context {
	if rc != nil && rc.Ctx != nil {
		return rc.Ctx
	}
	return context.Background()
}

func (l *Layer) add(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "file")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.apiAddr+"/api/v0/add", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ipfsopendal: add: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ipfsopendal: add returned HTTP %d: %s", resp.StatusCode, string(b))
	}
	var out struct {
		Hash string `json:"Hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Hash, nil
}

func (l *Layer) cat(ctx context.Context, cid string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.apiAddr+"/api/v0/cat?arg="+cid, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ipfsopendal: cat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ipfsopendal: cat returned HTTP %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}

func (l *Layer) Open(rc *layer.RequestContext, path string, flags int, mode os.FileMode) (int, error) {
	l.mu.Lock()
	cid, known := l.cids[path]
	l.mu.Unlock()

	var data []byte
	if known && flags&os.O_TRUNC == 0 {
		d, err := l.cat(l.ctx(rc), cid)
		if err != nil {
			return -1, err
		}
		data = d
	} else if !known && flags&os.O_CREATE == 0 {
		return -1, os.ErrNotExist
	}

	l.mu.Lock()
	fd := l.next
	l.next++
	l.handles[fd] = &handle{path: path, data: data}
	l.mu.Unlock()
	return fd, nil
}

func (l *Layer) handleFor(fd int) (*handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.handles[fd]
	if !ok {
		return nil, os.ErrInvalid
	}
	return h, nil
}

// Close pins the handle's current content, a new CID if the content
// changed, and records the path→CID mapping. IPFS has no in-place update:
// every close is effectively a new immutable object.
func (l *Layer) Close(rc *layer.RequestContext, fd int) error {
	h, err := l.handleFor(fd)
	if err != nil {
		return err
	}
	cid, err := l.add(l.ctx(rc), h.data)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.cids[h.path] = cid
	delete(l.handles, fd)
	l.mu.Unlock()
	return nil
}

func (l *Layer) Pread(rc *layer.RequestContext, fd int, buf []byte, off int64) (int, error) {
	h, err := l.handleFor(fd)
	if err != nil {
		return 0, err
	}
	if off >= int64(len(h.data)) {
		return 0, nil
	}
	return copy(buf, h.data[off:]), nil
}

func (l *Layer) Pwrite(rc *layer.RequestContext, fd int, buf []byte, off int64) (int, error) {
	h, err := l.handleFor(fd)
	if err != nil {
		return 0, err
	}
	end := off + int64(len(buf))
	if end > int64(len(h.data)) {
		grown := make([]byte, end)
		copy(grown, h.data)
		h.data = grown
	}
	copy(h.data[off:end], buf)
	return len(buf), nil
}

func (l *Layer) Ftruncate(rc *layer.RequestContext, fd int, size int64) error {
	h, err := l.handleFor(fd)
	if err != nil {
		return err
	}
	if size <= int64(len(h.data)) {
		h.data = h.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, h.data)
	h.data = grown
	return nil
}

func (l *Layer) Truncate(rc *layer.RequestContext, path string, size int64) error {
	l.mu.Lock()
	cid, known := l.cids[path]
	l.mu.Unlock()
	if !known {
		return os.ErrNotExist
	}
	data, err := l.cat(l.ctx(rc), cid)
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
	newCID, err := l.add(l.ctx(rc), data)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.cids[path] = newCID
	l.mu.Unlock()
	return nil
}

func (l *Layer) Lstat(rc *layer.RequestContext, path string) (layer.Stat, error) {
	l.mu.Lock()
	cid, known := l.cids[path]
	l.mu.Unlock()
	if !known {
		return layer.Stat{}, os.ErrNotExist
	}
	data, err := l.cat(l.ctx(rc), cid)
	if err != nil {
		return layer.Stat{}, err
	}
	return layer.Stat{Size: int64(len(data)), Nlink: 1, BlkSize: 4096, Mtime: time.Now()}, nil
}

func (l *Layer) Fstat(rc *layer.RequestContext, fd int) (layer.Stat, error) {
	h, err := l.handleFor(fd)
	if err != nil {
		return layer.Stat{}, err
	}
	return layer.Stat{Size: int64(len(h.data)), Nlink: 1, BlkSize: 4096, Mtime: time.Now()}, nil
}

func (l *Layer) Unlink(rc *layer.RequestContext, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.cids[path]; !ok {
		return os.ErrNotExist
	}
	delete(l.cids, path)
	return nil
}

func (l *Layer) Fsync(rc *layer.RequestContext, fd int, dataOnly bool) error {
	return nil // Close already pins; nothing durable happens in between
}

func (l *Layer) Readdir(rc *layer.RequestContext, path string) ([]layer.DirEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prefix := strings.TrimSuffix(path, "/") + "/"
	var entries []layer.DirEntry
	for p := range l.cids {
		if strings.HasPrefix(p, prefix) {
			entries = append(entries, layer.DirEntry{Name: strings.TrimPrefix(p, prefix)})
		}
	}
	return entries, nil
}

func (l *Layer) Rename(rc *layer.RequestContext, from, to string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cid, ok := l.cids[from]
	if !ok {
		return os.ErrNotExist
	}
	delete(l.cids, from)
	l.cids[to] = cid
	return nil
}

func (l *Layer) Chmod(rc *layer.RequestContext, path string, mode os.FileMode) error {
	return nil // IPFS objects carry no POSIX mode bits
}

func (l *Layer) Destroy() error {
	return nil
}
