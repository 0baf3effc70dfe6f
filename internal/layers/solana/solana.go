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

// Package solana is a terminal layer addressing account data on a Solana
// cluster via its JSON-RPC API (spec.md §6's "invisible-storage backends").
// No Solana SDK appears anywhere in the retrieval pack, so reads go through
// the stock getAccountInfo RPC and writes go through a configurable write
// endpoint (a real deployment would sign and submit a program transaction,
// which needs a keypair/signing library this pack doesn't carry — see
// DESIGN.md). Path→account-pubkey mapping lives in-process, same
// simplification as ipfs_opendal's path→CID table.
package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/layerfs/layerfs/internal/layer"
)

// Config mirrors the solana params table.
type Config struct {
	RPCAddr   string        `mapstructure:"rpc_addr"`   // e.g. https://api.devnet.solana.com
	WriteAddr string        `mapstructure:"write_addr"` // endpoint accepting {pubkey, data_base64} writes
	Timeout   time.Duration `mapstructure:"timeout"`
}

type Layer struct {
	rpcAddr   string
	writeAddr string
	client    *http.Client

	mu       sync.Mutex
	accounts map[string]string // path -> account pubkey
	handles  map[int]*handle
	next     int
}

type handle struct {
	path string
	data []byte
}

// New builds a solana layer.
func New(cfg Config) (*Layer, error) {
	if cfg.RPCAddr == "" {
		return nil, fmt.Errorf("solana: rpc_addr is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Layer{
		rpcAddr:   cfg.RPCAddr,
		writeAddr: cfg.WriteAddr,
		client:    &http.Client{Timeout: cfg.Timeout},
		accounts:  make(map[string]string),
		handles:   make(map[int]*handle),
		next:      3,
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

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result struct {
		Value struct {
			Data []string `json:"data"` // [base64, "base64"]
		} `json:"value"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (l *Layer) getAccountData(ctx context.Context, pubkey string) ([]byte, error) {
	req := rpcRequest{
		Jsonrpc: "2.0",
		ID:      1,
		Method:  "getAccountInfo",
		Params:  []any{pubkey, map[string]string{"encoding": "base64"}},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.rpcAddr, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("solana: getAccountInfo: %w", err)
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, fmt.Errorf("solana: rpc error: %s", out.Error.Message)
	}
	if len(out.Result.Value.Data) == 0 {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(out.Result.Value.Data[0])
}

func (l *Layer) putAccountData(ctx context.Context, pubkey string, data []byte) error {
	if l.writeAddr == "" {
		return fmt.Errorf("solana: write_addr is not configured")
	}
	payload, err := json.Marshal(map[string]string{
		"pubkey":      pubkey,
		"data_base64": base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.writeAddr, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("solana: write: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("solana: write returned HTTP %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

func (l *Layer) pubkeyFor(path string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pk, ok := l.accounts[path]
	return pk, ok
}

func (l *Layer) Open(rc *layer.RequestContext, path string, flags int, mode os.FileMode) (int, error) {
	pubkey, known := l.pubkeyFor(path)
	var data []byte
	if known && flags&os.O_TRUNC == 0 {
		d, err := l.getAccountData(l.ctx(rc), pubkey)
		if err != nil {
			return -1, err
		}
		data = d
	} else if !known && flags&os.O_CREATE == 0 {
		return -1, os.ErrNotExist
	} else if !known {
		pubkey = path // the path itself is used as the account pubkey until a real keypair is wired
		l.mu.Lock()
		l.accounts[path] = pubkey
		l.mu.Unlock()
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

func (l *Layer) Close(rc *layer.RequestContext, fd int) error {
	h, err := l.handleFor(fd)
	if err != nil {
		return err
	}
	pubkey, _ := l.pubkeyFor(h.path)
	if err := l.putAccountData(l.ctx(rc), pubkey, h.data); err != nil {
		return err
	}
	l.mu.Lock()
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
	pubkey, known := l.pubkeyFor(path)
	if !known {
		return os.ErrNotExist
	}
	data, err := l.getAccountData(l.ctx(rc), pubkey)
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
	return l.putAccountData(l.ctx(rc), pubkey, data)
}

func (l *Layer) Lstat(rc *layer.RequestContext, path string) (layer.Stat, error) {
	pubkey, known := l.pubkeyFor(path)
	if !known {
		return layer.Stat{}, os.ErrNotExist
	}
	data, err := l.getAccountData(l.ctx(rc), pubkey)
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
	if _, ok := l.accounts[path]; !ok {
		return os.ErrNotExist
	}
	delete(l.accounts, path)
	return nil
}

func (l *Layer) Fsync(rc *layer.RequestContext, fd int, dataOnly bool) error {
	return nil
}

func (l *Layer) Readdir(rc *layer.RequestContext, path string) ([]layer.DirEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var entries []layer.DirEntry
	for p := range l.accounts {
		entries = append(entries, layer.DirEntry{Name: p})
	}
	return entries, nil
}

func (l *Layer) Rename(rc *layer.RequestContext, from, to string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pk, ok := l.accounts[from]
	if !ok {
		return os.ErrNotExist
	}
	delete(l.accounts, from)
	l.accounts[to] = pk
	return nil
}

func (l *Layer) Chmod(rc *layer.RequestContext, path string, mode os.FileMode) error {
	return nil // on-chain accounts carry no POSIX mode bits
}

func (l *Layer) Destroy() error {
	return nil
}
