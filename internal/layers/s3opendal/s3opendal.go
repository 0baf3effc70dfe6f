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

// Package s3opendal is a terminal layer addressing objects in an S3 bucket
// by a path-as-key convention, one of the "invisible-storage backends"
// named in spec.md §6. It has no children.
package s3opendal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/layerfs/layerfs/internal/layer"
)

// Config mirrors the s3_opendal params table.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Region string `mapstructure:"region"`
	Prefix string `mapstructure:"prefix"`
}

// Layer stores each path as one S3 object, buffering the whole object
// client-side for in-place Pwrite since S3 has no byte-range write API.
type Layer struct {
	client *s3.Client
	bucket string
	prefix string

	mu   sync.Mutex
	fds  map[int]*handle
	next int
}

type handle struct {
	key  string
	data []byte
}

// New builds an s3_opendal layer. Credentials come from the default AWS SDK
// chain (env, shared config, instance profile).
func New(ctx context.Context, cfg Config) (*Layer, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3opendal: bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("s3opendal: loading AWS config: %w", err)
	}
	return &Layer{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		fds:    make(map[int]*handle),
		next:   3,
	}, nil
}

// Context wraps l in a layer.Context with no children.
func (l *Layer) Context() layer.Context {
	return layer.Context{Ops: l}
}

func (l *Layer) keyFor(path string) string {
	return l.prefix + strings.TrimPrefix(path, "/")
}

func (l *Layer) ctx(rc *layer.RequestContext) context.Context {
	if rc != nil && rc.Ctx != nil {
		return rc.Ctx
	}
	return context.Background()
}

func (l *Layer) Open(rc *layer.RequestContext, path string, flags int, mode os.FileMode) (int, error) {
	key := l.keyFor(path)
	h := &handle{key: key}

	out, err := l.client.GetObject(l.ctx(rc), &s3.GetObjectInput{Bucket: aws.String(l.bucket), Key: aws.String(key)})
	switch {
	case err == nil:
		defer out.Body.Close()
		data, readErr := io.ReadAll(out.Body)
		if readErr != nil {
			return -1, readErr
		}
		h.data = data
		if flags&os.O_TRUNC != 0 {
			h.data = nil
		}
	case flags&os.O_CREATE != 0:
		h.data = nil
	default:
		return -1, fmt.Errorf("s3opendal: getting %q: %w", key, err)
	}

	l.mu.Lock()
	fd := l.next
	l.next++
	l.fds[fd] = h
	l.mu.Unlock()
	return fd, nil
}

func (l *Layer) handleFor(fd int) (*handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.fds[fd]
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
	_, err = l.client.PutObject(l.ctx(rc), &s3.PutObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(h.key),
		Body:   bytes.NewReader(h.data),
	})
	if err != nil {
		return fmt.Errorf("s3opendal: putting %q: %w", h.key, err)
	}
	l.mu.Lock()
	delete(l.fds, fd)
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
	key := l.keyFor(path)
	out, err := l.client.GetObject(l.ctx(rc), &s3.GetObjectInput{Bucket: aws.String(l.bucket), Key: aws.String(key)})
	if err != nil {
		return fmt.Errorf("s3opendal: getting %q: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
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
	_, err = l.client.PutObject(l.ctx(rc), &s3.PutObjectInput{Bucket: aws.String(l.bucket), Key: aws.String(key), Body: bytes.NewReader(data)})
	return err
}

func (l *Layer) Lstat(rc *layer.RequestContext, path string) (layer.Stat, error) {
	key := l.keyFor(path)
	out, err := l.client.HeadObject(l.ctx(rc), &s3.HeadObjectInput{Bucket: aws.String(l.bucket), Key: aws.String(key)})
	if err != nil {
		return layer.Stat{}, fmt.Errorf("s3opendal: heading %q: %w", key, err)
	}
	st := layer.Stat{Nlink: 1, BlkSize: 4096}
	if out.ContentLength != nil {
		st.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		st.Mtime = *out.LastModified
	}
	return st, nil
}

func (l *Layer) Fstat(rc *layer.RequestContext, fd int) (layer.Stat, error) {
	h, err := l.handleFor(fd)
	if err != nil {
		return layer.Stat{}, err
	}
	return layer.Stat{Size: int64(len(h.data)), Nlink: 1, BlkSize: 4096, Mtime: time.Now()}, nil
}

func (l *Layer) Unlink(rc *layer.RequestContext, path string) error {
	key := l.keyFor(path)
	_, err := l.client.DeleteObject(l.ctx(rc), &s3.DeleteObjectInput{Bucket: aws.String(l.bucket), Key: aws.String(key)})
	return err
}

func (l *Layer) Fsync(rc *layer.RequestContext, fd int, dataOnly bool) error {
	return nil // every Close already performs a durable PutObject
}

func (l *Layer) Readdir(rc *layer.RequestContext, path string) ([]layer.DirEntry, error) {
	prefix := l.keyFor(path)
	out, err := l.client.ListObjectsV2(l.ctx(rc), &s3.ListObjectsV2Input{Bucket: aws.String(l.bucket), Prefix: aws.String(prefix)})
	if err != nil {
		return nil, err
	}
	entries := make([]layer.DirEntry, 0, len(out.Contents))
	for _, obj := range out.Contents {
		name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
		if name == "" {
			continue
		}
		entries = append(entries, layer.DirEntry{Name: name, Stat: layer.Stat{Size: aws.ToInt64(obj.Size)}})
	}
	return entries, nil
}

func (l *Layer) Rename(rc *layer.RequestContext, from, to string) error {
	fromKey, toKey := l.keyFor(from), l.keyFor(to)
	_, err := l.client.CopyObject(l.ctx(rc), &s3.CopyObjectInput{
		Bucket:     aws.String(l.bucket),
		Key:        aws.String(toKey),
		CopySource: aws.String(l.bucket + "/" + fromKey),
	})
	if err != nil {
		return fmt.Errorf("s3opendal: copying %q to %q: %w", fromKey, toKey, err)
	}
	_, err = l.client.DeleteObject(l.ctx(rc), &s3.DeleteObjectInput{Bucket: aws.String(l.bucket), Key: aws.String(fromKey)})
	return err
}

func (l *Layer) Chmod(rc *layer.RequestContext, path string, mode os.FileMode) error {
	return nil // S3 has no POSIX permission model to carry this
}

func (l *Layer) Destroy() error {
	return nil
}
