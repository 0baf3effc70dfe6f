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

// Package benchmark is a pure pass-through layer that times every operation
// and periodically flushes a per-op-type summary: spec.md §4.6.
package benchmark

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/layerfs/layerfs/clock"
	"github.com/layerfs/layerfs/internal/layer"
)

// Config mirrors the benchmark params table in spec.md §6.
type Config struct {
	// Reps is how many calls of a given op accumulate before a summary line
	// is logged. A Prometheus histogram observation happens on every call
	// regardless of Reps.
	Reps int64 `mapstructure:"reps"`
}

// DefaultConfig matches the default named in spec.md §6.
func DefaultConfig() Config {
	return Config{Reps: 1000}
}

var latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "layerfs",
	Subsystem: "benchmark",
	Name:      "op_duration_seconds",
	Help:      "Per-operation latency observed by the benchmark pass-through layer.",
	Buckets:   prometheus.DefBuckets,
}, []string{"op"})

func init() {
	prometheus.MustRegister(latency)
}

type counter struct {
	n atomic.Int64
}

// Layer wraps next, timing every call and logging a running-count summary
// every cfg.Reps calls of a given op.
type Layer struct {
	next  layer.Context
	reps  int64
	clock clock.Clock
	log   *slog.Logger

	mu       sync.Mutex
	counters map[string]*counter
}

// New builds a benchmark layer in front of next. clk may be nil, in which
// case clock.RealClock{} is used.
func New(next layer.Context, cfg Config, clk clock.Clock, log *slog.Logger) (*Layer, error) {
	if cfg.Reps < 1 {
		cfg.Reps = 1
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Layer{
		next:     next,
		reps:     cfg.Reps,
		clock:    clk,
		log:      log,
		counters: make(map[string]*counter),
	}, nil
}

func (l *Layer) sample(op string, fn func()) {
	start := l.clock.Now()
	fn()
	latency.WithLabelValues(op).Observe(l.clock.Now().Sub(start).Seconds())

	l.mu.Lock()
	c, ok := l.counters[op]
	if !ok {
		c = &counter{}
		l.counters[op] = c
	}
	l.mu.Unlock()

	if n := c.n.Add(1); n%l.reps == 0 {
		l.log.Info("benchmark: op summary", "op", op, "count", n)
	}
}

func (l *Layer) Open(rc *layer.RequestContext, path string, flags int, mode os.FileMode) (fd int, err error) {
	l.sample("open", func() { fd, err = l.next.Ops.Open(rc.Child(), path, flags, mode) })
	return
}

func (l *Layer) Close(rc *layer.RequestContext, fd int) (err error) {
	l.sample("close", func() { err = l.next.Ops.Close(rc.Child(), fd) })
	return
}

func (l *Layer) Pread(rc *layer.RequestContext, fd int, buf []byte, off int64) (n int, err error) {
	l.sample("pread", func() { n, err = l.next.Ops.Pread(rc.Child(), fd, buf, off) })
	return
}

func (l *Layer) Pwrite(rc *layer.RequestContext, fd int, buf []byte, off int64) (n int, err error) {
	l.sample("pwrite", func() { n, err = l.next.Ops.Pwrite(rc.Child(), fd, buf, off) })
	return
}

func (l *Layer) Ftruncate(rc *layer.RequestContext, fd int, size int64) (err error) {
	l.sample("ftruncate", func() { err = l.next.Ops.Ftruncate(rc.Child(), fd, size) })
	return
}

func (l *Layer) Truncate(rc *layer.RequestContext, path string, size int64) (err error) {
	l.sample("truncate", func() { err = l.next.Ops.Truncate(rc.Child(), path, size) })
	return
}

func (l *Layer) Lstat(rc *layer.RequestContext, path string) (st layer.Stat, err error) {
	l.sample("lstat", func() { st, err = l.next.Ops.Lstat(rc.Child(), path) })
	return
}

func (l *Layer) Fstat(rc *layer.RequestContext, fd int) (st layer.Stat, err error) {
	l.sample("fstat", func() { st, err = l.next.Ops.Fstat(rc.Child(), fd) })
	return
}

func (l *Layer) Unlink(rc *layer.RequestContext, path string) (err error) {
	l.sample("unlink", func() { err = l.next.Ops.Unlink(rc.Child(), path) })
	return
}

func (l *Layer) Fsync(rc *layer.RequestContext, fd int, dataOnly bool) (err error) {
	l.sample("fsync", func() { err = l.next.Ops.Fsync(rc.Child(), fd, dataOnly) })
	return
}

func (l *Layer) Readdir(rc *layer.RequestContext, path string) (entries []layer.DirEntry, err error) {
	l.sample("readdir", func() { entries, err = l.next.Ops.Readdir(rc.Child(), path) })
	return
}

func (l *Layer) Rename(rc *layer.RequestContext, from, to string) (err error) {
	l.sample("rename", func() { err = l.next.Ops.Rename(rc.Child(), from, to) })
	return
}

func (l *Layer) Chmod(rc *layer.RequestContext, path string, mode os.FileMode) (err error) {
	l.sample("chmod", func() { err = l.next.Ops.Chmod(rc.Child(), path, mode) })
	return
}

// Destroy releases nothing: benchmark owns no resources, and the builder
// destroys next itself.
func (l *Layer) Destroy() error {
	return nil
}
