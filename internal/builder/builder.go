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

// Package builder turns a cfg.Config into a live layer.Context graph: a
// post-order walk of the layer DAG the config names, memoizing shared
// sub-DAGs and refusing cycles, with every partially constructed layer torn
// down in reverse build order if any constructor fails partway through.
package builder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/layerfs/layerfs/cfg"
	"github.com/layerfs/layerfs/clock"
	"github.com/layerfs/layerfs/common"
	"github.com/layerfs/layerfs/internal/cacheplugin/lru"
	"github.com/layerfs/layerfs/internal/layer"
	"github.com/layerfs/layerfs/internal/layers/antitamper"
	"github.com/layerfs/layerfs/internal/layers/benchmark"
	"github.com/layerfs/layerfs/internal/layers/blockalign"
	"github.com/layerfs/layerfs/internal/layers/compression"
	"github.com/layerfs/layerfs/internal/layers/demux"
	"github.com/layerfs/layerfs/internal/layers/encryption"
	"github.com/layerfs/layerfs/internal/layers/ipfsopendal"
	"github.com/layerfs/layerfs/internal/layers/local"
	"github.com/layerfs/layerfs/internal/layers/readcache"
	"github.com/layerfs/layerfs/internal/layers/remote"
	"github.com/layerfs/layerfs/internal/layers/s3opendal"
	"github.com/layerfs/layerfs/internal/layers/solana"
	"github.com/layerfs/layerfs/internal/metadata"
)

// Deps are the handles the builder threads into every layer constructor
// that asks for one. The source reaches these through process-wide globals
// (a package-level logger, a package-level GCS client); here they are
// ordinary values passed in once at startup.
type Deps struct {
	// Ctx bounds any network calls a terminal layer's constructor makes
	// while starting up (s3_opendal's client construction, for instance).
	Ctx context.Context

	// Logger is handed to every layer kind whose constructor asks for one.
	// Must not be nil; callers that don't care about layer logging should
	// pass slog.New(a discard handler), not nil.
	Logger *slog.Logger

	// Clock is handed to the benchmark layer. A nil Clock defaults to
	// clock.RealClock{}.
	Clock clock.Clock
}

// Result is the instantiated graph plus the services the build opened on
// the way, and a Teardown that releases everything exactly once.
type Result struct {
	Root     layer.Context
	Metadata *metadata.Service // nil if services.metadata was not configured
	Teardown func() error
}

type built struct {
	cfg      *cfg.Config
	deps     Deps
	building map[string]bool
	done     map[string]layer.Context
	order    []layer.Ops
	metadata *metadata.Service
}

// Build instantiates c's layer graph rooted at c.RootLayer.
func Build(c *cfg.Config, deps Deps) (Result, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Ctx == nil {
		deps.Ctx = context.Background()
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}

	b := &built{
		cfg:      c,
		deps:     deps,
		building: map[string]bool{},
		done:     map[string]layer.Context{},
	}

	if c.Services != nil && c.Services.Metadata != nil {
		svc, err := metadata.Open(metadata.Config{
			Path:      c.Services.Metadata.Path,
			CacheSize: c.Services.Metadata.CacheSize,
			Threads:   c.Services.Metadata.Threads,
		})
		if err != nil {
			return Result{}, fmt.Errorf("opening services.metadata: %w", err)
		}
		b.metadata = svc
	}

	root, err := b.build(c.RootLayer)
	if err != nil {
		b.teardown()
		return Result{}, err
	}

	return Result{Root: root, Metadata: b.metadata, Teardown: b.teardown}, nil
}

// teardown destroys every constructed layer in reverse build order, then
// closes the metadata service, joining every step's error with
// common.JoinShutdownFunc so one failed Destroy never hides the rest. It is
// safe to call more than once; a second call tears down nothing since
// order/metadata are only ever drained here.
func (b *built) teardown() error {
	fns := make([]common.ShutdownFn, 0, len(b.order)+1)
	for i := len(b.order) - 1; i >= 0; i-- {
		ops := b.order[i]
		fns = append(fns, func(context.Context) error { return ops.Destroy() })
	}
	if b.metadata != nil {
		md := b.metadata
		fns = append(fns, func(context.Context) error { return md.Close() })
	}
	b.order = nil
	b.metadata = nil
	return common.JoinShutdownFunc(fns...)(context.Background())
}

// build returns the already-built Context for name if one exists, detects a
// cycle through name, or else builds name's dependencies (post-order) before
// constructing and memoizing name itself.
func (b *built) build(name string) (layer.Context, error) {
	if ctx, ok := b.done[name]; ok {
		return ctx, nil
	}
	if b.building[name] {
		return layer.Context{}, &layer.ErrCycle{Layer: name}
	}
	lc, ok := b.cfg.Layers[name]
	if !ok {
		return layer.Context{}, &layer.ErrUnknownLayer{Layer: name}
	}

	b.building[name] = true
	defer delete(b.building, name)

	ctx, ops, err := b.construct(name, lc)
	if err != nil {
		return layer.Context{}, fmt.Errorf("building layer %q: %w", name, err)
	}

	b.order = append(b.order, ops)
	b.done[name] = ctx
	return ctx, nil
}

// next resolves lc's single "next" dependency, for the layer kinds that
// have exactly one child.
func (b *built) next(name string, lc cfg.LayerConfig) (layer.Context, error) {
	if lc.Next == "" {
		return layer.Context{}, fmt.Errorf("layer %q: %q requires next", name, lc.Type)
	}
	return b.build(lc.Next)
}

// construct instantiates the single layer named name, resolving whatever
// dependency shape its kind requires first (next, children, or the
// data/hash pair), decoding lc.Params into that kind's typed Config.
func (b *built) construct(name string, lc cfg.LayerConfig) (layer.Context, layer.Ops, error) {
	switch lc.Type {
	case "local":
		var params local.Config
		if err := cfg.DecodeParams(lc.Params, &params); err != nil {
			return layer.Context{}, nil, err
		}
		l, err := local.New(params)
		if err != nil {
			return layer.Context{}, nil, err
		}
		return l.Context(), l, nil

	case "remote":
		var params remote.Config
		if err := cfg.DecodeParams(lc.Params, &params); err != nil {
			return layer.Context{}, nil, err
		}
		l, err := remote.New(params)
		if err != nil {
			return layer.Context{}, nil, err
		}
		return l.Context(), l, nil

	case "s3_opendal":
		var params s3opendal.Config
		if err := cfg.DecodeParams(lc.Params, &params); err != nil {
			return layer.Context{}, nil, err
		}
		l, err := s3opendal.New(b.deps.Ctx, params)
		if err != nil {
			return layer.Context{}, nil, err
		}
		return l.Context(), l, nil

	case "ipfs_opendal":
		var params ipfsopendal.Config
		if err := cfg.DecodeParams(lc.Params, &params); err != nil {
			return layer.Context{}, nil, err
		}
		l, err := ipfsopendal.New(params)
		if err != nil {
			return layer.Context{}, nil, err
		}
		return l.Context(), l, nil

	case "solana":
		var params solana.Config
		if err := cfg.DecodeParams(lc.Params, &params); err != nil {
			return layer.Context{}, nil, err
		}
		l, err := solana.New(params)
		if err != nil {
			return layer.Context{}, nil, err
		}
		return l.Context(), l, nil

	case "block_align":
		next, err := b.next(name, lc)
		if err != nil {
			return layer.Context{}, nil, err
		}
		params := blockalign.DefaultConfig()
		if err := cfg.DecodeParams(lc.Params, &params); err != nil {
			return layer.Context{}, nil, err
		}
		l, err := blockalign.New(next, params)
		if err != nil {
			return layer.Context{}, nil, err
		}
		return layer.Context{Ops: l, Next: []layer.Context{next}}, l, nil

	case "compression":
		next, err := b.next(name, lc)
		if err != nil {
			return layer.Context{}, nil, err
		}
		var params compression.Config
		if err := cfg.DecodeParams(lc.Params, &params); err != nil {
			return layer.Context{}, nil, err
		}
		l, err := compression.New(next, params)
		if err != nil {
			return layer.Context{}, nil, err
		}
		return layer.Context{Ops: l, Next: []layer.Context{next}}, l, nil

	case "encryption":
		next, err := b.next(name, lc)
		if err != nil {
			return layer.Context{}, nil, err
		}
		params := encryption.Config{BlockSize: 4096}
		if err := cfg.DecodeParams(lc.Params, &params); err != nil {
			return layer.Context{}, nil, err
		}
		l, err := encryption.New(next, params)
		if err != nil {
			return layer.Context{}, nil, err
		}
		return layer.Context{Ops: l, Next: []layer.Context{next}}, l, nil

	case "read_cache":
		next, err := b.next(name, lc)
		if err != nil {
			return layer.Context{}, nil, err
		}
		params := readcache.DefaultConfig()
		if err := cfg.DecodeParams(lc.Params, &params); err != nil {
			return layer.Context{}, nil, err
		}
		cache, err := lru.New(params.NumBlocks)
		if err != nil {
			return layer.Context{}, nil, err
		}
		l, err := readcache.New(next, params, cache, b.deps.Logger)
		if err != nil {
			return layer.Context{}, nil, err
		}
		return layer.Context{Ops: l, Next: []layer.Context{next}}, l, nil

	case "benchmark":
		next, err := b.next(name, lc)
		if err != nil {
			return layer.Context{}, nil, err
		}
		params := benchmark.DefaultConfig()
		if err := cfg.DecodeParams(lc.Params, &params); err != nil {
			return layer.Context{}, nil, err
		}
		l, err := benchmark.New(next, params, b.deps.Clock, b.deps.Logger)
		if err != nil {
			return layer.Context{}, nil, err
		}
		return layer.Context{Ops: l, Next: []layer.Context{next}}, l, nil

	case "demultiplexer":
		if len(lc.Children) == 0 {
			return layer.Context{}, nil, fmt.Errorf("layer %q: demultiplexer requires a non-empty children list", name)
		}
		children := make([]layer.Context, 0, len(lc.Children))
		for _, childName := range lc.Children {
			childCtx, err := b.build(childName)
			if err != nil {
				return layer.Context{}, nil, err
			}
			children = append(children, childCtx)
		}
		var params demux.Config
		if err := cfg.DecodeParams(lc.Params, &params); err != nil {
			return layer.Context{}, nil, err
		}
		l, err := demux.New(children, params, b.deps.Logger)
		if err != nil {
			return layer.Context{}, nil, err
		}
		return layer.Context{Ops: l, Next: children}, l, nil

	case "anti_tampering":
		if lc.DataLayer == "" || lc.HashLayer == "" {
			return layer.Context{}, nil, fmt.Errorf("layer %q: anti_tampering requires data_layer and hash_layer", name)
		}
		dataCtx, err := b.build(lc.DataLayer)
		if err != nil {
			return layer.Context{}, nil, err
		}
		hashCtx, err := b.build(lc.HashLayer)
		if err != nil {
			return layer.Context{}, nil, err
		}
		params := antitamper.DefaultConfig()
		if err := cfg.DecodeParams(lc.Params, &params); err != nil {
			return layer.Context{}, nil, err
		}
		l, err := antitamper.New(dataCtx, hashCtx, params)
		if err != nil {
			return layer.Context{}, nil, err
		}
		return layer.Context{Ops: l, Next: []layer.Context{dataCtx, hashCtx}}, l, nil

	default:
		return layer.Context{}, nil, &layer.ErrUnknownLayer{Layer: lc.Type}
	}
}
