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

package layer

import "context"

// Context is a single node in the instantiated layer DAG. It is cheap to
// pass by value: it carries references to state, not the state itself.
type Context struct {
	Ops  Ops
	Next []Context
}

// Nlayers mirrors spec's nlayers field; kept as a method rather than a
// stored field since len(Next) can never drift from it in Go.
func (c Context) Nlayers() int {
	return len(c.Next)
}

// RequestContext is the per-request, explicitly-threaded value every
// operation takes. The source mutates a shared LayerContext.app_context in
// place and relies on callers not to let it outlive the request; here it is
// an ordinary argument, so there is nothing to outlive and nothing to race.
type RequestContext struct {
	// Ctx carries cancellation/deadlines down to whatever the terminal layer
	// blocks on (host syscalls, TCP, HTTPS).
	Ctx context.Context

	// Path is the logical pathname the host issued this operation against,
	// even when the operation itself is descriptor-based (pread/pwrite/...).
	// Lower layers that need a name they weren't otherwise given (the remote
	// wire protocol, the metadata service) read it from here.
	Path string
}

// Child builds the RequestContext to propagate to a child. Layers must
// call this (or otherwise construct an equivalent value) at the head of
// every operation before recursing, per the propagation contract in §4.1.
func (rc *RequestContext) Child() *RequestContext {
	if rc == nil {
		return nil
	}
	cp := *rc
	return &cp
}

// WithPath returns a copy of rc with Path replaced, for layers that rewrite
// pathnames on the way down (none of the core layers do, but anti_tampering
// style pairings might address the hash layer under a derived name).
func (rc *RequestContext) WithPath(path string) *RequestContext {
	cp := rc.Child()
	cp.Path = path
	return cp
}
