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

// Package cacheplugin is the eviction-policy boundary the read cache layer
// delegates to. The source loads a shared object exposing insert_item /
// get_item / remove_item / contain_item / get_item_count / destroy_cache
// through dlopen; here that boundary is an ordinary interface with one
// in-process implementation.
package cacheplugin

// Cache is a bounded key/value store of byte blocks. Implementations decide
// eviction; the read cache layer never second-guesses that decision.
type Cache interface {
	// Insert stores value under key, evicting per the implementation's
	// policy if the cache is at capacity.
	Insert(key string, value []byte)

	// Get returns the cached value and true, or nil and false on a miss.
	// The returned slice must not be mutated by the caller.
	Get(key string) ([]byte, bool)

	// Remove evicts key if present; a no-op otherwise.
	Remove(key string)

	// Contains reports whether key is currently cached, without affecting
	// recency for implementations that track it.
	Contains(key string) bool

	// Len returns the number of cached entries.
	Len() int

	// Close releases any resources held by the cache.
	Close() error
}
