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

// Package lru is the reference cacheplugin.Cache implementation: an
// in-process, bounded-by-block-count LRU, the policy spec.md names as the
// reference deployment's eviction plug-in.
package lru

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/layerfs/layerfs/internal/cacheplugin"
)

type cache struct {
	c *lru.Cache[string, []byte]
}

// New returns a cacheplugin.Cache bounded to numBlocks entries. numBlocks
// must be at least 1.
func New(numBlocks int) (cacheplugin.Cache, error) {
	if numBlocks < 1 {
		numBlocks = 1
	}
	c, err := lru.New[string, []byte](numBlocks)
	if err != nil {
		return nil, err
	}
	return &cache{c: c}, nil
}

func (l *cache) Insert(key string, value []byte) {
	buf := make([]byte, len(value))
	copy(buf, value)
	l.c.Add(key, buf)
}

func (l *cache) Get(key string) ([]byte, bool) {
	return l.c.Get(key)
}

func (l *cache) Remove(key string) {
	l.c.Remove(key)
}

func (l *cache) Contains(key string) bool {
	return l.c.Contains(key)
}

func (l *cache) Len() int {
	return l.c.Len()
}

func (l *cache) Close() error {
	l.c.Purge()
	return nil
}
