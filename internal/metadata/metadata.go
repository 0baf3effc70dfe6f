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

// Package metadata is the key-value service named in spec.md §6's external
// collaborator table (put/get/delete/close over an embedded KV store). It is
// backed by go.etcd.io/bbolt, the one embedded store any pack repo
// (cuemby-warren) reaches for, in a single bucket keyed by the caller's raw
// bytes. cfg.ServicesConfig.Metadata's cache_size fronts bbolt reads with an
// LRU (internal/cacheplugin/lru, the same plug-in the read cache layer
// uses) and threads bounds how many bbolt transactions may be in flight at
// once, since bbolt serializes writers internally but this service is
// expected to field concurrent callers from many layer stacks.
package metadata

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/layerfs/layerfs/internal/cacheplugin"
	"github.com/layerfs/layerfs/internal/cacheplugin/lru"
)

var bucketName = []byte("metadata")

// Config mirrors the services.metadata params table.
type Config struct {
	Path      string `mapstructure:"path"`       // bbolt file path
	CacheSize int    `mapstructure:"cache_size"` // entries kept in the front LRU; 0 disables caching
	Threads   int    `mapstructure:"threads"`    // max concurrent bbolt transactions; 0 means unbounded
}

// Service is the put/get/delete/close KV facade.
type Service struct {
	db    *bolt.DB
	cache cacheplugin.Cache // nil when CacheSize <= 0
	sem   chan struct{}     // nil when Threads <= 0
}

// Open opens (creating if absent) the bbolt file at cfg.Path and ensures the
// metadata bucket exists.
func Open(cfg Config) (*Service, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("metadata: path is required")
	}
	db, err := bolt.Open(cfg.Path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("metadata: opening %s: %w", cfg.Path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("metadata: creating bucket: %w", err)
	}

	s := &Service{db: db}
	if cfg.CacheSize > 0 {
		c, err := lru.New(cfg.CacheSize)
		if err != nil {
			db.Close()
			return nil, err
		}
		s.cache = c
	}
	if cfg.Threads > 0 {
		s.sem = make(chan struct{}, cfg.Threads)
	}
	return s, nil
}

func (s *Service) acquire() {
	if s.sem != nil {
		s.sem <- struct{}{}
	}
}

func (s *Service) release() {
	if s.sem != nil {
		<-s.sem
	}
}

// Put stores value under key and replaces any cached copy with it.
func (s *Service) Put(key, value []byte) error {
	s.acquire()
	defer s.release()

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("metadata: put: %w", err)
	}
	if s.cache != nil {
		s.cache.Insert(string(key), value)
	}
	return nil
}

// Get returns the value stored under key, or ok=false if absent.
func (s *Service) Get(key []byte) (value []byte, ok bool, err error) {
	if s.cache != nil {
		if v, hit := s.cache.Get(string(key)); hit {
			return v, true, nil
		}
	}

	s.acquire()
	defer s.release()

	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v == nil {
			return nil
		}
		value = append([]byte(nil), v...)
		ok = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("metadata: get: %w", err)
	}
	if ok && s.cache != nil {
		s.cache.Insert(string(key), value)
	}
	return value, ok, nil
}

// Delete removes key, a no-op if it isn't present.
func (s *Service) Delete(key []byte) error {
	s.acquire()
	defer s.release()

	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key)
	}); err != nil {
		return fmt.Errorf("metadata: delete: %w", err)
	}
	if s.cache != nil {
		s.cache.Remove(string(key))
	}
	return nil
}

// Close closes the underlying bbolt file and the front cache, if any.
func (s *Service) Close() error {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	return s.db.Close()
}
