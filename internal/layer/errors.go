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

import (
	"errors"
	"syscall"
)

// errnoError lets a layer attach a specific errno to a wrapped error without
// losing the original cause, replacing the source's thread-local errno
// channel with something errors.As can recover.
type errnoError struct {
	errno syscall.Errno
	cause error
}

func (e *errnoError) Error() string {
	if e.cause != nil {
		return e.cause.Error()
	}
	return e.errno.Error()
}

func (e *errnoError) Unwrap() error { return e.cause }

func (e *errnoError) Errno() syscall.Errno { return e.errno }

// WithErrno wraps err so that Errno(err) recovers the given code. Used by
// layers that re-narrow a downstream error, e.g. the remote layer turning a
// socket error into EIO.
func WithErrno(errno syscall.Errno, err error) error {
	if err == nil {
		return nil
	}
	return &errnoError{errno: errno, cause: err}
}

// Errno recovers the errno a layer attached to err, falling back to
// unwrapping a plain syscall.Errno and finally EIO, mirroring the source's
// "never raise out-of-band, always leave a code behind" rule.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var ee *errnoError
	if errors.As(err, &ee) {
		return ee.errno
	}
	var se syscall.Errno
	if errors.As(err, &se) {
		return se
	}
	return syscall.EIO
}

// ErrXTSTooShort is returned by the encryption layer when a trailing
// partial block is under the 16-byte AES-XTS minimum (spec §4.4).
var ErrXTSTooShort = errors.New("layerfs: buffer too short for a partial XTS block (need >= 16 bytes)")

// ErrIntegrity is returned by the anti-tampering layer when a recomputed
// digest disagrees with the one stored in the hash layer.
var ErrIntegrity = errors.New("layerfs: stored hash does not match data layer content")

// ErrCycle is returned by the builder when a layer's dependency graph
// revisits a layer currently being built.
type ErrCycle struct {
	Layer string
}

func (e *ErrCycle) Error() string {
	return "layerfs: cycle detected while building layer " + e.Layer
}

// ErrUnknownLayer is returned by the builder when a referenced layer name
// has no entry in the configuration.
type ErrUnknownLayer struct {
	Layer string
}

func (e *ErrUnknownLayer) Error() string {
	return "layerfs: unknown layer referenced: " + e.Layer
}
