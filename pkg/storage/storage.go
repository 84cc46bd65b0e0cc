// Copyright 2025 The fawa Authors
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

// Package storage persists file payloads. Every variant (local disk, MinIO,
// PostgreSQL) satisfies the same Backend contract, so the upload pipeline and
// the retrieval service never know which one they talk to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNotFound is returned when no object exists at a location.
	ErrNotFound = errors.New("storage: object not found")
	// ErrConflict is returned by Put when the name is already taken.
	ErrConflict = errors.New("storage: object already exists")
	// ErrRangeNotSatisfiable is returned by OpenRange for ranges outside the object.
	ErrRangeNotSatisfiable = errors.New("storage: range not satisfiable")
)

// Object describes a payload that was durably written.
type Object struct {
	// Location is the backend specific locator (path, object key, row key).
	Location string
	// Size is the number of bytes actually persisted.
	Size int64
}

// Backend defines the interface for all payload storage operations.
type Backend interface {
	// Put persists everything read from r under name and returns once the
	// bytes are durable. A failed Put leaves nothing visible at the location.
	// sizeHint is the expected length, or -1 when unknown.
	Put(ctx context.Context, name string, r io.Reader, sizeHint int64) (Object, error)

	// Open returns a reader over the whole object. The caller must close it.
	Open(ctx context.Context, location string) (io.ReadCloser, error)

	// OpenRange returns a reader over bytes start..end inclusive. end is
	// clamped to the last byte of the object.
	OpenRange(ctx context.Context, location string, start, end int64) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, location string) error

	// Close releases clients and connections held by the backend.
	Close() error
}

// checkRange validates a requested range against an object of size bytes
// and returns the clamped end.
func checkRange(start, end, size int64) (int64, error) {
	if start < 0 || start > end || start > size-1 {
		return 0, fmt.Errorf("%w: bytes %d-%d of %d", ErrRangeNotSatisfiable, start, end, size)
	}
	if end > size-1 {
		end = size - 1
	}
	return end, nil
}

// sectionReadCloser serves a window of an io.ReaderAt and closes the
// underlying handle when done.
type sectionReadCloser struct {
	*io.SectionReader
	closer io.Closer
}

func (s *sectionReadCloser) Close() error {
	return s.closer.Close()
}
