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

// Package catalog keeps the FileRecord of every stored payload. A payload is
// only reachable through its record, so the catalog is what makes an upload
// visible and what the sweeper walks to expire old files.
package catalog

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when no record has the id.
	ErrNotFound = errors.New("catalog: record not found")
	// ErrConflict is returned by Insert when the id is already taken.
	ErrConflict = errors.New("catalog: record already exists")
)

// FileRecord describes one stored payload. Records are never modified after
// Insert.
type FileRecord struct {
	ID          string    `json:"id"`
	Extension   string    `json:"extension"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	CreatedAt   time.Time `json:"createdAt"`
	Location    string    `json:"-"`
}

// Name is the public file name: the id plus the extension, if any.
func (r *FileRecord) Name() string {
	return r.ID + r.Extension
}

// Catalog defines the interface for record persistence. Implementations are
// safe for concurrent use.
type Catalog interface {
	// Insert stores rec if no record with the same id exists.
	Insert(ctx context.Context, rec *FileRecord) error
	Get(ctx context.Context, id string) (*FileRecord, error)
	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error
	// ListCreatedBefore returns up to limit records created strictly before
	// cutoff, oldest first. limit <= 0 means no limit.
	ListCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*FileRecord, error)
	Close() error
}
