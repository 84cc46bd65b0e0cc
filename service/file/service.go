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

// Package file implements the upload pipeline, the range aware retrieval
// path and the administrative delete, plus their HTTP and RPC surfaces.
package file

import (
	"context"
	"time"

	"github.com/fawa-io/filedrop/pkg/catalog"
	"github.com/fawa-io/filedrop/pkg/storage"
	"github.com/fawa-io/filedrop/pkg/util"
)

const (
	// DefaultIDLength is the length of generated identifiers.
	DefaultIDLength = 10
	// maxIDAttempts bounds how often a taken identifier is regenerated.
	maxIDAttempts = 5
	// chunkSize is the read size used when streaming payloads out.
	chunkSize = 64 << 10
)

// Options configures a Service.
type Options struct {
	IDLength int
	// StagingDir holds uploads until they are validated. Empty means os.TempDir().
	StagingDir string
	// BaseURL is the public origin used in file URLs. Empty derives it from
	// the request.
	BaseURL string
	// PostProcess, when set, runs in the background after a successful
	// upload. It cannot affect the upload result.
	PostProcess func(ctx context.Context, rec *catalog.FileRecord)
}

// Service ties the storage backend, the catalog and the validator together.
type Service struct {
	backend   storage.Backend
	catalog   catalog.Catalog
	validator *Validator
	ids       idGenerator
	opts      Options
	now       func() time.Time
}

type idGenerator interface {
	Generate(n int) (string, error)
}

func NewService(backend storage.Backend, cat catalog.Catalog, validator *Validator, opts Options) *Service {
	if opts.IDLength == 0 {
		opts.IDLength = DefaultIDLength
	}
	return &Service{
		backend:   backend,
		catalog:   cat,
		validator: validator,
		ids:       util.NewIDGenerator(),
		opts:      opts,
		now:       time.Now,
	}
}

// Validator exposes the validator so its policy can be reloaded.
func (s *Service) Validator() *Validator {
	return s.validator
}
