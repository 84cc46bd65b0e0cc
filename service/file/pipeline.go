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

package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/fawa-io/filedrop/pkg/catalog"
	"github.com/fawa-io/filedrop/pkg/fwlog"
	"github.com/fawa-io/filedrop/pkg/storage"
	"github.com/fawa-io/filedrop/pkg/util"
)

// Upload is one incoming file as the client described it.
type Upload struct {
	// Name is the client supplied file name; only its extension is kept.
	Name        string
	ContentType string
	Body        io.Reader
}

// Upload checks the declared type, stages the body, validates it, stores it
// under a fresh identifier and records it. The record is inserted last, so a
// file is never reachable before its bytes are durable. On any failure
// nothing is left behind.
func (s *Service) Upload(ctx context.Context, in Upload) (rec *catalog.FileRecord, err error) {
	defer func() { uploadsTotal.WithLabelValues(uploadResult(err)).Inc() }()

	if in.Body == nil {
		return nil, &ValidationError{Reason: ReasonNoPayload}
	}
	if err := s.validator.CheckType(in.Name, in.ContentType); err != nil {
		return nil, err
	}

	staged, n, err := s.stage(in.Body)
	if err != nil {
		return nil, err
	}
	defer func() {
		staged.Close()
		if rmErr := util.RemoveQuietly(staged.Name()); rmErr != nil {
			fwlog.Warnf("Failed to remove staged upload %s: %v", staged.Name(), rmErr)
		}
	}()

	if err := s.validator.Validate(in.Name, in.ContentType, n); err != nil {
		return nil, err
	}
	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind staged upload: %w", err)
	}
	contentType, err := s.validator.Sniff(in.ContentType, staged)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ext := Extension(in.Name)
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id, err := s.ids.Generate(s.opts.IDLength)
		if err != nil {
			return nil, fmt.Errorf("generate id: %w", err)
		}
		if _, err := staged.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind staged upload: %w", err)
		}

		obj, err := s.backend.Put(ctx, id+ext, staged, n)
		if errors.Is(err, storage.ErrConflict) {
			idCollisionsTotal.Inc()
			fwlog.Warnf("Identifier %s already stored, retrying (%d/%d)", id, attempt, maxIDAttempts)
			continue
		}
		if err != nil {
			return nil, &StorageError{Op: "put", ID: id, Err: err}
		}

		rec := &catalog.FileRecord{
			ID:          id,
			Extension:   ext,
			ContentType: contentType,
			SizeBytes:   obj.Size,
			CreatedAt:   s.now().UTC(),
			Location:    obj.Location,
		}
		if err := s.catalog.Insert(ctx, rec); err != nil {
			s.discard(ctx, rec)
			if errors.Is(err, catalog.ErrConflict) {
				idCollisionsTotal.Inc()
				fwlog.Warnf("Identifier %s already recorded, retrying (%d/%d)", id, attempt, maxIDAttempts)
				continue
			}
			return nil, &StorageError{Op: "insert", ID: id, Location: obj.Location, Err: err}
		}

		uploadedBytes.Add(float64(rec.SizeBytes))
		fwlog.Infof("File %s stored: %s, %s", rec.Name(), rec.ContentType, humanize.IBytes(uint64(rec.SizeBytes)))
		s.postProcess(ctx, rec)
		return rec, nil
	}
	return nil, ErrStorageConflict
}

// stage copies the body into a temp file, enforcing the size ceiling while
// reading so an oversized upload is cut off early.
func (s *Service) stage(body io.Reader) (*os.File, int64, error) {
	staged, err := os.CreateTemp(s.opts.StagingDir, "upload-*.part")
	if err != nil {
		return nil, 0, fmt.Errorf("create staging file: %w", err)
	}

	n, err := io.Copy(staged, s.validator.LimitReader(body))
	if err != nil {
		staged.Close()
		if rmErr := util.RemoveQuietly(staged.Name()); rmErr != nil {
			fwlog.Warnf("Failed to remove staged upload %s: %v", staged.Name(), rmErr)
		}
		var ve *ValidationError
		if errors.As(err, &ve) {
			return nil, 0, ve
		}
		return nil, 0, fmt.Errorf("receive upload: %w", err)
	}
	return staged, n, nil
}

// discard deletes bytes whose record could not be written. It must run even
// when the client is gone, so it ignores ctx cancellation.
func (s *Service) discard(ctx context.Context, rec *catalog.FileRecord) {
	if err := s.backend.Delete(context.WithoutCancel(ctx), rec.Location); err != nil {
		fwlog.Errorf("Failed to discard unrecorded payload %s at %s: %v", rec.ID, rec.Location, err)
	}
}

func (s *Service) postProcess(ctx context.Context, rec *catalog.FileRecord) {
	if s.opts.PostProcess == nil {
		return
	}
	cp := *rec
	go func() {
		defer func() {
			if r := recover(); r != nil {
				fwlog.Errorf("Post-processing of %s panicked: %v", cp.ID, r)
			}
		}()
		s.opts.PostProcess(context.WithoutCancel(ctx), &cp)
	}()
}
