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
	"net/http"
	"strconv"
	"strings"

	"github.com/fawa-io/filedrop/pkg/catalog"
	"github.com/fawa-io/filedrop/pkg/fwlog"
	"github.com/fawa-io/filedrop/pkg/httperr"
	"github.com/fawa-io/filedrop/pkg/storage"
	"github.com/fawa-io/filedrop/pkg/util"
)

// Resolve finds the record for a public name, "<id>" or "<id><ext>". When an
// extension is given it must be the one the file was stored with.
func (s *Service) Resolve(ctx context.Context, name string) (*catalog.FileRecord, error) {
	id, ext, _ := strings.Cut(name, ".")
	if len(id) < util.MinIDLength || strings.Trim(id, util.Alphabet) != "" {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	rec, err := s.catalog.Get(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, &StorageError{Op: "lookup", ID: id, Err: err}
	}
	if strings.Contains(name, ".") && !strings.EqualFold("."+ext, rec.Extension) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return rec, nil
}

// Serve writes rec to w, honouring a single byte range. The first chunk is
// read before any header goes out, so a backend failure there still becomes
// a clean 500. Once bytes are flushed a failure can only cut the response.
func (s *Service) Serve(w http.ResponseWriter, r *http.Request, rec *catalog.FileRecord) {
	ctx := r.Context()
	size := rec.SizeBytes

	var (
		body   io.ReadCloser
		err    error
		status = http.StatusOK
		length = size
		kind   = "full"
	)
	if header := r.Header.Get("Range"); header != "" {
		start, end, perr := ParseRange(header, size)
		if perr != nil {
			downloadsTotal.WithLabelValues("invalid_range").Inc()
			httperr.InvalidRange(w, fmt.Sprintf("bytes */%d", size), "Requested range not satisfiable.")
			return
		}
		body, err = s.backend.OpenRange(ctx, rec.Location, start, end)
		status, length, kind = http.StatusPartialContent, end-start+1, "range"
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	} else {
		body, err = s.backend.Open(ctx, rec.Location)
	}
	if err != nil {
		w.Header().Del("Content-Range")
		s.openFailed(w, rec, err)
		return
	}
	defer body.Close()

	buf := make([]byte, chunkSize)
	n, rerr := io.ReadFull(body, buf[:min(int64(len(buf)), length)])
	if rerr != nil && !errors.Is(rerr, io.EOF) && !errors.Is(rerr, io.ErrUnexpectedEOF) {
		w.Header().Del("Content-Range")
		downloadsTotal.WithLabelValues("error").Inc()
		fwlog.Errorf("Failed to read %s at %s: %v", rec.ID, rec.Location, rerr)
		httperr.Internal(w)
		return
	}

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentTypeOf(rec))
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	downloadsTotal.WithLabelValues(kind).Inc()

	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(buf[:n]); err != nil {
		fwlog.Debugf("Client went away while receiving %s: %v", rec.ID, err)
		return
	}
	if int64(n) == length {
		return
	}

	copied, err := io.CopyBuffer(w, io.LimitReader(body, length-int64(n)), buf)
	if err != nil || int64(n)+copied != length {
		// Headers are gone; net/http closes the connection on a short body.
		fwlog.Warnf("Stream of %s stopped after %d of %d bytes: %v", rec.ID, int64(n)+copied, length, err)
	}
}

func (s *Service) openFailed(w http.ResponseWriter, rec *catalog.FileRecord, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// The record outlived its bytes, e.g. a sweep that stopped halfway.
		downloadsTotal.WithLabelValues("not_found").Inc()
		fwlog.Warnf("Record %s has no payload at %s", rec.ID, rec.Location)
		httperr.NotFound(w, "File not found.")
	case errors.Is(err, storage.ErrRangeNotSatisfiable):
		downloadsTotal.WithLabelValues("invalid_range").Inc()
		httperr.InvalidRange(w, fmt.Sprintf("bytes */%d", rec.SizeBytes), "Requested range not satisfiable.")
	default:
		downloadsTotal.WithLabelValues("error").Inc()
		fwlog.Errorf("Failed to open %s at %s: %v", rec.ID, rec.Location, err)
		httperr.Internal(w)
	}
}

// Remove deletes a file by id: payload first, then the record. When the
// payload cannot be deleted the record stays so a later attempt can retry.
// Removing an unknown id succeeds.
func (s *Service) Remove(ctx context.Context, id string) error {
	rec, err := s.catalog.Get(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		removalsTotal.WithLabelValues("absent").Inc()
		return nil
	}
	if err != nil {
		removalsTotal.WithLabelValues("error").Inc()
		return &StorageError{Op: "lookup", ID: id, Err: err}
	}
	return s.RemoveRecord(ctx, rec)
}

// RemoveRecord is Remove for a record the caller already holds.
func (s *Service) RemoveRecord(ctx context.Context, rec *catalog.FileRecord) error {
	if err := s.backend.Delete(ctx, rec.Location); err != nil {
		removalsTotal.WithLabelValues("error").Inc()
		return &StorageError{Op: "delete payload", ID: rec.ID, Location: rec.Location, Err: err}
	}
	if err := s.catalog.Delete(ctx, rec.ID); err != nil {
		removalsTotal.WithLabelValues("error").Inc()
		return &StorageError{Op: "delete record", ID: rec.ID, Location: rec.Location, Err: err}
	}
	removalsTotal.WithLabelValues("ok").Inc()
	return nil
}

// URL builds the public address of rec. Without a configured base URL the
// origin is taken from the request, honouring X-Forwarded-Proto.
func (s *Service) URL(r *http.Request, rec *catalog.FileRecord) string {
	base := s.opts.BaseURL
	if base == "" && r != nil {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
		}
		base = scheme + "://" + r.Host
	}
	return strings.TrimRight(base, "/") + "/" + rec.Name()
}

func contentTypeOf(rec *catalog.FileRecord) string {
	if rec.ContentType == "" {
		return "application/octet-stream"
	}
	return rec.ContentType
}

// openError maps a backend open failure for a known record.
func openError(id, location string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		fwlog.Warnf("Record %s has no payload at %s", id, location)
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &StorageError{Op: "open", ID: id, Location: location, Err: err}
}
