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
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fawa-io/filedrop/pkg/fwlog"
	"github.com/fawa-io/filedrop/pkg/httperr"
)

// formField is the multipart field carrying the file.
const formField = "file"

// multipartOverhead is the slack allowed on top of the file size for part
// headers and other form fields.
const multipartOverhead = 1 << 20

// FileServiceHandler serves the public HTTP API.
type FileServiceHandler struct {
	svc *Service
}

func NewFileServiceHandler(svc *Service) *FileServiceHandler {
	return &FileServiceHandler{svc: svc}
}

// Register mounts the upload and download routes on r.
func (h *FileServiceHandler) Register(r chi.Router) {
	r.Post("/upload", h.Upload)
	r.Post("/file", h.Upload)
	for _, pattern := range []string{"/{name}", "/files/{name}", "/file/{name}", "/upload/{name}"} {
		r.Get(pattern, h.Download)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperr.NotFound(w, "File not found.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperr.MethodNotAllowed(w)
	})
}

// Upload handles a multipart upload. Parts are read one at a time and the
// file part is streamed straight into the pipeline, so the form is never
// buffered in memory.
func (h *FileServiceHandler) Upload(w http.ResponseWriter, r *http.Request) {
	limit := h.svc.validator.Policy().MaxSize + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, &ValidationError{Reason: ReasonNoPayload})
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, &ValidationError{Reason: ReasonNoPayload})
			return
		}
		if err != nil {
			writeError(w, bodyError(err))
			return
		}
		if part.FormName() != formField || part.FileName() == "" {
			part.Close()
			continue
		}

		rec, err := h.svc.Upload(r.Context(), Upload{
			Name:        part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Body:        part,
		})
		part.Close()
		if err != nil {
			writeError(w, bodyError(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]string{"fileUrl": h.svc.URL(r, rec)}); err != nil {
			fwlog.Debugf("Failed to write upload response for %s: %v", rec.ID, err)
		}
		return
	}
}

// Download streams a stored file, honouring Range. HEAD is routed here by
// the GetHead middleware.
func (h *FileServiceHandler) Download(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Resolve(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			downloadsTotal.WithLabelValues("not_found").Inc()
		}
		writeError(w, err)
		return
	}
	h.svc.Serve(w, r, rec)
}

// bodyError turns a body that hit the request size cap into TooLarge.
func bodyError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return tooLarge(mbe.Limit - multipartOverhead)
	}
	return err
}

// writeError maps service errors onto the JSON envelope. Internal details
// are logged, never sent.
func writeError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		code := httperr.CodeNoPayload
		switch ve.Reason {
		case ReasonTooLarge:
			code = httperr.CodeFileTooLarge
		case ReasonTypeNotAllowed:
			code = httperr.CodeTypeNotAllowed
		}
		httperr.BadRequest(w, code, ve.Error())
	case errors.Is(err, ErrNotFound):
		httperr.NotFound(w, "File not found.")
	default:
		var se *StorageError
		if errors.As(err, &se) {
			fwlog.Errorf("Storage failure: op=%s id=%s location=%s: %v", se.Op, se.ID, se.Location, se.Err)
		} else {
			fwlog.Errorf("Request failed: %v", err)
		}
		httperr.Internal(w)
	}
}
