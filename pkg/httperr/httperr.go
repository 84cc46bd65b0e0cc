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

// Package httperr writes the JSON error envelope shared by every endpoint:
// {"error": {"code": "...", "message": "..."}}.
package httperr

import (
	"encoding/json"
	"net/http"
)

// Machine readable error codes.
const (
	CodeFileTooLarge     = "FILE_TOO_LARGE"
	CodeTypeNotAllowed   = "TYPE_NOT_ALLOWED"
	CodeNoPayload        = "NO_PAYLOAD"
	CodeNotFound         = "NOT_FOUND"
	CodeInvalidRange     = "INVALID_RANGE"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeInternalError    = "INTERNAL_ERROR"
)

// Body is the envelope, exported so clients and tests can decode it.
type Body struct {
	Error Detail `json:"error"`
}

type Detail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Write sends the envelope with the given status.
func Write(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Body{
		Error: Detail{
			Code:    code,
			Message: message,
		},
	})
}

func BadRequest(w http.ResponseWriter, code, message string) {
	Write(w, http.StatusBadRequest, code, message)
}

func NotFound(w http.ResponseWriter, message string) {
	Write(w, http.StatusNotFound, CodeNotFound, message)
}

// InvalidRange answers 416 and tells the client how large the file is.
func InvalidRange(w http.ResponseWriter, contentRange, message string) {
	w.Header().Set("Content-Range", contentRange)
	Write(w, http.StatusRequestedRangeNotSatisfiable, CodeInvalidRange, message)
}

func MethodNotAllowed(w http.ResponseWriter) {
	Write(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed.")
}

func Internal(w http.ResponseWriter) {
	Write(w, http.StatusInternalServerError, CodeInternalError, "Internal server error.")
}
