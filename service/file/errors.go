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
	"errors"
	"fmt"
)

// Reason tells apart the ways an upload can be refused.
type Reason int

const (
	ReasonTooLarge Reason = iota + 1
	ReasonTypeNotAllowed
	ReasonNoPayload
)

func (r Reason) String() string {
	switch r {
	case ReasonTooLarge:
		return "TooLarge"
	case ReasonTypeNotAllowed:
		return "TypeNotAllowed"
	case ReasonNoPayload:
		return "NoPayload"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// ValidationError is a client caused rejection. Its message is safe to show.
type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	switch e.Reason {
	case ReasonTooLarge:
		return "File is too large."
	case ReasonTypeNotAllowed:
		return "File type is not allowed."
	case ReasonNoPayload:
		return "No file uploaded."
	default:
		return "Invalid upload."
	}
}

// IsReason reports whether err is a ValidationError with reason r.
func IsReason(err error, r Reason) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Reason == r
}

var (
	// ErrNotFound is returned when no record, or no payload, exists for a name.
	ErrNotFound = errors.New("file not found")
	// ErrStorageConflict is returned when every generated id was already taken.
	ErrStorageConflict = errors.New("could not allocate a free identifier")
)

// StorageError wraps a backend or catalog failure with enough context to
// find the object it concerned.
type StorageError struct {
	Op       string
	ID       string
	Location string
	Err      error
}

func (e *StorageError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.ID, e.Location, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
