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
	"strconv"
	"strings"
)

// ErrInvalidRange is returned for Range headers that cannot be served.
var ErrInvalidRange = errors.New("range not satisfiable")

// ParseRange reads a single "bytes=<start>-<end?>" range against a file of
// size bytes and returns the inclusive bounds, end clamped to size-1.
// Suffix ranges ("bytes=-N"), multiple ranges and other units are refused.
func ParseRange(header string, size int64) (start, end int64, err error) {
	unit, spec, ok := strings.Cut(strings.TrimSpace(header), "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(unit), "bytes") {
		return 0, 0, ErrInvalidRange
	}
	if strings.Contains(spec, ",") {
		return 0, 0, ErrInvalidRange
	}

	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return 0, 0, ErrInvalidRange
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	start, ok = parseOffset(first)
	if !ok {
		return 0, 0, ErrInvalidRange
	}
	if last == "" {
		end = size - 1
	} else if end, ok = parseOffset(last); !ok {
		return 0, 0, ErrInvalidRange
	}

	if start > end || start >= size {
		return 0, 0, ErrInvalidRange
	}
	if end > size-1 {
		end = size - 1
	}
	return start, end, nil
}

// parseOffset accepts plain decimal digits only; signs and spaces are not
// part of the Range grammar.
func parseOffset(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}
