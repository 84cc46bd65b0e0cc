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

package util

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// Alphabet is the base62 set file identifiers are drawn from.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// MinIDLength is the shortest identifier the generator hands out.
const MinIDLength = 5

// ErrIDTooShort is returned when an identifier shorter than MinIDLength is requested.
var ErrIDTooShort = errors.New("identifier length below minimum")

// 62*4 = 248; bytes at or above it are rejected so every symbol is equally likely.
const maxUnbiased = 256 - 256%len(Alphabet)

// IDGenerator produces URL-safe random identifiers. Identifiers are the only
// thing standing between an unlisted file and a stranger, so the source
// must be cryptographically secure.
type IDGenerator struct {
	rand io.Reader
}

// NewIDGenerator returns a generator backed by crypto/rand.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{rand: rand.Reader}
}

// Generate returns a random base62 token of n characters.
func (g *IDGenerator) Generate(n int) (string, error) {
	if n < MinIDLength {
		return "", fmt.Errorf("%w: %d < %d", ErrIDTooShort, n, MinIDLength)
	}

	out := make([]byte, 0, n)
	buf := make([]byte, n+n/2)
	for len(out) < n {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", fmt.Errorf("read random source: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
