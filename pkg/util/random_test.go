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
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	g := NewIDGenerator()
	for _, n := range []int{5, 10, 32} {
		id, err := g.Generate(n)
		require.NoError(t, err)
		assert.Len(t, id, n)
		for _, c := range id {
			assert.True(t, strings.ContainsRune(Alphabet, c), "unexpected rune %q", c)
		}
	}
}

func TestGenerateTooShort(t *testing.T) {
	_, err := NewIDGenerator().Generate(4)
	assert.ErrorIs(t, err, ErrIDTooShort)
}

func TestGenerateUnique(t *testing.T) {
	g := NewIDGenerator()
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id, err := g.Generate(10)
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestGenerateRejectsBiasedBytes(t *testing.T) {
	// 0xff and 0xf8 are above the unbiased ceiling and must be skipped.
	src := bytes.NewReader([]byte{0xff, 0, 0xf8, 1, 2, 3, 61, 0, 0, 0, 0, 0, 0, 0, 0})
	g := &IDGenerator{rand: src}
	id, err := g.Generate(5)
	require.NoError(t, err)
	assert.Equal(t, "abcd9", id)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestGenerateSourceFailure(t *testing.T) {
	g := &IDGenerator{rand: failingReader{}}
	_, err := g.Generate(8)
	assert.Error(t, err)
}
