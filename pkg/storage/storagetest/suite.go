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

// Package storagetest holds the behaviour every storage.Backend must show.
package storagetest

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawa-io/filedrop/pkg/storage"
	"github.com/fawa-io/filedrop/pkg/util"
)

// Run exercises b against the Backend contract.
func Run(t *testing.T, b storage.Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		payload := bytes.Repeat([]byte("0123456789"), 10_000)
		obj, err := b.Put(ctx, newName(t), bytes.NewReader(payload), int64(len(payload)))
		require.NoError(t, err)
		assert.Equal(t, int64(len(payload)), obj.Size)

		rc, err := b.Open(ctx, obj.Location)
		assert.Equal(t, payload, readAll(t, rc, err))
	})

	t.Run("unknown size", func(t *testing.T) {
		payload := []byte("streamed without a length")
		obj, err := b.Put(ctx, newName(t), bytes.NewReader(payload), -1)
		require.NoError(t, err)
		assert.Equal(t, int64(len(payload)), obj.Size)
	})

	t.Run("name taken", func(t *testing.T) {
		name := newName(t)
		obj, err := b.Put(ctx, name, bytes.NewReader([]byte("first")), 5)
		require.NoError(t, err)

		_, err = b.Put(ctx, name, bytes.NewReader([]byte("second")), 6)
		assert.ErrorIs(t, err, storage.ErrConflict)
		rc, err := b.Open(ctx, obj.Location)
		assert.Equal(t, []byte("first"), readAll(t, rc, err))
	})

	t.Run("short body leaves nothing", func(t *testing.T) {
		name := newName(t)
		_, err := b.Put(ctx, name, bytes.NewReader([]byte("short")), 100)
		require.Error(t, err)

		_, err = b.Put(ctx, name, bytes.NewReader([]byte("retry")), 5)
		assert.NoError(t, err, "failed put must not reserve the name")
	})

	t.Run("missing object", func(t *testing.T) {
		_, err := b.Open(ctx, missingLocation(t, b))
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ranges", func(t *testing.T) {
		payload := []byte("0123456789")
		obj, err := b.Put(ctx, newName(t), bytes.NewReader(payload), int64(len(payload)))
		require.NoError(t, err)

		testCases := []struct {
			name       string
			start, end int64
			want       string
			wantErr    error
		}{
			{name: "whole", start: 0, end: 9, want: "0123456789"},
			{name: "middle", start: 3, end: 5, want: "345"},
			{name: "single byte", start: 9, end: 9, want: "9"},
			{name: "end clamped", start: 7, end: 1000, want: "789"},
			{name: "start at size", start: 10, end: 12, wantErr: storage.ErrRangeNotSatisfiable},
			{name: "start after end", start: 5, end: 4, wantErr: storage.ErrRangeNotSatisfiable},
			{name: "negative start", start: -1, end: 4, wantErr: storage.ErrRangeNotSatisfiable},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				rc, err := b.OpenRange(ctx, obj.Location, tc.start, tc.end)
				if tc.wantErr != nil {
					assert.ErrorIs(t, err, tc.wantErr)
					return
				}
				assert.Equal(t, tc.want, string(readAll(t, rc, err)))
			})
		}
	})

	t.Run("delete during read", func(t *testing.T) {
		payload := bytes.Repeat([]byte("abcdefghij"), 10_000)
		obj, err := b.Put(ctx, newName(t), bytes.NewReader(payload), int64(len(payload)))
		require.NoError(t, err)

		rc, err := b.Open(ctx, obj.Location)
		require.NoError(t, err)
		defer rc.Close()
		head := make([]byte, 10)
		_, err = io.ReadFull(rc, head)
		require.NoError(t, err)

		require.NoError(t, b.Delete(ctx, obj.Location))

		rest, err := io.ReadAll(rc)
		require.NoError(t, err, "an open reader must finish after the object is deleted")
		assert.Equal(t, payload, append(head, rest...))

		_, err = b.Open(ctx, obj.Location)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("delete twice", func(t *testing.T) {
		obj, err := b.Put(ctx, newName(t), bytes.NewReader([]byte("gone soon")), 9)
		require.NoError(t, err)

		require.NoError(t, b.Delete(ctx, obj.Location))
		require.NoError(t, b.Delete(ctx, obj.Location))

		_, err = b.Open(ctx, obj.Location)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func newName(t *testing.T) string {
	t.Helper()
	id, err := util.NewIDGenerator().Generate(12)
	require.NoError(t, err)
	return id + ".bin"
}

// missingLocation writes and deletes an object so the location has the
// backend's own shape but points at nothing.
func missingLocation(t *testing.T, b storage.Backend) string {
	t.Helper()
	ctx := context.Background()
	obj, err := b.Put(ctx, newName(t), bytes.NewReader([]byte("x")), 1)
	require.NoError(t, err)
	require.NoError(t, b.Delete(ctx, obj.Location))
	return obj.Location
}

func readAll(t *testing.T, rc io.ReadCloser, err error) []byte {
	t.Helper()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}
