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

package storage_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawa-io/filedrop/pkg/storage"
	"github.com/fawa-io/filedrop/pkg/storage/storagetest"
)

func TestFilesystem(t *testing.T) {
	fs, err := storage.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	storagetest.Run(t, fs)
}

func TestFilesystem_Layout(t *testing.T) {
	root := t.TempDir()
	fs, err := storage.NewFilesystem(root)
	require.NoError(t, err)

	obj, err := fs.Put(context.Background(), "abcdef.png", bytes.NewReader([]byte("png")), 3)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("ab", "abcdef.png"), obj.Location)

	entries, err := os.ReadDir(filepath.Join(root, "ab"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must be gone after publish")
	assert.Equal(t, "abcdef.png", entries[0].Name())
}

func TestFilesystem_FailedPutLeavesNoTemp(t *testing.T) {
	root := t.TempDir()
	fs, err := storage.NewFilesystem(root)
	require.NoError(t, err)

	_, err = fs.Put(context.Background(), "zzzzzz.bin", &failingReader{data: []byte("partial")}, -1)
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "zz"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFilesystem_CancelledPut(t *testing.T) {
	fs, err := storage.NewFilesystem(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fs.Put(ctx, "cancel.bin", bytes.NewReader([]byte("data")), 4)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = fs.Open(context.Background(), filepath.Join("ca", "cancel.bin"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFilesystem_RejectsEscapes(t *testing.T) {
	fs, err := storage.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	testCases := []struct {
		name string
		call func() error
	}{
		{name: "put with slash", call: func() error {
			_, err := fs.Put(ctx, "../evil", bytes.NewReader(nil), 0)
			return err
		}},
		{name: "put dotfile", call: func() error {
			_, err := fs.Put(ctx, ".hidden", bytes.NewReader(nil), 0)
			return err
		}},
		{name: "open parent", call: func() error {
			_, err := fs.Open(ctx, "../../etc/passwd")
			return err
		}},
		{name: "delete absolute", call: func() error {
			return fs.Delete(ctx, "/etc/passwd")
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.call())
		})
	}
}

type failingReader struct {
	data []byte
	done bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.done {
		return 0, errors.New("connection reset")
	}
	f.done = true
	return copy(p, f.data), nil
}
