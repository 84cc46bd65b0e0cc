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

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/fawa-io/filedrop/pkg/fwlog"
	"github.com/fawa-io/filedrop/pkg/util"
)

// Filesystem stores each payload as a plain file below a root directory.
// Files are sharded into sub-directories named after the first two
// characters of the name to keep directory listings short.
type Filesystem struct {
	root string
}

// NewFilesystem creates the root directory if needed and returns the backend.
func NewFilesystem(root string) (*Filesystem, error) {
	if err := util.EnsureDir(root); err != nil {
		return nil, err
	}
	return &Filesystem{root: root}, nil
}

// Put writes to a temp file, fsyncs it and publishes it with a hard link.
// Linking fails when the target exists, so a name is never overwritten.
func (f *Filesystem) Put(ctx context.Context, name string, r io.Reader, sizeHint int64) (Object, error) {
	location, err := f.locate(name)
	if err != nil {
		return Object{}, err
	}
	full := filepath.Join(f.root, location)
	if err := util.EnsureDir(filepath.Dir(full)); err != nil {
		return Object{}, err
	}

	tmpPath := filepath.Join(filepath.Dir(full), "."+uuid.NewString()+".tmp")
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return Object{}, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if rmErr := util.RemoveQuietly(tmpPath); rmErr != nil {
			fwlog.Warnf("Failed to remove temp file %s: %v", tmpPath, rmErr)
		}
	}()

	size, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		tmp.Close()
		return Object{}, fmt.Errorf("write %s: %w", location, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Object{}, fmt.Errorf("fsync %s: %w", location, err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, fmt.Errorf("close %s: %w", location, err)
	}
	if sizeHint >= 0 && size != sizeHint {
		return Object{}, fmt.Errorf("write %s: got %d bytes, expected %d", location, size, sizeHint)
	}

	if err := os.Link(tmpPath, full); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Object{}, fmt.Errorf("%w: %s", ErrConflict, location)
		}
		return Object{}, fmt.Errorf("publish %s: %w", location, err)
	}
	return Object{Location: location, Size: size}, nil
}

func (f *Filesystem) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	return f.open(location)
}

func (f *Filesystem) OpenRange(ctx context.Context, location string, start, end int64) (io.ReadCloser, error) {
	file, err := f.open(location)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat %s: %w", location, err)
	}
	end, err = checkRange(start, end, info.Size())
	if err != nil {
		file.Close()
		return nil, err
	}
	return &sectionReadCloser{
		SectionReader: io.NewSectionReader(file, start, end-start+1),
		closer:        file,
	}, nil
}

func (f *Filesystem) Delete(ctx context.Context, location string) error {
	full, err := f.resolve(location)
	if err != nil {
		return err
	}
	if err := util.RemoveQuietly(full); err != nil {
		return fmt.Errorf("delete %s: %w", location, err)
	}
	return nil
}

func (f *Filesystem) Close() error {
	return nil
}

func (f *Filesystem) open(location string) (*os.File, error) {
	full, err := f.resolve(location)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return nil, fmt.Errorf("open %s: %w", location, err)
	}
	return file, nil
}

// locate maps a generated name to its sharded relative location.
func (f *Filesystem) locate(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("storage: invalid object name %q", name)
	}
	shard := name
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(shard, name), nil
}

// resolve turns a stored location back into an absolute path, refusing
// anything that would escape the root.
func (f *Filesystem) resolve(location string) (string, error) {
	if !filepath.IsLocal(location) {
		return "", fmt.Errorf("storage: invalid location %q", location)
	}
	return filepath.Join(f.root, location), nil
}

// ctxReader stops a copy as soon as the context is cancelled, so a client
// that hangs up mid-upload does not keep the disk busy.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
