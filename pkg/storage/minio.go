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
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fawa-io/filedrop/pkg/fwlog"
)

// MinioConfig holds the connection settings of an S3 compatible store.
type MinioConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	// PartSize is the multipart chunk size; 0 lets minio-go pick one.
	PartSize uint64
}

// Minio stores payloads as objects in a MinIO (or any S3 compatible) bucket.
// Large payloads are sent as multipart uploads, which the server only
// assembles into a visible object once every part arrived.
type Minio struct {
	client   *minio.Client
	bucket   string
	partSize uint64
}

// NewMinio connects to the object store and creates the bucket if missing.
func NewMinio(ctx context.Context, cfg MinioConfig) (*Minio, error) {
	if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.Bucket == "" {
		return nil, errors.New("minio: endpoint, credentials and bucket are required")
	}

	fwlog.Infof("Initializing MinIO storage: endpoint=%s bucket=%s ssl=%v", cfg.Endpoint, cfg.Bucket, cfg.UseSSL)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
		fwlog.Infof("Successfully created MinIO bucket: %s", cfg.Bucket)
	}

	return &Minio{client: client, bucket: cfg.Bucket, partSize: cfg.PartSize}, nil
}

// Put uploads r under name. The name is checked first so an existing object
// is reported as a conflict instead of being replaced.
func (m *Minio) Put(ctx context.Context, name string, r io.Reader, sizeHint int64) (Object, error) {
	if _, err := m.client.StatObject(ctx, m.bucket, name, minio.StatObjectOptions{}); err == nil {
		return Object{}, fmt.Errorf("%w: %s", ErrConflict, name)
	} else if !isNoSuchKey(err) {
		return Object{}, fmt.Errorf("stat %s: %w", name, err)
	}

	info, err := m.client.PutObject(ctx, m.bucket, name, r, sizeHint, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
		PartSize:    m.partSize,
	})
	if err != nil {
		return Object{}, fmt.Errorf("put object %s: %w", name, err)
	}
	return Object{Location: name, Size: info.Size}, nil
}

// Open returns the object reader after a Stat round trip, so a missing key
// surfaces here rather than on the first Read.
func (m *Minio) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, location, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.mapErr(location, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, m.mapErr(location, err)
	}
	return obj, nil
}

func (m *Minio) OpenRange(ctx context.Context, location string, start, end int64) (io.ReadCloser, error) {
	info, err := m.client.StatObject(ctx, m.bucket, location, minio.StatObjectOptions{})
	if err != nil {
		return nil, m.mapErr(location, err)
	}
	end, err = checkRange(start, end, info.Size)
	if err != nil {
		return nil, err
	}

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(start, end); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRangeNotSatisfiable, err)
	}
	obj, err := m.client.GetObject(ctx, m.bucket, location, opts)
	if err != nil {
		return nil, m.mapErr(location, err)
	}
	return obj, nil
}

// Delete removes the object. S3 treats removing a missing key as success.
func (m *Minio) Delete(ctx context.Context, location string) error {
	err := m.client.RemoveObject(ctx, m.bucket, location, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("remove object %s: %w", location, err)
	}
	return nil
}

func (m *Minio) Close() error {
	return nil
}

func (m *Minio) mapErr(location string, err error) error {
	if isNoSuchKey(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	return fmt.Errorf("get object %s: %w", location, err)
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
