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

package catalog_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawa-io/filedrop/pkg/catalog"
	"github.com/fawa-io/filedrop/pkg/catalog/catalogtest"
)

type countingCatalog struct {
	catalog.Catalog
	gets int
}

func (c *countingCatalog) Get(ctx context.Context, id string) (*catalog.FileRecord, error) {
	c.gets++
	return c.Catalog.Get(ctx, id)
}

// pausingCatalog holds the first successful Get until release is closed.
type pausingCatalog struct {
	catalog.Catalog
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func (c *pausingCatalog) Get(ctx context.Context, id string) (*catalog.FileRecord, error) {
	rec, err := c.Catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.once.Do(func() {
		close(c.reached)
		<-c.release
	})
	return rec, nil
}

func TestCached(t *testing.T) {
	cached, err := catalog.NewCached(catalog.NewMemory(), 16, time.Minute)
	require.NoError(t, err)
	catalogtest.Run(t, cached)
}

func TestCached_ServesRepeatReadsFromCache(t *testing.T) {
	inner := &countingCatalog{Catalog: catalog.NewMemory()}
	cached, err := catalog.NewCached(inner, 16, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	rec := &catalog.FileRecord{ID: "cachedOne1", SizeBytes: 1, CreatedAt: time.Now()}
	require.NoError(t, cached.Insert(ctx, rec))

	for i := 0; i < 3; i++ {
		got, err := cached.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
	}
	assert.Equal(t, 1, inner.gets)

	require.NoError(t, cached.Delete(ctx, rec.ID))
	_, err = cached.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Equal(t, 2, inner.gets)
}

func TestNewCached_InvalidSize(t *testing.T) {
	_, err := catalog.NewCached(catalog.NewMemory(), 0, time.Minute)
	assert.Error(t, err)
}

func TestCached_EntriesExpire(t *testing.T) {
	inner := &countingCatalog{Catalog: catalog.NewMemory()}
	cached, err := catalog.NewCached(inner, 16, 20*time.Millisecond)
	require.NoError(t, err)
	ctx := context.Background()

	rec := &catalog.FileRecord{ID: "expiring01", SizeBytes: 1, CreatedAt: time.Now()}
	require.NoError(t, cached.Insert(ctx, rec))

	_, err = cached.Get(ctx, rec.ID)
	require.NoError(t, err)
	_, err = cached.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.gets)

	time.Sleep(60 * time.Millisecond)
	_, err = cached.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.gets, "expired entry is read again")
}

func TestCached_GetRacingDeleteDoesNotResurrect(t *testing.T) {
	inner := &pausingCatalog{
		Catalog: catalog.NewMemory(),
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
	cached, err := catalog.NewCached(inner, 16, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	rec := &catalog.FileRecord{ID: "racingOne1", SizeBytes: 1, CreatedAt: time.Now()}
	require.NoError(t, cached.Insert(ctx, rec))

	done := make(chan error, 1)
	go func() {
		_, err := cached.Get(ctx, rec.ID)
		done <- err
	}()
	<-inner.reached
	require.NoError(t, cached.Delete(ctx, rec.ID))
	close(inner.release)
	require.NoError(t, <-done, "the read started before the delete")

	_, err = cached.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
