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

// Package catalogtest holds the behaviour every catalog.Catalog must show.
package catalogtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawa-io/filedrop/pkg/catalog"
	"github.com/fawa-io/filedrop/pkg/util"
)

// Run exercises c against the Catalog contract. c must start empty.
func Run(t *testing.T, c catalog.Catalog) {
	t.Helper()
	ctx := context.Background()

	t.Run("insert and get", func(t *testing.T) {
		rec := newRecord(t, time.Now())
		require.NoError(t, c.Insert(ctx, rec))

		got, err := c.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, rec.Extension, got.Extension)
		assert.Equal(t, rec.ContentType, got.ContentType)
		assert.Equal(t, rec.SizeBytes, got.SizeBytes)
		assert.Equal(t, rec.Location, got.Location)
		assert.WithinDuration(t, rec.CreatedAt, got.CreatedAt, time.Millisecond)
	})

	t.Run("duplicate id", func(t *testing.T) {
		rec := newRecord(t, time.Now())
		require.NoError(t, c.Insert(ctx, rec))

		other := *rec
		other.Location = "elsewhere"
		assert.ErrorIs(t, c.Insert(ctx, &other), catalog.ErrConflict)

		got, err := c.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.Location, got.Location)
	})

	t.Run("concurrent inserts of one id", func(t *testing.T) {
		rec := newRecord(t, time.Now())
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				cp := *rec
				if err := c.Insert(ctx, &cp); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := c.Get(ctx, "doesNotExist")
		assert.ErrorIs(t, err, catalog.ErrNotFound)
	})

	t.Run("delete twice", func(t *testing.T) {
		rec := newRecord(t, time.Now())
		require.NoError(t, c.Insert(ctx, rec))

		require.NoError(t, c.Delete(ctx, rec.ID))
		require.NoError(t, c.Delete(ctx, rec.ID))

		_, err := c.Get(ctx, rec.ID)
		assert.ErrorIs(t, err, catalog.ErrNotFound)
	})

	t.Run("list created before", func(t *testing.T) {
		base := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
		oldest := newRecord(t, base)
		older := newRecord(t, base.Add(time.Hour))
		recent := newRecord(t, base.Add(48*time.Hour))
		for _, rec := range []*catalog.FileRecord{recent, oldest, older} {
			require.NoError(t, c.Insert(ctx, rec))
		}

		got, err := c.ListCreatedBefore(ctx, base.Add(24*time.Hour), 0)
		require.NoError(t, err)
		assert.Equal(t, []string{oldest.ID, older.ID}, ids(got))

		got, err = c.ListCreatedBefore(ctx, base.Add(24*time.Hour), 1)
		require.NoError(t, err)
		assert.Equal(t, []string{oldest.ID}, ids(got))

		got, err = c.ListCreatedBefore(ctx, base, 0)
		require.NoError(t, err)
		assert.Empty(t, got, "cutoff is exclusive")

		for _, rec := range []*catalog.FileRecord{recent, oldest, older} {
			require.NoError(t, c.Delete(ctx, rec.ID))
		}
	})
}

func newRecord(t *testing.T, createdAt time.Time) *catalog.FileRecord {
	t.Helper()
	id, err := util.NewIDGenerator().Generate(10)
	require.NoError(t, err)
	return &catalog.FileRecord{
		ID:          id,
		Extension:   ".txt",
		ContentType: "text/plain",
		SizeBytes:   42,
		CreatedAt:   createdAt.UTC().Truncate(time.Microsecond),
		Location:    id[:2] + "/" + id + ".txt",
	}
}

func ids(recs []*catalog.FileRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
