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

package retention

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawa-io/filedrop/pkg/catalog"
	"github.com/fawa-io/filedrop/pkg/storage"
	"github.com/fawa-io/filedrop/service/file"
)

var now = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

// catalogRemover drops records straight from the catalog, failing for ids
// listed in fail.
type catalogRemover struct {
	cat *catalog.Memory

	mu    sync.Mutex
	fail  map[string]bool
	calls int
}

func (r *catalogRemover) RemoveRecord(ctx context.Context, rec *catalog.FileRecord) error {
	r.mu.Lock()
	r.calls++
	fail := r.fail[rec.ID]
	r.mu.Unlock()
	if fail {
		return errors.New("payload delete failed")
	}
	return r.cat.Delete(ctx, rec.ID)
}

func seed(t *testing.T, cat *catalog.Memory, ages ...time.Duration) []string {
	t.Helper()
	ids := make([]string, 0, len(ages))
	for i, age := range ages {
		id := fmt.Sprintf("rec%07d", i)
		require.NoError(t, cat.Insert(context.Background(), &catalog.FileRecord{
			ID:        id,
			Extension: ".txt",
			SizeBytes: 1,
			CreatedAt: now.Add(-age),
			Location:  id + ".txt",
		}))
		ids = append(ids, id)
	}
	return ids
}

func newTestSweeper(cat *catalog.Memory, remover Remover) *Sweeper {
	s := NewSweeper(cat, remover, 24*time.Hour, time.Hour)
	s.now = func() time.Time { return now }
	return s
}

func remaining(t *testing.T, cat *catalog.Memory) int {
	t.Helper()
	all, err := cat.ListCreatedBefore(context.Background(), now.Add(time.Hour), 0)
	require.NoError(t, err)
	return len(all)
}

func TestRunOnce_RemovesExpired(t *testing.T) {
	cat := catalog.NewMemory()
	ids := seed(t, cat, 48*time.Hour, 25*time.Hour, 24*time.Hour, time.Hour)
	s := newTestSweeper(cat, &catalogRemover{cat: cat})

	res := s.RunOnce(context.Background())
	assert.Equal(t, 2, res.Removed)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, now.Add(-24*time.Hour), res.Cutoff)

	for i, id := range ids {
		_, err := cat.Get(context.Background(), id)
		if i < 2 {
			assert.ErrorIs(t, err, catalog.ErrNotFound, id)
		} else {
			assert.NoError(t, err, "%s is not older than the period", id)
		}
	}
}

func TestRunOnce_FailedRemovalIsRetried(t *testing.T) {
	cat := catalog.NewMemory()
	ids := seed(t, cat, 72*time.Hour, 48*time.Hour)
	remover := &catalogRemover{cat: cat, fail: map[string]bool{ids[0]: true}}
	s := newTestSweeper(cat, remover)

	res := s.RunOnce(context.Background())
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 1, res.Failed)
	_, err := cat.Get(context.Background(), ids[0])
	require.NoError(t, err, "a failed removal keeps the record")

	remover.fail = nil
	res = s.RunOnce(context.Background())
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 0, remaining(t, cat))
}

func TestRunOnce_Batches(t *testing.T) {
	cat := catalog.NewMemory()
	seed(t, cat, 30*time.Hour, 31*time.Hour, 32*time.Hour, 33*time.Hour, 34*time.Hour)
	s := newTestSweeper(cat, &catalogRemover{cat: cat})
	s.batchSize = 2

	res := s.RunOnce(context.Background())
	assert.Equal(t, 5, res.Removed)
	assert.Equal(t, 0, remaining(t, cat))
}

// staleLister hides index entries that have lost their record, dropping
// them from the catalog the first time they are listed.
type staleLister struct {
	cat   *catalog.Memory
	stale map[string]bool
}

func (l *staleLister) ListCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*catalog.FileRecord, error) {
	batch, err := l.cat.ListCreatedBefore(ctx, cutoff, limit)
	if err != nil {
		return nil, err
	}
	live := batch[:0]
	for _, rec := range batch {
		if l.stale[rec.ID] {
			if err := l.cat.Delete(ctx, rec.ID); err != nil {
				return nil, err
			}
			continue
		}
		live = append(live, rec)
	}
	return live, nil
}

func TestRunOnce_ShortBatchDoesNotEndSweep(t *testing.T) {
	cat := catalog.NewMemory()
	ids := seed(t, cat, 34*time.Hour, 33*time.Hour, 32*time.Hour, 31*time.Hour)
	s := NewSweeper(&staleLister{cat: cat, stale: map[string]bool{ids[0]: true}}, &catalogRemover{cat: cat}, 24*time.Hour, time.Hour)
	s.now = func() time.Time { return now }
	s.batchSize = 2

	res := s.RunOnce(context.Background())
	assert.Equal(t, 3, res.Removed)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 0, remaining(t, cat))
}

func TestRunOnce_StopsWhenNothingCanBeRemoved(t *testing.T) {
	cat := catalog.NewMemory()
	ids := seed(t, cat, 30*time.Hour, 31*time.Hour, 32*time.Hour)
	fail := make(map[string]bool)
	for _, id := range ids {
		fail[id] = true
	}
	remover := &catalogRemover{cat: cat, fail: fail}
	s := newTestSweeper(cat, remover)
	s.batchSize = 2

	res := s.RunOnce(context.Background())
	assert.Equal(t, 0, res.Removed)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, remover.calls)
	assert.Equal(t, 3, remaining(t, cat))
}

func TestRun_Disabled(t *testing.T) {
	cat := catalog.NewMemory()
	s := NewSweeper(cat, &catalogRemover{cat: cat}, 0, time.Hour)
	assert.False(t, s.Enabled())
	assert.NoError(t, s.Run(context.Background()))
}

func TestRun_StopsOnCancel(t *testing.T) {
	cat := catalog.NewMemory()
	seed(t, cat, 48*time.Hour)
	s := newTestSweeper(cat, &catalogRemover{cat: cat})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := cat.Get(context.Background(), "rec0000000")
		return errors.Is(err, catalog.ErrNotFound)
	}, 5*time.Second, 10*time.Millisecond, "first sweep runs at start")
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRunOnce_RemovesPayloadAndRecord(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	cat := catalog.NewMemory()
	svc := file.NewService(backend, cat, file.NewValidator(file.Policy{}), file.Options{StagingDir: t.TempDir()})

	rec, err := svc.Upload(ctx, file.Upload{Name: "old.txt", Body: strings.NewReader("stale")})
	require.NoError(t, err)

	s := NewSweeper(cat, svc, 24*time.Hour, time.Hour)
	s.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	res := s.RunOnce(ctx)
	assert.Equal(t, 1, res.Removed)

	_, err = cat.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = backend.Open(ctx, rec.Location)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = svc.Resolve(ctx, rec.Name())
	assert.ErrorIs(t, err, file.ErrNotFound)
}
