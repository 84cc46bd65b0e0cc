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

package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is a process local catalog. Records are lost on restart, so it is
// meant for tests and single node setups that accept that.
type Memory struct {
	mu      sync.RWMutex
	records map[string]FileRecord
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]FileRecord)}
}

func (m *Memory) Insert(_ context.Context, rec *FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrConflict, rec.ID)
	}
	m.records[rec.ID] = *rec
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &rec, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListCreatedBefore(_ context.Context, cutoff time.Time, limit int) ([]*FileRecord, error) {
	m.mu.RLock()
	out := make([]*FileRecord, 0)
	for _, rec := range m.records {
		if rec.CreatedAt.Before(cutoff) {
			rec := rec
			out = append(out, &rec)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
