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
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Catalog on the file_records table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps pool. The pool is owned by the caller.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const recordColumns = `id, extension, content_type, size_bytes, created_at, location`

func (p *Postgres) Insert(ctx context.Context, rec *FileRecord) error {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO file_records (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Extension, rec.ContentType, rec.SizeBytes, rec.CreatedAt, rec.Location,
	)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrConflict, rec.ID)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*FileRecord, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM file_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM file_records WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) ListCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*FileRecord, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM file_records
		 WHERE created_at < $1
		 ORDER BY created_at
		 LIMIT $2`,
		cutoff, lim,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []*FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	return nil
}

func scanRecord(row pgx.Row) (*FileRecord, error) {
	var rec FileRecord
	if err := row.Scan(&rec.ID, &rec.Extension, &rec.ContentType, &rec.SizeBytes, &rec.CreatedAt, &rec.Location); err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}
