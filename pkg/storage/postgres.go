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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultChunkSize is the size of one blob_chunks row.
const DefaultChunkSize = 256 << 10

// Postgres keeps payloads inside the database, split into fixed size
// chunks. A payload is written in a single transaction, so it either
// appears complete or not at all. The schema lives in pkg/db/migrations.
type Postgres struct {
	pool      *pgxpool.Pool
	chunkSize int
}

// NewPostgres returns a backend on top of pool. The pool is owned by the
// caller and is not closed by Close.
func NewPostgres(pool *pgxpool.Pool, chunkSize int) *Postgres {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Postgres{pool: pool, chunkSize: chunkSize}
}

func (p *Postgres) Put(ctx context.Context, name string, r io.Reader, sizeHint int64) (Object, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Object{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	tag, err := tx.Exec(ctx,
		`INSERT INTO blobs (location, chunk_size) VALUES ($1, $2)
		 ON CONFLICT (location) DO NOTHING`,
		name, p.chunkSize,
	)
	if err != nil {
		return Object{}, fmt.Errorf("insert blob %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return Object{}, fmt.Errorf("%w: %s", ErrConflict, name)
	}

	var (
		seq  int32
		size int64
		buf  = make([]byte, p.chunkSize)
	)
	next := func() ([]any, error) {
		n, err := io.ReadFull(r, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		row := []any{name, seq, data}
		seq++
		size += int64(n)
		return row, nil
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"blob_chunks"},
		[]string{"location", "seq", "data"},
		pgx.CopyFromFunc(next),
	); err != nil {
		return Object{}, fmt.Errorf("copy chunks of %s: %w", name, err)
	}
	if sizeHint >= 0 && size != sizeHint {
		return Object{}, fmt.Errorf("write %s: got %d bytes, expected %d", name, size, sizeHint)
	}

	if _, err := tx.Exec(ctx, `UPDATE blobs SET size_bytes = $2 WHERE location = $1`, name, size); err != nil {
		return Object{}, fmt.Errorf("finalize blob %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Object{}, fmt.Errorf("commit blob %s: %w", name, err)
	}
	return Object{Location: name, Size: size}, nil
}

func (p *Postgres) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	tx, size, _, err := p.begin(ctx, location)
	if err != nil {
		return nil, err
	}
	return &chunkReader{
		ctx:       ctx,
		tx:        tx,
		location:  location,
		remaining: size,
	}, nil
}

func (p *Postgres) OpenRange(ctx context.Context, location string, start, end int64) (io.ReadCloser, error) {
	tx, size, chunkSize, err := p.begin(ctx, location)
	if err != nil {
		return nil, err
	}
	end, err = checkRange(start, end, size)
	if err != nil {
		tx.Rollback(ctx) //nolint:errcheck // read-only
		return nil, err
	}
	return &chunkReader{
		ctx:       ctx,
		tx:        tx,
		location:  location,
		seq:       int32(start / int64(chunkSize)),
		skip:      int(start % int64(chunkSize)),
		remaining: end - start + 1,
	}, nil
}

// begin opens the snapshot a reader works from. Every chunk is read inside
// it, so a concurrent Delete cannot cut a read short.
func (p *Postgres) begin(ctx context.Context, location string) (pgx.Tx, int64, int, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, 0, 0, fmt.Errorf("begin read of %s: %w", location, err)
	}
	size, chunkSize, err := stat(ctx, tx, location)
	if err != nil {
		tx.Rollback(ctx) //nolint:errcheck // read-only
		return nil, 0, 0, err
	}
	return tx, size, chunkSize, nil
}

// Delete removes the blob row; chunks go with it through ON DELETE CASCADE.
func (p *Postgres) Delete(ctx context.Context, location string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM blobs WHERE location = $1`, location); err != nil {
		return fmt.Errorf("delete blob %s: %w", location, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return nil
}

func stat(ctx context.Context, q pgx.Tx, location string) (size int64, chunkSize int, err error) {
	err = q.QueryRow(ctx,
		`SELECT size_bytes, chunk_size FROM blobs WHERE location = $1`,
		location,
	).Scan(&size, &chunkSize)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("stat blob %s: %w", location, err)
	}
	return size, chunkSize, nil
}

// chunkReader fetches one chunk per query as the consumer asks for more,
// so a slow client never makes the server hold more than one chunk. The
// transaction is held until Close.
type chunkReader struct {
	ctx       context.Context
	tx        pgx.Tx
	location  string
	seq       int32
	skip      int
	remaining int64
	cur       []byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		return 0, io.EOF
	}
	if len(c.cur) == 0 {
		if err := c.fetch(); err != nil {
			return 0, err
		}
	}
	n := len(p)
	if int64(n) > c.remaining {
		n = int(c.remaining)
	}
	n = copy(p[:n], c.cur)
	c.cur = c.cur[n:]
	c.remaining -= int64(n)
	return n, nil
}

func (c *chunkReader) fetch() error {
	var data []byte
	err := c.tx.QueryRow(c.ctx,
		`SELECT data FROM blob_chunks WHERE location = $1 AND seq = $2`,
		c.location, c.seq,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: chunk %d of %s", ErrNotFound, c.seq, c.location)
	}
	if err != nil {
		return fmt.Errorf("read chunk %d of %s: %w", c.seq, c.location, err)
	}
	c.seq++
	if c.skip > 0 {
		if c.skip >= len(data) {
			return fmt.Errorf("read chunk %d of %s: %w", c.seq-1, c.location, io.ErrUnexpectedEOF)
		}
		data = data[c.skip:]
		c.skip = 0
	}
	if len(data) == 0 {
		return io.ErrUnexpectedEOF
	}
	c.cur = data
	return nil
}

func (c *chunkReader) Close() error {
	c.cur = nil
	c.remaining = 0
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Commit(context.WithoutCancel(c.ctx)); err != nil {
		return fmt.Errorf("finish read of %s: %w", c.location, err)
	}
	return nil
}
