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
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fawa-io/filedrop/pkg/fwlog"
)

const (
	recordKeyPrefix = "file:"
	// createdIndexKey is a sorted set of ids scored by creation time in ms.
	createdIndexKey = "files:created"
)

// Dragonfly implements Catalog on Dragonfly (or any Redis compatible server).
// Each record is a JSON string under file:<id>; files:created indexes ids by
// creation time for the sweeper.
type Dragonfly struct {
	client redis.Cmdable
	closer func() error
}

// storedRecord is the wire form. It carries the location, which FileRecord
// keeps out of its public JSON.
type storedRecord struct {
	ID          string    `json:"id"`
	Extension   string    `json:"extension"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	CreatedAt   time.Time `json:"createdAt"`
	Location    string    `json:"location"`
}

// NewDragonfly connects to addr and checks the connection.
func NewDragonfly(ctx context.Context, addr string) (*Dragonfly, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping dragonfly at %s: %w", addr, err)
	}
	fwlog.Infof("Connected to Dragonfly at %s", addr)
	return &Dragonfly{client: client, closer: client.Close}, nil
}

// Insert uses SETNX so two uploads racing for the same id cannot both win.
func (d *Dragonfly) Insert(ctx context.Context, rec *FileRecord) error {
	if rec == nil {
		return errors.New("record cannot be nil")
	}
	data, err := json.Marshal(storedRecord(*rec))
	if err != nil {
		return err
	}

	ok, err := d.client.SetNX(ctx, recordKey(rec.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrConflict, rec.ID)
	}

	member := redis.Z{Score: float64(rec.CreatedAt.UnixMilli()), Member: rec.ID}
	if err := d.client.ZAdd(ctx, createdIndexKey, member).Err(); err != nil {
		if delErr := d.client.Del(ctx, recordKey(rec.ID)).Err(); delErr != nil {
			fwlog.Errorf("Failed to roll back record %s: %v", rec.ID, delErr)
		}
		return fmt.Errorf("index record %s: %w", rec.ID, err)
	}
	return nil
}

func (d *Dragonfly) Get(ctx context.Context, id string) (*FileRecord, error) {
	val, err := d.client.Get(ctx, recordKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return decodeRecord(val)
}

func (d *Dragonfly) Delete(ctx context.Context, id string) error {
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recordKey(id))
		pipe.ZRem(ctx, createdIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

// ListCreatedBefore pages through the creation index until limit live
// records are found or the index runs out. Stale index entries are dropped
// on the way and never count towards limit.
func (d *Dragonfly) ListCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*FileRecord, error) {
	var (
		out    []*FileRecord
		offset int64
	)
	for {
		rng := &redis.ZRangeBy{
			Min:    "-inf",
			Max:    "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
			Offset: offset,
		}
		if limit > 0 {
			rng.Count = int64(limit - len(out))
		}
		ids, err := d.client.ZRangeByScore(ctx, createdIndexKey, rng).Result()
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = recordKey(id)
		}
		vals, err := d.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("load records: %w", err)
		}

		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				// Index entry without a record: a crashed Insert or Delete.
				if err := d.client.ZRem(ctx, createdIndexKey, ids[i]).Err(); err != nil {
					fwlog.Warnf("Failed to drop stale index entry %s: %v", ids[i], err)
					offset++
				}
				continue
			}
			rec, err := decodeRecord(s)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
			offset++
		}

		if limit <= 0 || len(out) >= limit || int64(len(ids)) < rng.Count {
			break
		}
	}
	return out, nil
}

func (d *Dragonfly) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}

func recordKey(id string) string {
	return recordKeyPrefix + id
}

func decodeRecord(val string) (*FileRecord, error) {
	var stored storedRecord
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	rec := FileRecord(stored)
	return &rec, nil
}
