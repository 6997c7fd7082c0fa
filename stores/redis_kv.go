package stores

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisKV implements KV on Redis: one hash per partition (field = sort key,
// value = JSON record) plus one set per index value as the inverted index.
// Redis has no native secondary index, so the index set is maintained on
// every write - a backend detail the engine never sees.
type RedisKV struct {
	client  *redis.Client
	hashFmt string // partition hash, e.g. "dynauth:part:%s"
	idxFmt  string // index set, e.g. "dynauth:idx:%s"
}

const redisMemberSep = "\x1e"

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client, hashFmt: "dynauth:part:", idxFmt: "dynauth:idx:"}
}

func (r *RedisKV) hashKey(partition string) string { return r.hashFmt + partition }
func (r *RedisKV) idxKey(value string) string      { return r.idxFmt + value }

func (r *RedisKV) Put(ctx context.Context, rec Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, r.hashKey(rec.Partition), rec.Sort, doc).Err(); err != nil {
		return err
	}
	return r.indexAdd(ctx, rec)
}

func (r *RedisKV) PutIfAbsent(ctx context.Context, rec Record) (bool, error) {
	doc, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	inserted, err := r.client.HSetNX(ctx, r.hashKey(rec.Partition), rec.Sort, doc).Result()
	if err != nil || !inserted {
		return false, err
	}
	return true, r.indexAdd(ctx, rec)
}

func (r *RedisKV) indexAdd(ctx context.Context, rec Record) error {
	if rec.Index == "" {
		return nil
	}
	member := rec.Partition + redisMemberSep + rec.Sort
	return r.client.SAdd(ctx, r.idxKey(rec.Index), member).Err()
}

func (r *RedisKV) Get(ctx context.Context, key Key) (*Record, error) {
	doc, err := r.client.HGet(ctx, r.hashKey(key.Partition), key.Sort).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RedisKV) QueryPartition(ctx context.Context, q Query) ([]Record, error) {
	fields, err := r.client.HGetAll(ctx, r.hashKey(q.Partition)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(fields))
	for sortKey, doc := range fields {
		if q.SortPrefix != "" && !strings.HasPrefix(sortKey, q.SortPrefix) {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, err
		}
		if !matchFilters(rec, q) {
			continue
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (r *RedisKV) QueryIndex(ctx context.Context, value string) ([]Record, error) {
	members, err := r.client.SMembers(ctx, r.idxKey(value)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(members))
	for _, member := range members {
		partition, sortKey, ok := strings.Cut(member, redisMemberSep)
		if !ok {
			continue
		}
		rec, err := r.Get(ctx, Key{Partition: partition, Sort: sortKey})
		if err != nil {
			return nil, err
		}
		// A stale index member whose record is gone is cleaned lazily.
		if rec == nil {
			_ = r.client.SRem(ctx, r.idxKey(value), member).Err()
			continue
		}
		out = append(out, *rec)
	}
	sortRecords(out)
	return out, nil
}

func (r *RedisKV) BatchDelete(ctx context.Context, keys []Key) error {
	for _, key := range keys {
		rec, err := r.Get(ctx, key)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		if err := r.client.HDel(ctx, r.hashKey(key.Partition), key.Sort).Err(); err != nil {
			return err
		}
		if rec.Index != "" {
			member := key.Partition + redisMemberSep + key.Sort
			if err := r.client.SRem(ctx, r.idxKey(rec.Index), member).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *RedisKV) Any(ctx context.Context) (bool, error) {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.hashFmt+"*", 100).Result()
		if err != nil {
			return false, err
		}
		if len(keys) > 0 {
			return true, nil
		}
		if next == 0 {
			return false, nil
		}
		cursor = next
	}
}

func (r *RedisKV) IndexReady(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
