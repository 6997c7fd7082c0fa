package stores

import "context"

// Record is one row of the engine's bespoke key-value schema. Partition and
// Sort form the primary key. Index, when set, is the value the secondary
// (inverted) index keys on, answering reverse lookups from the same record
// with no second write path. Action is a filterable attribute carried only by
// permission records. Doc holds the JSON payload.
type Record struct {
	Partition string
	Sort      string
	Index     string
	Action    string
	Doc       []byte
}

// Key addresses one record.
type Key struct {
	Partition string
	Sort      string
}

// Query describes a partition query. Action and IndexIn are filters combined
// with logical AND; backends push them down where the native store supports
// filtered queries and apply them in-process otherwise.
type Query struct {
	Partition  string
	SortPrefix string
	Action     string
	IndexIn    []string
}

// KV is the generic sorted key-value capability the engine is layered on:
// conditioned put, prefix query, inverted-index query, and chunked batch
// delete. Implementations wrap a real client (DynamoDB, SQL, Redis) or an
// in-memory map; all of them are safe for concurrent use.
type KV interface {
	// Put writes the record unconditionally (upsert).
	Put(ctx context.Context, rec Record) error
	// PutIfAbsent writes the record only when its key does not exist yet.
	// The bool result is false when the condition failed.
	PutIfAbsent(ctx context.Context, rec Record) (bool, error)
	// Get returns the record at key, or nil when absent.
	Get(ctx context.Context, key Key) (*Record, error)
	// QueryPartition returns every record matching q, in sort-key order.
	QueryPartition(ctx context.Context, q Query) ([]Record, error)
	// QueryIndex returns every record whose Index attribute equals value.
	QueryIndex(ctx context.Context, value string) ([]Record, error)
	// BatchDelete removes up to batchDeleteLimit keys. Deleting an absent
	// key is a no-op. Callers chunk larger deletes.
	BatchDelete(ctx context.Context, keys []Key) error
	// Any reports whether the store holds at least one record.
	Any(ctx context.Context) (bool, error)
	// IndexReady verifies the secondary index is reachable.
	IndexReady(ctx context.Context) error
}

// batchDeleteLimit is the native batch-write limit shared by every backend;
// it matches DynamoDB's 25-item BatchWriteItem cap.
const batchDeleteLimit = 25
