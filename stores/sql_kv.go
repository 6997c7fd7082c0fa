package stores

import (
	"context"
	"fmt"
	"strings"

	"github.com/oarkflow/squealx"
)

// SQLKV implements KV on a relational database via squealx. One `records`
// table carries both record families; the index on the idx column is the
// inverted secondary index.
type SQLKV struct {
	db *squealx.DB
}

func NewSQLKV(db *squealx.DB) *SQLKV {
	return &SQLKV{db: db}
}

func (s *SQLKV) Put(ctx context.Context, rec Record) error {
	q := `INSERT INTO records(partition, sort, idx, action, doc) VALUES(:partition, :sort, :idx, :action, :doc)
	      ON CONFLICT(partition, sort) DO UPDATE SET idx=:idx, action=:action, doc=:doc`
	_, err := s.db.NamedExecContext(ctx, q, recordArgs(rec))
	return err
}

func (s *SQLKV) PutIfAbsent(ctx context.Context, rec Record) (bool, error) {
	q := `INSERT OR IGNORE INTO records(partition, sort, idx, action, doc) VALUES(:partition, :sort, :idx, :action, :doc)`
	res, err := s.db.NamedExecContext(ctx, q, recordArgs(rec))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLKV) Get(ctx context.Context, key Key) (*Record, error) {
	q := `SELECT partition, sort, idx, action, doc FROM records WHERE partition = :partition AND sort = :sort`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"partition": key.Partition, "sort": key.Sort})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	rec, err := scanRecord(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLKV) QueryPartition(ctx context.Context, q Query) ([]Record, error) {
	query := `SELECT partition, sort, idx, action, doc FROM records WHERE partition = :partition`
	args := map[string]any{"partition": q.Partition}
	if q.SortPrefix != "" {
		query += ` AND sort LIKE :sort_prefix ESCAPE '\'`
		args["sort_prefix"] = escapeLike(q.SortPrefix) + "%"
	}
	if q.Action != "" {
		query += ` AND action = :action`
		args["action"] = q.Action
	}
	if len(q.IndexIn) > 0 {
		names := make([]string, 0, len(q.IndexIn))
		for i, v := range q.IndexIn {
			name := fmt.Sprintf("idx_%d", i)
			names = append(names, ":"+name)
			args[name] = v
		}
		query += ` AND idx IN (` + strings.Join(names, ", ") + `)`
	}
	query += ` ORDER BY sort`
	return s.queryRecords(ctx, query, args)
}

func (s *SQLKV) QueryIndex(ctx context.Context, value string) ([]Record, error) {
	q := `SELECT partition, sort, idx, action, doc FROM records WHERE idx = :idx ORDER BY partition, sort`
	return s.queryRecords(ctx, q, map[string]any{"idx": value})
}

func (s *SQLKV) BatchDelete(ctx context.Context, keys []Key) error {
	for _, key := range keys {
		q := `DELETE FROM records WHERE partition = :partition AND sort = :sort`
		if _, err := s.db.NamedExecContext(ctx, q, map[string]any{"partition": key.Partition, "sort": key.Sort}); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLKV) Any(ctx context.Context) (bool, error) {
	rows, err := s.db.NamedQueryContext(ctx, `SELECT 1 FROM records LIMIT 1`, map[string]any{})
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), nil
}

// IndexReady probes the idx column; a missing migration surfaces here
// instead of on the first real query.
func (s *SQLKV) IndexReady(ctx context.Context) error {
	rows, err := s.db.NamedQueryContext(ctx, `SELECT idx FROM records LIMIT 1`, map[string]any{})
	if err != nil {
		return fmt.Errorf("records table not provisioned: %w", err)
	}
	return rows.Close()
}

func (s *SQLKV) queryRecords(ctx context.Context, query string, args map[string]any) ([]Record, error) {
	rows, err := s.db.NamedQueryContext(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(rows rowScanner) (Record, error) {
	var rec Record
	var doc []byte
	if err := rows.Scan(&rec.Partition, &rec.Sort, &rec.Index, &rec.Action, &doc); err != nil {
		return rec, err
	}
	rec.Doc = doc
	return rec, nil
}

func recordArgs(rec Record) map[string]any {
	return map[string]any{
		"partition": rec.Partition,
		"sort":      rec.Sort,
		"idx":       rec.Index,
		"action":    rec.Action,
		"doc":       rec.Doc,
	}
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
