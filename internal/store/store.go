// Package store implements the agent's durable store: named, versioned
// partitions of keyed records persisted in sqlite, one database per
// content tier (auth cache, assessments, media). Every operation runs
// in its own implicit transaction. When the underlying database is
// unavailable the store degrades to a bounded in-memory cache instead
// of failing, so the agent keeps serving.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/darasa-app/darasa/internal/common"
	"github.com/darasa-app/darasa/internal/dbx"
	"github.com/darasa-app/darasa/internal/logging"
)

// Record is a single keyed payload inside a partition. SizeBytes always
// equals len(Payload) at write time; it feeds the storage-accounting UI.
type Record struct {
	Key       string
	Payload   []byte
	SizeBytes int64
	StoredAt  time.Time
}

// UpgradeFunc migrates a partition from oldVersion to the version being
// opened. It runs inside the same transaction that bumps the version,
// so a failed upgrade leaves the partition untouched. A nil UpgradeFunc
// means drop-and-recreate: all records are cleared.
type UpgradeFunc func(ctx context.Context, oldVersion int, tx dbx.DBTX) error

// Store manages partitions inside one database.
type Store struct {
	conn *Conn
	mem  *memoryStore
	log  logging.Logger
}

// New builds a Store on the given connection.
func New(conn *Conn, log logging.Logger) *Store {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Store{conn: conn, mem: newMemoryStore(), log: log}
}

// Conn exposes the underlying connection for lifecycle control.
func (s *Store) Conn() *Conn { return s.conn }

// Open returns a handle to the named partition at the given schema
// version. A partition persisted at an older version is upgraded first
// (all-or-nothing); opening with a version older than what is persisted
// fails with ErrSchemaConflict and the caller must retry with the
// current version.
func (s *Store) Open(ctx context.Context, name string, version int, upgrade UpgradeFunc) (*Partition, error) {
	if version < 1 {
		return nil, fmt.Errorf("partition %s: version must be >= 1", name)
	}

	db, err := s.conn.acquire(ctx)
	if errors.Is(err, common.ErrStoreUnavailable) {
		if err := s.mem.open(name, version); err != nil {
			return nil, err
		}
		return &Partition{store: s, name: name, version: version}, nil
	}
	if err != nil {
		return nil, err
	}

	err = dbx.WithTx(ctx, db, func(ctx context.Context, tx dbx.DBTX) error {
		var persisted int
		row := tx.QueryRowContext(ctx, `SELECT version FROM partitions WHERE name=?`, name)
		switch err := row.Scan(&persisted); {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO partitions (name, version) VALUES (?, ?)`, name, version); err != nil {
				return fmt.Errorf("failed to create partition: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("failed to read partition version: %w", err)
		}

		if persisted == version {
			return nil
		}
		if persisted > version {
			return fmt.Errorf("%w: partition %s is at v%d, requested v%d",
				common.ErrSchemaConflict, name, persisted, version)
		}

		if upgrade != nil {
			if err := upgrade(ctx, persisted, tx); err != nil {
				return fmt.Errorf("upgrade %s v%d->v%d: %w", name, persisted, version, err)
			}
		} else {
			// Drop-and-recreate is the default migration strategy.
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM records WHERE partition=?`, name); err != nil {
				return fmt.Errorf("failed to clear partition on upgrade: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE partitions SET version=? WHERE name=?`, version, name); err != nil {
			return fmt.Errorf("failed to bump partition version: %w", err)
		}
		s.log.Info(ctx, "partition upgraded", "partition", name, "from", persisted, "to", version)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.conn.retain()
	return &Partition{store: s, name: name, version: version, retained: true}, nil
}

// ListPartitions returns the names of every partition in the database.
func (s *Store) ListPartitions(ctx context.Context) ([]string, error) {
	db, err := s.conn.acquire(ctx)
	if errors.Is(err, common.ErrStoreUnavailable) {
		return s.mem.list(), nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT name FROM partitions ORDER BY name`)
	if err != nil {
		if s.conn.Degrade(ctx, err) {
			return s.mem.list(), nil
		}
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// DeletePartition removes a partition and all of its records.
func (s *Store) DeletePartition(ctx context.Context, name string) error {
	s.mem.drop(name)

	db, err := s.conn.acquire(ctx)
	if errors.Is(err, common.ErrStoreUnavailable) {
		return nil
	}
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, db, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE partition=?`, name); err != nil {
			return fmt.Errorf("failed to delete partition records: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM partitions WHERE name=?`, name); err != nil {
			return fmt.Errorf("failed to delete partition: %w", err)
		}
		return nil
	})
	if err != nil && s.conn.Degrade(ctx, err) {
		return nil
	}
	return err
}

// Partition is a handle to one named partition. All operations are safe
// for concurrent use; same-key writes serialize on the database.
type Partition struct {
	store    *Store
	name     string
	version  int
	retained bool
}

// Name returns the partition name.
func (p *Partition) Name() string { return p.name }

// Close releases the handle's reference on the connection.
func (p *Partition) Close() error {
	if p.retained {
		p.store.conn.release()
		p.retained = false
	}
	return nil
}

// Put writes a record, overwriting any previous value for the key.
// SizeBytes is computed from the payload, never taken from the caller.
// A write failure on an open handle (disk full, I/O error) degrades the
// connection and lands the record in the memory fallback instead.
func (p *Partition) Put(ctx context.Context, key string, payload []byte) error {
	now := time.Now().UTC()
	rec := Record{Key: key, Payload: payload, SizeBytes: int64(len(payload)), StoredAt: now}

	db, err := p.store.conn.acquire(ctx)
	if errors.Is(err, common.ErrStoreUnavailable) {
		p.store.mem.put(p.name, rec)
		return nil
	}
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, db, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO records (partition, key, payload, size_bytes, stored_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(partition, key) DO UPDATE SET
				payload = excluded.payload,
				size_bytes = excluded.size_bytes,
				stored_at = excluded.stored_at`,
			p.name, key, payload, len(payload), now.Unix())
		if err != nil {
			return fmt.Errorf("failed to upsert record: %w", err)
		}
		return nil
	})
	if err != nil && p.store.conn.Degrade(ctx, err) {
		p.store.mem.put(p.name, rec)
		return nil
	}
	return err
}

// Get returns the record for key, or ErrNotFound.
func (p *Partition) Get(ctx context.Context, key string) (*Record, error) {
	db, err := p.store.conn.acquire(ctx)
	if errors.Is(err, common.ErrStoreUnavailable) {
		return p.store.mem.get(p.name, key)
	}
	if err != nil {
		return nil, err
	}

	rec := &Record{Key: key}
	var storedAt int64
	row := db.QueryRowContext(ctx,
		`SELECT payload, size_bytes, stored_at FROM records WHERE partition=? AND key=?`,
		p.name, key)
	if err := row.Scan(&rec.Payload, &rec.SizeBytes, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		if p.store.conn.Degrade(ctx, err) {
			return p.store.mem.get(p.name, key)
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	rec.StoredAt = time.Unix(storedAt, 0).UTC()
	return rec, nil
}

// GetAll lists every record in the partition ordered by key.
func (p *Partition) GetAll(ctx context.Context) ([]Record, error) {
	db, err := p.store.conn.acquire(ctx)
	if errors.Is(err, common.ErrStoreUnavailable) {
		return p.store.mem.getAll(p.name), nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT key, payload, size_bytes, stored_at FROM records WHERE partition=? ORDER BY key`,
		p.name)
	if err != nil {
		if p.store.conn.Degrade(ctx, err) {
			return p.store.mem.getAll(p.name), nil
		}
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var rec Record
		var storedAt int64
		if err := rows.Scan(&rec.Key, &rec.Payload, &rec.SizeBytes, &storedAt); err != nil {
			return nil, err
		}
		rec.StoredAt = time.Unix(storedAt, 0).UTC()
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Delete removes a record. Deleting a missing key is not an error.
func (p *Partition) Delete(ctx context.Context, key string) error {
	db, err := p.store.conn.acquire(ctx)
	if errors.Is(err, common.ErrStoreUnavailable) {
		p.store.mem.delete(p.name, key)
		return nil
	}
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, db, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE partition=? AND key=?`, p.name, key); err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}
		return nil
	})
	if err != nil && p.store.conn.Degrade(ctx, err) {
		p.store.mem.delete(p.name, key)
		return nil
	}
	return err
}

// Clear removes every record in the partition.
func (p *Partition) Clear(ctx context.Context) error {
	db, err := p.store.conn.acquire(ctx)
	if errors.Is(err, common.ErrStoreUnavailable) {
		p.store.mem.clear(p.name)
		return nil
	}
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, db, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE partition=?`, p.name); err != nil {
			return fmt.Errorf("failed to clear partition: %w", err)
		}
		return nil
	})
	if err != nil && p.store.conn.Degrade(ctx, err) {
		p.store.mem.clear(p.name)
		return nil
	}
	return err
}

// TotalSize sums SizeBytes over the partition, for storage accounting.
func (p *Partition) TotalSize(ctx context.Context) (int64, error) {
	db, err := p.store.conn.acquire(ctx)
	if errors.Is(err, common.ErrStoreUnavailable) {
		var total int64
		for _, r := range p.store.mem.getAll(p.name) {
			total += r.SizeBytes
		}
		return total, nil
	}
	if err != nil {
		return 0, err
	}

	var total sql.NullInt64
	row := db.QueryRowContext(ctx,
		`SELECT SUM(size_bytes) FROM records WHERE partition=?`, p.name)
	if err := row.Scan(&total); err != nil {
		if p.store.conn.Degrade(ctx, err) {
			var memTotal int64
			for _, r := range p.store.mem.getAll(p.name) {
				memTotal += r.SizeBytes
			}
			return memTotal, nil
		}
		return 0, fmt.Errorf("failed to sum record sizes: %w", err)
	}
	return total.Int64, nil
}
