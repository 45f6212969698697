// Package sqlstore is a Postgres-backed implementation of
// store.Storage, modelled on the teacher's storage/sql package: a
// flavor-style executeTx helper retries the whole transaction body on
// a serialization_failure, which is how UpdateActivation and friends
// get their locked read-modify-write semantics without a separate
// lock object — the lock is the row, taken with "FOR UPDATE" inside a
// serializable transaction.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/lib/pq"

	"github.com/powerauth/activationserver/internal/store"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store is a Postgres-backed store.Storage.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres at dsn and runs any pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// executeTx runs fn inside a serializable transaction, retrying the
// entire attempt whenever Postgres reports a serialization failure.
// Callers must not wrap sql/pq errors returned from fn, or the retry
// detection below will miss them — exactly the caveat the teacher's
// flavorPostgres.executeTx carries.
func (s *Store) executeTx(ctx context.Context, fn func(*sql.Tx) error) error {
	for {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}

		if err := fn(tx); err != nil {
			tx.Rollback()
			if isSerializationFailure(err) {
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isSerializationFailure(err) {
				continue
			}
			return err
		}
		return nil
	}
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Name() == "serialization_failure"
	}
	return false
}

// jsonColumn adapts a map[string]string (activation flags) to the
// database/sql Valuer/Scanner pair needed to store it in a jsonb
// column, following the teacher's crud.go encoder/decoder idiom.
type jsonColumn struct{ v *map[string]string }

func (j jsonColumn) Value() (interface{}, error) {
	if *j.v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(*j.v)
}

func (j jsonColumn) Scan(src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("sqlstore: jsonColumn.Scan: unsupported type %T", src)
	}
	return json.Unmarshal(b, j.v)
}

func mapRowErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if pqErr, ok := asPQError(err); ok && pqErr.Code.Name() == "unique_violation" {
		return store.ErrAlreadyExists
	}
	return err
}

func asPQError(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	ok := errors.As(err, &pqErr)
	return pqErr, ok
}

func sortActivations(as []store.Activation) {
	sort.Slice(as, func(i, j int) bool { return as[i].CreatedAt.Before(as[j].CreatedAt) })
}
