// Package rulestore is the SQLite persistence layer for quell rules and site
// preferences. Rules are scoped to (host, path pattern) and keep their
// insertion order, which is also application order.
package rulestore

import (
	"database/sql"

	"github.com/quellhq/quell/dbopen"
	"github.com/quellhq/quell/idgen"
)

// Store is the quell rule database handle.
type Store struct {
	DB    *sql.DB
	newID idgen.Generator
}

// Open opens (or creates) the rule database at path, applies pragmas and the
// quell schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db, newID: idgen.Prefixed("rul_", idgen.UUIDv7())}, nil
}

// FromDB wraps an already-open database (used by tests with
// dbopen.OpenMemory). The schema must have been applied.
func FromDB(db *sql.DB) *Store {
	return &Store{DB: db, newID: idgen.Prefixed("rul_", idgen.UUIDv7())}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
