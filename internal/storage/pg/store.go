package pg

import "database/sql"

// Store wraps handwritten queries over the engine's tables.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}
