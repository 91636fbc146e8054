package db

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the engine's persistence collaborator, backed by Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}
