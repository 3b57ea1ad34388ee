// Package store groups the directory, catalog and ledger repositories behind a
// single transactional boundary keyed by employee.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/onnwee/accessrecon/internal/catalog"
	"github.com/onnwee/accessrecon/internal/db"
	"github.com/onnwee/accessrecon/internal/directory"
	"github.com/onnwee/accessrecon/internal/ledger"
)

// Repos bundles the repositories a transition reads and writes.
type Repos struct {
	Directory directory.Repository
	Catalog   catalog.Repository
	Ledger    ledger.Repository
}

// Store provides repositories and the transaction boundary.
type Store interface {
	// Repos returns repositories for reads outside a transaction.
	Repos() Repos

	// WithinTx runs fn with repositories bound to one transaction. Every
	// write made through them commits together when fn returns nil and is
	// discarded otherwise. A non-empty employeeID serializes transactions
	// for that employee.
	WithinTx(ctx context.Context, employeeID string, fn func(ctx context.Context, r Repos) error) error
}

// InMemoryStore is a Store over the in-memory repositories. Transactions are
// serialized and rolled back by restoring a snapshot.
type InMemoryStore struct {
	mu        sync.Mutex
	directory *directory.InMemoryRepository
	catalog   *catalog.InMemoryRepository
	ledger    *ledger.InMemoryRepository
}

// NewInMemoryStore creates an in-memory store. Nil repositories are created
// empty.
func NewInMemoryStore(dir *directory.InMemoryRepository, cat *catalog.InMemoryRepository, led *ledger.InMemoryRepository) *InMemoryStore {
	if dir == nil {
		dir = directory.NewInMemoryRepository()
	}
	if cat == nil {
		cat = catalog.NewInMemoryRepository()
	}
	if led == nil {
		led = ledger.NewInMemoryRepository()
	}
	return &InMemoryStore{directory: dir, catalog: cat, ledger: led}
}

// Repos returns the underlying repositories.
func (s *InMemoryStore) Repos() Repos {
	return Repos{Directory: s.directory, Catalog: s.catalog, Ledger: s.ledger}
}

// WithinTx runs fn and restores the directory and ledger if it fails.
func (s *InMemoryStore) WithinTx(ctx context.Context, employeeID string, fn func(ctx context.Context, r Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirSnap := s.directory.Snapshot()
	ledSnap := s.ledger.Snapshot()

	if err := fn(ctx, s.Repos()); err != nil {
		s.directory.Restore(dirSnap)
		s.ledger.Restore(ledSnap)
		return err
	}
	return nil
}

// PostgresStore is a Store over Postgres.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a Postgres-backed store.
func NewPostgresStore(conn *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: conn, logger: logger}
}

// Repos returns repositories bound to the connection pool.
func (s *PostgresStore) Repos() Repos {
	return reposFor(s.db, s.logger)
}

// WithinTx runs fn inside a READ COMMITTED transaction holding an advisory
// lock on the employee.
func (s *PostgresStore) WithinTx(ctx context.Context, employeeID string, fn func(ctx context.Context, r Repos) error) error {
	return db.WithTx(ctx, s.db, s.logger, func(tx *sql.Tx) error {
		if employeeID != "" {
			if _, err := tx.ExecContext(ctx, db.AdvisoryLockQuery, employeeID); err != nil {
				return fmt.Errorf("failed to take employee advisory lock: %w", err)
			}
		}
		return fn(ctx, reposFor(tx, s.logger))
	})
}

func reposFor(conn db.DBTX, logger *slog.Logger) Repos {
	return Repos{
		Directory: directory.NewPostgresRepository(conn, logger),
		Catalog:   catalog.NewPostgresRepository(conn, logger),
		Ledger:    ledger.NewPostgresRepository(conn, logger),
	}
}
