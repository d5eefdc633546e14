// Package postgresql provides the PostgreSQL persistence implementation for
// workflow definitions, tickets and execution records.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/dukex/ticketflow/pkg/persistence"
	"github.com/dukex/ticketflow/pkg/persistence/sqlbase"
	"github.com/dukex/ticketflow/pkg/protocol"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	definitionRepo *DefinitionRepository
	ticketRepo     *TicketRepository
	recordRepo     *ExecutionRecordRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	postgres := &Persistence{
		db:     database,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	postgres.definitionRepo = &DefinitionRepository{p: postgres}
	postgres.ticketRepo = &TicketRepository{p: postgres}
	postgres.recordRepo = &ExecutionRecordRepository{db: database, logger: logger}

	// Run migrations on initialization
	err = sqlbase.NewMigrationManager(logger, database, migrations()).RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

func (p *Persistence) DefinitionRepository() persistence.DefinitionRepository {
	return p.definitionRepo
}

func (p *Persistence) TicketRepository() persistence.TicketRepository {
	return p.ticketRepo
}

func (p *Persistence) ExecutionRecordRepository() persistence.ExecutionRecordRepository {
	return p.recordRepo
}

// Atomic runs fn inside one database transaction.
func (p *Persistence) Atomic(ctx context.Context, fn func(ctx context.Context, tx persistence.Tx) error) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		return fn(ctx, &unit{tx: tx, logger: p.logger})
	})
}

// inTx commits when fn succeeds and rolls back otherwise. A failing commit
// is reported as persistence.ErrCommitFailed.
func (p *Persistence) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", persistence.ErrCommitFailed, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			p.logger.ErrorContext(ctx, "failed to rollback transaction", "error", rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", persistence.ErrCommitFailed, err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// unit is an open transaction handed to Atomic callbacks.
type unit struct {
	tx         *sql.Tx
	logger     *slog.Logger
	savepoints int
}

func (u *unit) Tickets() protocol.TicketStore {
	return &ticketStore{q: u.tx}
}

func (u *unit) Records() persistence.ExecutionRecordWriter {
	return &recordWriter{q: u.tx}
}

// Savepoint isolates fn so that a failing statement does not abort the
// enclosing transaction.
func (u *unit) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	u.savepoints++
	name := fmt.Sprintf("action_%d", u.savepoints)

	if _, err := u.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	if err := fn(ctx); err != nil {
		if _, rbErr := u.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			u.logger.ErrorContext(ctx, "failed to rollback to savepoint", "savepoint", name, "error", rbErr)
		}

		return err
	}

	if _, err := u.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}

	return nil
}

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}

	return ""
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
