package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dukex/ticketflow/pkg/models"
)

const recordColumns = `
	id
  , ticket_id
  , workflow_id
  , transition_id
  , from_status
  , to_status
  , executed_by
  , automatic
  , sweep_pass_id
  , executed_at
  , actions_applied
  , outcome
`

// ExecutionRecordRepository reads the audit trail.
type ExecutionRecordRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// ListByTicket returns the newest records first. A non-positive limit returns all.
func (r *ExecutionRecordRepository) ListByTicket(ctx context.Context, ticketID string, limit int) ([]*models.ExecutionRecord, error) {
	query := "SELECT " + recordColumns + " FROM execution_records WHERE ticket_id = $1 ORDER BY executed_at DESC, id DESC"
	args := []any{ticketID}

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	return r.query(ctx, query, args...)
}

func (r *ExecutionRecordRepository) ListBySweepPass(ctx context.Context, passID string) ([]*models.ExecutionRecord, error) {
	return r.query(ctx,
		"SELECT "+recordColumns+" FROM execution_records WHERE sweep_pass_id = $1 ORDER BY executed_at, id", passID)
}

func (r *ExecutionRecordRepository) query(ctx context.Context, query string, args ...any) ([]*models.ExecutionRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution records: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	records := make([]*models.ExecutionRecord, 0)

	for rows.Next() {
		var (
			rec     models.ExecutionRecord
			actions []byte
			outcome string
		)

		err := rows.Scan(
			&rec.ID, &rec.TicketID, &rec.WorkflowID, &rec.TransitionID, &rec.FromStatus, &rec.ToStatus,
			&rec.ExecutedBy, &rec.Automatic, &rec.SweepPassID, &rec.ExecutedAt, &actions, &outcome,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}

		if err := json.Unmarshal(actions, &rec.ActionsApplied); err != nil {
			return nil, fmt.Errorf("actions of execution record %s: %w", rec.ID, err)
		}

		rec.Outcome = models.ExecutionOutcome(outcome)
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution records: %w", err)
	}

	return records, nil
}

// recordWriter inserts records inside an open transaction.
type recordWriter struct {
	q querier
}

func (w *recordWriter) Save(ctx context.Context, record *models.ExecutionRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	actions, err := json.Marshal(record.ActionsApplied)
	if err != nil {
		return fmt.Errorf("failed to marshal action results: %w", err)
	}

	_, err = w.q.ExecContext(ctx,
		"INSERT INTO execution_records ("+recordColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)",
		record.ID, record.TicketID, record.WorkflowID, record.TransitionID, record.FromStatus, record.ToStatus,
		record.ExecutedBy, record.Automatic, record.SweepPassID, record.ExecutedAt, actions, string(record.Outcome),
	)
	if err != nil {
		return fmt.Errorf("failed to save execution record: %w", err)
	}

	return nil
}
