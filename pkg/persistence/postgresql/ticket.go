package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/persistence"
)

const ticketColumns = `
	id
  , COALESCE(workflow_id, '')
  , status
  , priority
  , tags
  , assigned_to
  , team_id
  , created_by
  , custom_fields
  , created_at
`

// TicketRepository handles committed ticket reads and binding.
type TicketRepository struct {
	p *Persistence
}

func (r *TicketRepository) Snapshot(ctx context.Context, ticketID string) (*models.TicketSnapshot, error) {
	return snapshot(ctx, r.p.db, "Snapshot", ticketID, false)
}

func (r *TicketRepository) Create(ctx context.Context, ticket *models.TicketSnapshot) error {
	if ticket.ID == "" {
		ticket.ID = uuid.New().String()
	}

	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = r.p.now()
	}

	fields, err := json.Marshal(nonNilFields(ticket.CustomFields))
	if err != nil {
		return fmt.Errorf("failed to marshal custom fields: %w", err)
	}

	query := `
		INSERT INTO tickets (id, workflow_id, status, priority, tags, assigned_to, team_id, created_by, custom_fields, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.p.db.ExecContext(ctx, query,
		ticket.ID, ticket.WorkflowID, ticket.Status, ticket.Priority, pq.Array(nonNil(ticket.Tags)),
		ticket.AssignedTo, ticket.TeamID, ticket.CreatedBy, fields, ticket.CreatedAt,
	)
	if err != nil {
		return persistence.NewTicketError("Create", ticket.ID, err)
	}

	return nil
}

// Bind attaches the ticket to the stored, active version of definition.
func (r *TicketRepository) Bind(ctx context.Context, ticketID string, definition *models.WorkflowDefinition) error {
	return r.p.inTx(ctx, func(tx *sql.Tx) error {
		var (
			initialStatus string
			active        bool
		)

		err := tx.QueryRowContext(ctx,
			"SELECT initial_status, is_active FROM workflow_definitions WHERE id = $1 FOR SHARE", definition.ID,
		).Scan(&initialStatus, &active)
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewDefinitionError("Bind", definition.ID, persistence.ErrDefinitionNotFound)
		}

		if err != nil {
			return fmt.Errorf("failed to load workflow definition: %w", err)
		}

		if !active {
			return persistence.NewDefinitionError("Bind", definition.ID, persistence.ErrDefinitionInactive)
		}

		result, err := tx.ExecContext(ctx,
			"UPDATE tickets SET workflow_id = $2, status = $3, version = version + 1 WHERE id = $1",
			ticketID, definition.ID, initialStatus)
		if err != nil {
			return persistence.NewTicketError("Bind", ticketID, err)
		}

		return requireRow(result, "Bind", ticketID)
	})
}

func (r *TicketRepository) ListByWorkflowAndStatus(ctx context.Context, workflowID string, statuses []string) ([]*models.TicketSnapshot, error) {
	rows, err := r.p.db.QueryContext(ctx,
		"SELECT "+ticketColumns+" FROM tickets WHERE workflow_id = $1 AND status = ANY($2) ORDER BY created_at, id",
		workflowID, pq.Array(statuses))
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer closeRows(ctx, r.p.logger, rows)

	tickets := make([]*models.TicketSnapshot, 0)

	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}

		tickets = append(tickets, ticket)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickets: %w", err)
	}

	return tickets, nil
}

func (r *TicketRepository) CountActive(ctx context.Context, workflowID string, finalStatuses []string) (int, error) {
	return countActive(ctx, r.p.db, workflowID, finalStatuses)
}

func countActive(ctx context.Context, q querier, workflowID string, finalStatuses []string) (int, error) {
	var n int

	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tickets WHERE workflow_id = $1 AND NOT (status = ANY($2))",
		workflowID, pq.Array(nonNil(finalStatuses)),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active tickets: %w", err)
	}

	return n, nil
}

// ticketStore reads and writes tickets inside an open transaction.
type ticketStore struct {
	q querier
}

func (s *ticketStore) Snapshot(ctx context.Context, ticketID string) (*models.TicketSnapshot, error) {
	return snapshot(ctx, s.q, "Snapshot", ticketID, false)
}

// SetStatus is a conditional update: zero affected rows on an existing
// ticket means another writer moved it first.
func (s *ticketStore) SetStatus(ctx context.Context, ticketID, newStatus, expectedStatus string) error {
	result, err := s.q.ExecContext(ctx,
		"UPDATE tickets SET status = $2, version = version + 1 WHERE id = $1 AND status = $3",
		ticketID, newStatus, expectedStatus)
	if err != nil {
		return persistence.NewTicketError("SetStatus", ticketID, err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	if _, err := snapshot(ctx, s.q, "SetStatus", ticketID, false); err != nil {
		return err
	}

	return persistence.NewTicketError("SetStatus", ticketID, persistence.ErrConflict)
}

func (s *ticketStore) ApplyFieldUpdate(ctx context.Context, ticketID, field string, value any) error {
	ticket, err := snapshot(ctx, s.q, "ApplyFieldUpdate", ticketID, true)
	if err != nil {
		return err
	}

	if err := ticket.SetField(field, value); err != nil {
		return persistence.NewTicketError("ApplyFieldUpdate", ticketID, err)
	}

	fields, err := json.Marshal(nonNilFields(ticket.CustomFields))
	if err != nil {
		return persistence.NewTicketError("ApplyFieldUpdate", ticketID, err)
	}

	return s.update(ctx, "ApplyFieldUpdate", ticketID,
		"UPDATE tickets SET priority = $2, assigned_to = $3, team_id = $4, custom_fields = $5, version = version + 1 WHERE id = $1",
		ticket.Priority, ticket.AssignedTo, ticket.TeamID, fields)
}

func (s *ticketStore) SetPriority(ctx context.Context, ticketID, priority string) error {
	return s.update(ctx, "SetPriority", ticketID,
		"UPDATE tickets SET priority = $2, version = version + 1 WHERE id = $1", priority)
}

func (s *ticketStore) Assign(ctx context.Context, ticketID string, assignee models.Assignee) error {
	return s.update(ctx, "Assign", ticketID, `
		UPDATE tickets SET
			assigned_to = COALESCE(NULLIF($2, ''), assigned_to)
		  , team_id = COALESCE(NULLIF($3, ''), team_id)
		  , version = version + 1
		WHERE id = $1`,
		assignee.UserID, assignee.TeamID)
}

func (s *ticketStore) AddTag(ctx context.Context, ticketID, tag string) error {
	return s.update(ctx, "AddTag", ticketID, `
		UPDATE tickets SET
			tags = CASE WHEN $2 = ANY(tags) THEN tags ELSE array_append(tags, $2::TEXT) END
		  , version = version + 1
		WHERE id = $1`,
		tag)
}

func (s *ticketStore) RemoveTag(ctx context.Context, ticketID, tag string) error {
	return s.update(ctx, "RemoveTag", ticketID,
		"UPDATE tickets SET tags = array_remove(tags, $2::TEXT), version = version + 1 WHERE id = $1", tag)
}

func (s *ticketStore) AppendNote(ctx context.Context, ticketID, text string) error {
	return s.insert(ctx, "AppendNote", ticketID,
		"INSERT INTO ticket_notes (ticket_id, text) VALUES ($1, $2)", text)
}

func (s *ticketStore) CreateTask(ctx context.Context, ticketID string, task models.TaskSpec) error {
	return s.insert(ctx, "CreateTask", ticketID,
		"INSERT INTO ticket_tasks (ticket_id, title, description, assignee_id, due_in_seconds) VALUES ($1, $2, $3, $4, $5)",
		task.Title, task.Description, task.AssigneeID, int64(task.DueIn/time.Second))
}

func (s *ticketStore) ScheduleFollowup(ctx context.Context, ticketID string, at time.Time) error {
	return s.insert(ctx, "ScheduleFollowup", ticketID,
		"INSERT INTO ticket_followups (ticket_id, due_at) VALUES ($1, $2)", at)
}

func (s *ticketStore) Escalate(ctx context.Context, ticketID, reason string) error {
	return s.insert(ctx, "Escalate", ticketID,
		"INSERT INTO ticket_escalations (ticket_id, reason) VALUES ($1, $2)", reason)
}

func (s *ticketStore) update(ctx context.Context, op, ticketID, query string, args ...any) error {
	result, err := s.q.ExecContext(ctx, query, append([]any{ticketID}, args...)...)
	if err != nil {
		return persistence.NewTicketError(op, ticketID, err)
	}

	return requireRow(result, op, ticketID)
}

// insert writes a side record; a missing ticket surfaces as a foreign key
// violation.
func (s *ticketStore) insert(ctx context.Context, op, ticketID, query string, args ...any) error {
	_, err := s.q.ExecContext(ctx, query, append([]any{ticketID}, args...)...)
	if pqCode(err) == foreignKeyViolation {
		return persistence.NewTicketError(op, ticketID, persistence.ErrTicketNotFound)
	}

	if err != nil {
		return persistence.NewTicketError(op, ticketID, err)
	}

	return nil
}

func snapshot(ctx context.Context, q querier, op, ticketID string, lock bool) (*models.TicketSnapshot, error) {
	query := "SELECT " + ticketColumns + " FROM tickets WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}

	ticket, err := scanTicket(q.QueryRowContext(ctx, query, ticketID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewTicketError(op, ticketID, persistence.ErrTicketNotFound)
	}

	if err != nil {
		return nil, persistence.NewTicketError(op, ticketID, err)
	}

	return ticket, nil
}

func scanTicket(s scanner) (*models.TicketSnapshot, error) {
	var (
		t      models.TicketSnapshot
		fields []byte
	)

	err := s.Scan(
		&t.ID, &t.WorkflowID, &t.Status, &t.Priority, pq.Array(&t.Tags),
		&t.AssignedTo, &t.TeamID, &t.CreatedBy, &fields, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &t.CustomFields); err != nil {
			return nil, fmt.Errorf("custom fields of %s: %w", t.ID, err)
		}
	}

	return &t, nil
}

func requireRow(result sql.Result, op, ticketID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return persistence.NewTicketError(op, ticketID, err)
	}

	if n == 0 {
		return persistence.NewTicketError(op, ticketID, persistence.ErrTicketNotFound)
	}

	return nil
}

func nonNilFields(fields map[string]any) map[string]any {
	if fields == nil {
		return make(map[string]any)
	}

	return fields
}
