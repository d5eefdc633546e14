package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/persistence"
)

const definitionColumns = `
	id
  , tenant_id
  , name
  , description
  , initial_status
  , final_statuses
  , is_active
  , global_conditions
  , auto_assign_rules
  , created_by
  , created_at
  , updated_at
`

const transitionColumns = `
	id
  , workflow_id
  , name
  , from_status
  , to_status
  , condition
  , actions
  , required_role
  , is_automatic
  , position
`

// DefinitionRepository handles workflow definition database operations.
type DefinitionRepository struct {
	p *Persistence
}

// List returns one page of definitions. Sort parameters are checked against
// an allowlist before they reach the query.
func (r *DefinitionRepository) List(ctx context.Context, opts persistence.ListDefinitionsOptions) (*persistence.DefinitionListResult, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	conditions := make([]string, 0, 2)
	args := make([]any, 0, 4)

	if opts.TenantID != "" {
		args = append(args, opts.TenantID)
		conditions = append(conditions, fmt.Sprintf("tenant_id = $%d", len(args)))
	}

	if opts.Active != nil {
		args = append(args, *opts.Active)
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64

	err = r.p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_definitions "+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count workflow definitions: %w", err)
	}

	order := strings.ToUpper(opts.SortOrder)
	args = append(args, opts.Limit, opts.Offset)

	query := fmt.Sprintf("SELECT %s FROM workflow_definitions %s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d",
		definitionColumns, where, opts.SortBy, order, order, len(args)-1, len(args))

	definitions, err := r.query(ctx, r.p.db, query, args...)
	if err != nil {
		return nil, err
	}

	return &persistence.DefinitionListResult{
		Definitions: definitions,
		TotalCount:  total,
		HasNextPage: int64(opts.Offset+len(definitions)) < total,
	}, nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return r.getOne(ctx, r.p.db, "GetByID", id, "SELECT "+definitionColumns+" FROM workflow_definitions WHERE id = $1", id)
}

func (r *DefinitionRepository) GetByName(ctx context.Context, tenantID, name string) (*models.WorkflowDefinition, error) {
	return r.getOne(ctx, r.p.db, "GetByName", name,
		"SELECT "+definitionColumns+" FROM workflow_definitions WHERE tenant_id = $1 AND name = $2", tenantID, name)
}

func (r *DefinitionRepository) GetByTransitionID(ctx context.Context, transitionID string) (*models.WorkflowDefinition, error) {
	definition, err := r.getOne(ctx, r.p.db, "GetByTransitionID", transitionID,
		"SELECT "+definitionColumns+" FROM workflow_definitions WHERE id = (SELECT workflow_id FROM workflow_transitions WHERE id = $1)",
		transitionID)
	if persistence.IsDefinitionNotFound(err) {
		return nil, persistence.NewDefinitionError("GetByTransitionID", transitionID, persistence.ErrTransitionNotFound)
	}

	return definition, err
}

func (r *DefinitionRepository) ListActiveWithAutomatic(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	query := "SELECT " + definitionColumns + ` FROM workflow_definitions d
		WHERE d.is_active AND EXISTS (
			SELECT 1 FROM workflow_transitions t WHERE t.workflow_id = d.id AND t.is_automatic
		)
		ORDER BY d.created_at ASC, d.id ASC`

	return r.query(ctx, r.p.db, query)
}

// Save upserts the definition and replaces its transition set in one
// transaction. Identifiers and timestamps are written back to definition.
func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	err := r.p.inTx(ctx, func(tx *sql.Tx) error {
		var existing *models.WorkflowDefinition

		if definition.ID != "" {
			found, err := r.getOne(ctx, tx, "Save", definition.ID,
				"SELECT "+definitionColumns+" FROM workflow_definitions WHERE id = $1 FOR UPDATE", definition.ID)
			if err != nil && !persistence.IsDefinitionNotFound(err) {
				return err
			}

			existing = found
		}

		persistence.PrepareForSave(definition, existing, r.p.now())

		if err := r.upsertDefinition(ctx, tx, definition); err != nil {
			return err
		}

		return r.replaceTransitions(ctx, tx, definition)
	})

	if pqCode(err) == uniqueViolation {
		return persistence.NewDefinitionError("Save", definition.ID, persistence.ErrDuplicateName)
	}

	return err
}

func (r *DefinitionRepository) upsertDefinition(ctx context.Context, tx *sql.Tx, d *models.WorkflowDefinition) error {
	globalCondition, err := json.Marshal(d.GlobalCondition)
	if err != nil {
		return fmt.Errorf("failed to marshal global conditions: %w", err)
	}

	autoAssign, err := json.Marshal(d.AutoAssignRules)
	if err != nil {
		return fmt.Errorf("failed to marshal auto assign rules: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions (` + definitionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id
		  , name = EXCLUDED.name
		  , description = EXCLUDED.description
		  , initial_status = EXCLUDED.initial_status
		  , final_statuses = EXCLUDED.final_statuses
		  , is_active = EXCLUDED.is_active
		  , global_conditions = EXCLUDED.global_conditions
		  , auto_assign_rules = EXCLUDED.auto_assign_rules
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = tx.ExecContext(ctx, query,
		d.ID, d.TenantID, d.Name, d.Description, d.InitialStatus,
		pq.Array(nonNil(d.FinalStatuses)), d.IsActive, globalCondition, autoAssign,
		d.CreatedBy, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow definition: %w", err)
	}

	return nil
}

// replaceTransitions deletes transitions no longer present and upserts the rest.
func (r *DefinitionRepository) replaceTransitions(ctx context.Context, tx *sql.Tx, d *models.WorkflowDefinition) error {
	keep := make([]string, 0, len(d.Transitions))
	for _, t := range d.Transitions {
		keep = append(keep, t.ID)
	}

	_, err := tx.ExecContext(ctx,
		"DELETE FROM workflow_transitions WHERE workflow_id = $1 AND NOT (id = ANY($2))",
		d.ID, pq.Array(keep))
	if err != nil {
		return fmt.Errorf("failed to delete removed transitions: %w", err)
	}

	query := `
		INSERT INTO workflow_transitions (` + transitionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , from_status = EXCLUDED.from_status
		  , to_status = EXCLUDED.to_status
		  , condition = EXCLUDED.condition
		  , actions = EXCLUDED.actions
		  , required_role = EXCLUDED.required_role
		  , is_automatic = EXCLUDED.is_automatic
		  , position = EXCLUDED.position
	`

	for _, t := range d.Transitions {
		condition, err := json.Marshal(t.Condition)
		if err != nil {
			return fmt.Errorf("failed to marshal condition of transition %s: %w", t.Name, err)
		}

		actions, err := json.Marshal(t.Actions)
		if err != nil {
			return fmt.Errorf("failed to marshal actions of transition %s: %w", t.Name, err)
		}

		_, err = tx.ExecContext(ctx, query,
			t.ID, d.ID, t.Name, t.FromStatus, t.ToStatus, condition, actions,
			string(t.RequiredRole), t.IsAutomatic, t.Position,
		)
		if err != nil {
			return fmt.Errorf("failed to save transition %s: %w", t.Name, err)
		}
	}

	return nil
}

// Delete removes the definition once no bound ticket sits in a non-final
// state. Tickets left in final states are unbound.
func (r *DefinitionRepository) Delete(ctx context.Context, id string) error {
	return r.p.inTx(ctx, func(tx *sql.Tx) error {
		var finalStatuses []string

		err := tx.QueryRowContext(ctx,
			"SELECT final_statuses FROM workflow_definitions WHERE id = $1 FOR UPDATE", id,
		).Scan(pq.Array(&finalStatuses))
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewDefinitionError("Delete", id, persistence.ErrDefinitionNotFound)
		}

		if err != nil {
			return fmt.Errorf("failed to lock workflow definition: %w", err)
		}

		active, err := countActive(ctx, tx, id, finalStatuses)
		if err != nil {
			return err
		}

		if active > 0 {
			return persistence.NewDefinitionError("Delete", id, persistence.ErrDefinitionInUse)
		}

		if _, err := tx.ExecContext(ctx, "UPDATE tickets SET workflow_id = NULL WHERE workflow_id = $1", id); err != nil {
			return fmt.Errorf("failed to unbind tickets: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM workflow_definitions WHERE id = $1", id); err != nil {
			return fmt.Errorf("failed to delete workflow definition: %w", err)
		}

		return nil
	})
}

func (r *DefinitionRepository) getOne(ctx context.Context, q querier, op, key, query string, args ...any) (*models.WorkflowDefinition, error) {
	definitions, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}

	if len(definitions) == 0 {
		return nil, persistence.NewDefinitionError(op, key, persistence.ErrDefinitionNotFound)
	}

	return definitions[0], nil
}

// query scans definitions and loads their transitions in stored order.
func (r *DefinitionRepository) query(ctx context.Context, q querier, query string, args ...any) ([]*models.WorkflowDefinition, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow definitions: %w", err)
	}

	definitions := make([]*models.WorkflowDefinition, 0)
	byID := make(map[string]*models.WorkflowDefinition)

	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			closeRows(ctx, r.p.logger, rows)

			return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
		}

		definitions = append(definitions, d)
		byID[d.ID] = d
	}

	closeRows(ctx, r.p.logger, rows)

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow definitions: %w", err)
	}

	if len(definitions) == 0 {
		return definitions, nil
	}

	ids := make([]string, 0, len(definitions))
	for _, d := range definitions {
		ids = append(ids, d.ID)
	}

	rows, err = q.QueryContext(ctx,
		"SELECT "+transitionColumns+" FROM workflow_transitions WHERE workflow_id = ANY($1) ORDER BY workflow_id, position",
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer closeRows(ctx, r.p.logger, rows)

	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}

		if d, ok := byID[t.WorkflowID]; ok {
			d.Transitions = append(d.Transitions, t)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}

	return definitions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDefinition(s scanner) (*models.WorkflowDefinition, error) {
	var (
		d               models.WorkflowDefinition
		globalCondition []byte
		autoAssign      []byte
	)

	err := s.Scan(
		&d.ID, &d.TenantID, &d.Name, &d.Description, &d.InitialStatus,
		pq.Array(&d.FinalStatuses), &d.IsActive, &globalCondition, &autoAssign,
		&d.CreatedBy, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(globalCondition) > 0 {
		if err := json.Unmarshal(globalCondition, &d.GlobalCondition); err != nil {
			return nil, fmt.Errorf("global conditions of %s: %w", d.ID, err)
		}
	}

	if len(autoAssign) > 0 {
		if err := json.Unmarshal(autoAssign, &d.AutoAssignRules); err != nil {
			return nil, fmt.Errorf("auto assign rules of %s: %w", d.ID, err)
		}
	}

	d.FinalStatuses = nonNil(d.FinalStatuses)
	d.Transitions = make([]*models.Transition, 0)

	return &d, nil
}

func scanTransition(s scanner) (*models.Transition, error) {
	var (
		t         models.Transition
		condition []byte
		actions   []byte
		role      string
	)

	err := s.Scan(
		&t.ID, &t.WorkflowID, &t.Name, &t.FromStatus, &t.ToStatus,
		&condition, &actions, &role, &t.IsAutomatic, &t.Position,
	)
	if err != nil {
		return nil, err
	}

	t.RequiredRole = models.Role(role)

	if len(condition) > 0 {
		if err := json.Unmarshal(condition, &t.Condition); err != nil {
			return nil, fmt.Errorf("condition of transition %s: %w", t.ID, err)
		}
	}

	if err := json.Unmarshal(actions, &t.Actions); err != nil {
		return nil, fmt.Errorf("actions of transition %s: %w", t.ID, err)
	}

	return &t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return make([]string, 0)
	}

	return s
}
