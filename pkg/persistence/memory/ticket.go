package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/persistence"
)

// TicketRepository reads committed tickets and handles binding.
type TicketRepository struct {
	p *Persistence
}

func (r *TicketRepository) Snapshot(_ context.Context, ticketID string) (*models.TicketSnapshot, error) {
	var found *models.TicketSnapshot

	r.p.view(func(state *State) {
		if row, ok := state.Tickets[ticketID]; ok {
			found = row.Ticket.Clone()
		}
	})

	if found == nil {
		return nil, persistence.NewTicketError("Snapshot", ticketID, persistence.ErrTicketNotFound)
	}

	return found, nil
}

func (r *TicketRepository) Create(_ context.Context, ticket *models.TicketSnapshot) error {
	if ticket.ID == "" {
		ticket.ID = uuid.New().String()
	}

	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = r.p.now()
	}

	return r.p.update(func(work *State) error {
		work.Tickets[ticket.ID] = &TicketRow{Ticket: ticket.Clone(), Version: 1}

		return nil
	})
}

func (r *TicketRepository) Bind(_ context.Context, ticketID string, definition *models.WorkflowDefinition) error {
	return r.p.update(func(work *State) error {
		row, ok := work.Tickets[ticketID]
		if !ok {
			return persistence.NewTicketError("Bind", ticketID, persistence.ErrTicketNotFound)
		}

		stored, ok := work.Definitions[definition.ID]
		if !ok {
			return persistence.NewDefinitionError("Bind", definition.ID, persistence.ErrDefinitionNotFound)
		}

		if !stored.IsActive {
			return persistence.NewDefinitionError("Bind", definition.ID, persistence.ErrDefinitionInactive)
		}

		row.Ticket.WorkflowID = stored.ID
		row.Ticket.Status = stored.InitialStatus
		row.Version++

		return nil
	})
}

func (r *TicketRepository) ListByWorkflowAndStatus(_ context.Context, workflowID string, statuses []string) ([]*models.TicketSnapshot, error) {
	tickets := make([]*models.TicketSnapshot, 0)

	r.p.view(func(state *State) {
		for _, row := range state.Tickets {
			if row.Ticket.WorkflowID == workflowID && slices.Contains(statuses, row.Ticket.Status) {
				tickets = append(tickets, row.Ticket.Clone())
			}
		}
	})

	slices.SortFunc(tickets, func(a, b *models.TicketSnapshot) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	return tickets, nil
}

func (r *TicketRepository) CountActive(_ context.Context, workflowID string, finalStatuses []string) (int, error) {
	var n int

	r.p.view(func(state *State) {
		n = countActive(state, workflowID, finalStatuses)
	})

	return n, nil
}

// ticketStore reads and writes tickets inside a unit of work.
type ticketStore struct {
	state *State
}

func (s *ticketStore) row(op, ticketID string) (*TicketRow, error) {
	row, ok := s.state.Tickets[ticketID]
	if !ok {
		return nil, persistence.NewTicketError(op, ticketID, persistence.ErrTicketNotFound)
	}

	return row, nil
}

func (s *ticketStore) mutate(op, ticketID string, fn func(row *TicketRow) error) error {
	row, err := s.row(op, ticketID)
	if err != nil {
		return err
	}

	if err := fn(row); err != nil {
		return persistence.NewTicketError(op, ticketID, err)
	}

	row.Version++

	return nil
}

func (s *ticketStore) Snapshot(_ context.Context, ticketID string) (*models.TicketSnapshot, error) {
	row, err := s.row("Snapshot", ticketID)
	if err != nil {
		return nil, err
	}

	return row.Ticket.Clone(), nil
}

func (s *ticketStore) SetStatus(_ context.Context, ticketID, newStatus, expectedStatus string) error {
	return s.mutate("SetStatus", ticketID, func(row *TicketRow) error {
		if row.Ticket.Status != expectedStatus {
			return persistence.ErrConflict
		}

		row.Ticket.Status = newStatus

		return nil
	})
}

func (s *ticketStore) ApplyFieldUpdate(_ context.Context, ticketID, field string, value any) error {
	return s.mutate("ApplyFieldUpdate", ticketID, func(row *TicketRow) error {
		return row.Ticket.SetField(field, value)
	})
}

func (s *ticketStore) SetPriority(_ context.Context, ticketID, priority string) error {
	return s.mutate("SetPriority", ticketID, func(row *TicketRow) error {
		row.Ticket.Priority = priority

		return nil
	})
}

func (s *ticketStore) Assign(_ context.Context, ticketID string, assignee models.Assignee) error {
	return s.mutate("Assign", ticketID, func(row *TicketRow) error {
		if assignee.UserID != "" {
			row.Ticket.AssignedTo = assignee.UserID
		}

		if assignee.TeamID != "" {
			row.Ticket.TeamID = assignee.TeamID
		}

		return nil
	})
}

func (s *ticketStore) AddTag(_ context.Context, ticketID, tag string) error {
	return s.mutate("AddTag", ticketID, func(row *TicketRow) error {
		if !row.Ticket.HasTag(tag) {
			row.Ticket.Tags = append(row.Ticket.Tags, tag)
		}

		return nil
	})
}

func (s *ticketStore) RemoveTag(_ context.Context, ticketID, tag string) error {
	return s.mutate("RemoveTag", ticketID, func(row *TicketRow) error {
		row.Ticket.Tags = slices.DeleteFunc(row.Ticket.Tags, func(t string) bool { return t == tag })

		return nil
	})
}

func (s *ticketStore) AppendNote(_ context.Context, ticketID, text string) error {
	return s.mutate("AppendNote", ticketID, func(row *TicketRow) error {
		row.Notes = append(row.Notes, text)

		return nil
	})
}

func (s *ticketStore) CreateTask(_ context.Context, ticketID string, task models.TaskSpec) error {
	return s.mutate("CreateTask", ticketID, func(row *TicketRow) error {
		row.Tasks = append(row.Tasks, StoredTask{
			Title:       task.Title,
			Description: task.Description,
			AssigneeID:  task.AssigneeID,
			DueIn:       task.DueIn,
		})

		return nil
	})
}

func (s *ticketStore) ScheduleFollowup(_ context.Context, ticketID string, at time.Time) error {
	return s.mutate("ScheduleFollowup", ticketID, func(row *TicketRow) error {
		row.Followups = append(row.Followups, at)

		return nil
	})
}

func (s *ticketStore) Escalate(_ context.Context, ticketID, reason string) error {
	return s.mutate("Escalate", ticketID, func(row *TicketRow) error {
		row.Escalations = append(row.Escalations, reason)

		return nil
	})
}
