package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/persistence"
)

// DefinitionRepository stores definitions in the shared state.
type DefinitionRepository struct {
	p *Persistence
}

func (r *DefinitionRepository) List(_ context.Context, opts persistence.ListDefinitionsOptions) (*persistence.DefinitionListResult, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.WorkflowDefinition, 0)

	r.p.view(func(state *State) {
		for _, d := range state.Definitions {
			if opts.TenantID != "" && d.TenantID != opts.TenantID {
				continue
			}

			if opts.Active != nil && d.IsActive != *opts.Active {
				continue
			}

			filtered = append(filtered, d.Clone())
		}
	})

	sortDefinitions(filtered, opts.SortBy, opts.SortOrder)

	total := len(filtered)

	if opts.Offset >= total {
		return &persistence.DefinitionListResult{
			Definitions: make([]*models.WorkflowDefinition, 0),
			TotalCount:  int64(total),
		}, nil
	}

	end := min(opts.Offset+opts.Limit, total)

	return &persistence.DefinitionListResult{
		Definitions: filtered[opts.Offset:end],
		TotalCount:  int64(total),
		HasNextPage: end < total,
	}, nil
}

func sortDefinitions(definitions []*models.WorkflowDefinition, sortBy, sortOrder string) {
	slices.SortStableFunc(definitions, func(a, b *models.WorkflowDefinition) int {
		var c int

		switch sortBy {
		case "updated_at":
			c = a.UpdatedAt.Compare(b.UpdatedAt)
		case "name":
			c = strings.Compare(a.Name, b.Name)
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}

		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}

		if sortOrder == "desc" {
			return -c
		}

		return c
	})
}

func (r *DefinitionRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	var found *models.WorkflowDefinition

	r.p.view(func(state *State) {
		if d, ok := state.Definitions[id]; ok {
			found = d.Clone()
		}
	})

	if found == nil {
		return nil, persistence.NewDefinitionError("GetByID", id, persistence.ErrDefinitionNotFound)
	}

	return found, nil
}

func (r *DefinitionRepository) GetByName(_ context.Context, tenantID, name string) (*models.WorkflowDefinition, error) {
	var found *models.WorkflowDefinition

	r.p.view(func(state *State) {
		if d := findByName(state, tenantID, name); d != nil {
			found = d.Clone()
		}
	})

	if found == nil {
		return nil, persistence.NewDefinitionError("GetByName", name, persistence.ErrDefinitionNotFound)
	}

	return found, nil
}

func findByName(state *State, tenantID, name string) *models.WorkflowDefinition {
	for _, d := range state.Definitions {
		if d.TenantID == tenantID && d.Name == name {
			return d
		}
	}

	return nil
}

func (r *DefinitionRepository) GetByTransitionID(_ context.Context, transitionID string) (*models.WorkflowDefinition, error) {
	var found *models.WorkflowDefinition

	r.p.view(func(state *State) {
		for _, d := range state.Definitions {
			if d.TransitionByID(transitionID) != nil {
				found = d.Clone()

				return
			}
		}
	})

	if found == nil {
		return nil, persistence.NewDefinitionError("GetByTransitionID", transitionID, persistence.ErrTransitionNotFound)
	}

	return found, nil
}

func (r *DefinitionRepository) ListActiveWithAutomatic(_ context.Context) ([]*models.WorkflowDefinition, error) {
	definitions := make([]*models.WorkflowDefinition, 0)

	r.p.view(func(state *State) {
		for _, d := range state.Definitions {
			if d.IsActive && len(d.AutomaticTransitions()) > 0 {
				definitions = append(definitions, d.Clone())
			}
		}
	})

	sortDefinitions(definitions, "created_at", "asc")

	return definitions, nil
}

// Save stores a copy of definition. Identifiers and timestamps assigned
// during the save are written back to definition.
func (r *DefinitionRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
	return r.p.update(func(work *State) error {
		var existing *models.WorkflowDefinition
		if definition.ID != "" {
			existing = work.Definitions[definition.ID]
		}

		if other := findByName(work, definition.TenantID, definition.Name); other != nil && other.ID != definition.ID {
			return persistence.NewDefinitionError("Save", definition.ID, persistence.ErrDuplicateName)
		}

		persistence.PrepareForSave(definition, existing, r.p.now())

		work.Definitions[definition.ID] = definition.Clone()

		return nil
	})
}

// Delete removes the definition. Tickets left in final states are unbound.
func (r *DefinitionRepository) Delete(_ context.Context, id string) error {
	return r.p.update(func(work *State) error {
		d, ok := work.Definitions[id]
		if !ok {
			return persistence.NewDefinitionError("Delete", id, persistence.ErrDefinitionNotFound)
		}

		if countActive(work, id, d.FinalStatuses) > 0 {
			return persistence.NewDefinitionError("Delete", id, persistence.ErrDefinitionInUse)
		}

		for _, row := range work.Tickets {
			if row.Ticket.WorkflowID == id {
				row.Ticket.WorkflowID = ""
			}
		}

		delete(work.Definitions, id)

		return nil
	})
}

func countActive(state *State, workflowID string, finalStatuses []string) int {
	n := 0

	for _, row := range state.Tickets {
		if row.Ticket.WorkflowID == workflowID && !slices.Contains(finalStatuses, row.Ticket.Status) {
			n++
		}
	}

	return n
}
