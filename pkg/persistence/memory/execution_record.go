package memory

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/dukex/ticketflow/pkg/models"
)

// ExecutionRecordRepository reads the committed audit trail.
type ExecutionRecordRepository struct {
	p *Persistence
}

// ListByTicket returns the newest records first. A non-positive limit returns all.
func (r *ExecutionRecordRepository) ListByTicket(_ context.Context, ticketID string, limit int) ([]*models.ExecutionRecord, error) {
	records := make([]*models.ExecutionRecord, 0)

	r.p.view(func(state *State) {
		for i := len(state.Records) - 1; i >= 0; i-- {
			if state.Records[i].TicketID == ticketID {
				records = append(records, cloneRecord(state.Records[i]))
			}
		}
	})

	slices.SortStableFunc(records, func(a, b *models.ExecutionRecord) int {
		return b.ExecutedAt.Compare(a.ExecutedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

func (r *ExecutionRecordRepository) ListBySweepPass(_ context.Context, passID string) ([]*models.ExecutionRecord, error) {
	records := make([]*models.ExecutionRecord, 0)

	r.p.view(func(state *State) {
		for _, rec := range state.Records {
			if rec.SweepPassID == passID {
				records = append(records, cloneRecord(rec))
			}
		}
	})

	return records, nil
}

type recordWriter struct {
	state *State
}

func (w *recordWriter) Save(_ context.Context, record *models.ExecutionRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	w.state.Records = append(w.state.Records, cloneRecord(record))

	return nil
}

func cloneRecord(r *models.ExecutionRecord) *models.ExecutionRecord {
	c := *r
	c.ActionsApplied = slices.Clone(r.ActionsApplied)

	return &c
}
