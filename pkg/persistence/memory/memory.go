package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dukex/ticketflow/pkg/persistence"
	"github.com/dukex/ticketflow/pkg/protocol"
)

// CommitHook is called with the next state before a unit of work commits.
// Returning an error aborts the commit.
type CommitHook func(next *State) error

// Option configures a Persistence.
type Option func(*Persistence)

// WithClock overrides the clock used for bookkeeping timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Persistence) {
		p.now = now
	}
}

// WithCommitHook installs a hook run before every commit.
func WithCommitHook(hook CommitHook) Option {
	return func(p *Persistence) {
		p.onCommit = hook
	}
}

// WithState seeds the store.
func WithState(state *State) Option {
	return func(p *Persistence) {
		if state != nil {
			p.state = state.clone()
		}
	}
}

// Persistence implements persistence.Persistence in memory. Units of work
// are serialised and operate on a private copy of the state that replaces
// the shared one on commit.
type Persistence struct {
	mu       sync.Mutex
	state    *State
	now      func() time.Time
	onCommit CommitHook

	definitionRepo *DefinitionRepository
	ticketRepo     *TicketRepository
	recordRepo     *ExecutionRecordRepository
}

// NewPersistence creates an empty in-memory store.
func NewPersistence(opts ...Option) *Persistence {
	p := &Persistence{
		state: NewState(),
		now:   func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(p)
	}

	p.definitionRepo = &DefinitionRepository{p: p}
	p.ticketRepo = &TicketRepository{p: p}
	p.recordRepo = &ExecutionRecordRepository{p: p}

	return p
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

// Atomic runs fn against a private copy of the state.
func (p *Persistence) Atomic(ctx context.Context, fn func(ctx context.Context, tx persistence.Tx) error) error {
	return p.update(func(work *State) error {
		return fn(ctx, &unit{state: work, now: p.now})
	})
}

// update runs fn on a working copy and commits it when fn succeeds.
func (p *Persistence) update(fn func(work *State) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	work := p.state.clone()

	if err := fn(work); err != nil {
		return err
	}

	if p.onCommit != nil {
		if err := p.onCommit(work); err != nil {
			return fmt.Errorf("%w: %w", persistence.ErrCommitFailed, err)
		}
	}

	p.state = work

	return nil
}

// view runs fn against the committed state under the lock.
func (p *Persistence) view(fn func(state *State)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fn(p.state)
}

// TicketRow returns a copy of the stored row for inspection.
func (p *Persistence) TicketRow(ticketID string) (*TicketRow, bool) {
	var (
		row *TicketRow
		ok  bool
	)

	p.view(func(state *State) {
		var stored *TicketRow

		stored, ok = state.Tickets[ticketID]
		if ok {
			row = stored.clone()
		}
	})

	return row, ok
}

// Snapshot returns a copy of the whole committed state.
func (p *Persistence) Snapshot() *State {
	var s *State

	p.view(func(state *State) {
		s = state.clone()
	})

	return s
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

type unit struct {
	state *State
	now   func() time.Time
}

func (u *unit) Tickets() protocol.TicketStore {
	return &ticketStore{state: u.state}
}

func (u *unit) Records() persistence.ExecutionRecordWriter {
	return &recordWriter{state: u.state}
}

func (u *unit) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	saved := u.state.clone()

	if err := fn(ctx); err != nil {
		*u.state = *saved

		return err
	}

	return nil
}
