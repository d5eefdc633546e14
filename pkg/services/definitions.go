package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dukex/ticketflow/pkg/condition"
	"github.com/dukex/ticketflow/pkg/document"
	"github.com/dukex/ticketflow/pkg/eventbus"
	"github.com/dukex/ticketflow/pkg/events"
	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/persistence"
)

const importedSuffix = " (imported)"

// maxRenameAttempts bounds the search for a free name on import and duplicate.
const maxRenameAttempts = 100

type Option func(*options)

type options struct {
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	maxDepth  int
	now       func() time.Time
}

func defaultOptions() options {
	return options{
		logger:   slog.Default(),
		maxDepth: condition.DefaultMaxDepth,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithPublisher publishes definition lifecycle events.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(o *options) {
		o.publisher = publisher
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxConditionDepth limits the height of condition trees accepted on save.
func WithMaxConditionDepth(depth int) Option {
	return func(o *options) {
		if depth > 0 {
			o.maxDepth = depth
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Definitions is the workflow definition store.
type Definitions struct {
	persistence persistence.Persistence
	validate    *validator.Validate
	options
}

func NewDefinitions(p persistence.Persistence, opts ...Option) *Definitions {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Definitions{
		persistence: p,
		validate:    validator.New(),
		options:     o,
	}
}

// HealthCheck checks the health of the persistence layer.
func (d *Definitions) HealthCheck(ctx context.Context) (string, bool) {
	if d.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := d.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListDefinitionsRequest contains options for listing definitions.
type ListDefinitionsRequest struct {
	TenantID string
	Active   *bool

	Limit  int
	Offset int

	SortBy    string
	SortOrder string
}

// ListDefinitionsResponse contains the result of listing definitions.
type ListDefinitionsResponse struct {
	Definitions []*models.WorkflowDefinition `json:"definitions"`
	TotalCount  int64                        `json:"total_count"`
	HasNextPage bool                         `json:"has_next_page"`
}

// List retrieves definitions with filtering, sorting, and pagination.
func (d *Definitions) List(ctx context.Context, req ListDefinitionsRequest) (*ListDefinitionsResponse, error) {
	opts, err := persistence.ListDefinitionsOptions{
		TenantID:  strings.TrimSpace(req.TenantID),
		Active:    req.Active,
		Limit:     req.Limit,
		Offset:    req.Offset,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	}.Normalize()
	if err != nil {
		return nil, NewValidationError("List", "INVALID_SORT_FIELD", err.Error(), ErrInvalidSortField)
	}

	result, err := d.persistence.DefinitionRepository().List(ctx, opts)
	if err != nil {
		if persistence.IsInvalidSortField(err) {
			return nil, ErrInvalidSortField
		}

		return nil, fmt.Errorf("failed to list workflow definitions: %w", err)
	}

	return &ListDefinitionsResponse{
		Definitions: result.Definitions,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

// FetchByID retrieves a definition with its transitions.
func (d *Definitions) FetchByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return d.persistence.DefinitionRepository().GetByID(ctx, id)
}

// Create validates and stores a new definition. Identifiers in the
// submission are ignored.
func (d *Definitions) Create(ctx context.Context, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if definition == nil {
		return nil, ErrDefinitionNil
	}

	resetIdentifiers(definition)

	if err := d.Validate(definition); err != nil {
		return nil, err
	}

	if err := d.persistence.DefinitionRepository().Save(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to create workflow definition: %w", err)
	}

	d.publish(ctx, events.DefinitionCreatedEvent, definition)

	return definition, nil
}

// Update replaces a definition and its whole transition set. Transitions
// matched by id are updated, missing ones deleted and new ones inserted.
func (d *Definitions) Update(ctx context.Context, id string, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if definition == nil {
		return nil, ErrDefinitionNil
	}

	existing, err := d.persistence.DefinitionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	definition.ID = id
	definition.CreatedAt = existing.CreatedAt

	if definition.TenantID == "" {
		definition.TenantID = existing.TenantID
	}

	if err := d.Validate(definition); err != nil {
		return nil, err
	}

	if err := d.persistence.DefinitionRepository().Save(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to update workflow definition: %w", err)
	}

	d.publish(ctx, events.DefinitionUpdatedEvent, definition)

	return definition, nil
}

// Delete removes a definition. It fails with ErrDefinitionInUse while a
// bound ticket sits in a non-final status.
func (d *Definitions) Delete(ctx context.Context, id string) error {
	existing, err := d.persistence.DefinitionRepository().GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := d.persistence.DefinitionRepository().Delete(ctx, id); err != nil {
		if errors.Is(err, ErrDefinitionInUse) {
			return err
		}

		return fmt.Errorf("failed to delete workflow definition: %w", err)
	}

	d.publish(ctx, events.DefinitionDeletedEvent, existing)

	return nil
}

// Duplicate copies a definition and its transitions under newName. The copy
// is inactive. An empty newName derives one from the source name.
func (d *Definitions) Duplicate(ctx context.Context, id, newName string) (*models.WorkflowDefinition, error) {
	source, err := d.persistence.DefinitionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	duplicate := source.Clone()
	resetIdentifiers(duplicate)
	duplicate.IsActive = false

	newName = strings.TrimSpace(newName)
	if newName == "" {
		newName, err = d.freeName(ctx, duplicate.TenantID, source.Name+" (copy)")
		if err != nil {
			return nil, err
		}
	}

	duplicate.Name = newName

	if err := d.Validate(duplicate); err != nil {
		return nil, err
	}

	if err := d.persistence.DefinitionRepository().Save(ctx, duplicate); err != nil {
		return nil, fmt.Errorf("failed to duplicate workflow definition: %w", err)
	}

	d.publish(ctx, events.DefinitionCreatedEvent, duplicate)

	return duplicate, nil
}

// Export renders a definition as a transportable document.
func (d *Definitions) Export(ctx context.Context, id string) ([]byte, error) {
	definition, err := d.persistence.DefinitionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return document.Encode(definition, d.now())
}

// Import creates a definition from an exported document. The result is
// always inactive and gets fresh identifiers; a name already used by the
// tenant gets an " (imported)" suffix. An empty tenantID keeps the
// document's tenant.
func (d *Definitions) Import(ctx context.Context, tenantID string, data []byte) (*models.WorkflowDefinition, error) {
	definition, err := document.Decode(data)
	if err != nil {
		return nil, NewValidationError("Import", "INVALID_DOCUMENT", err.Error(), err)
	}

	resetIdentifiers(definition)
	definition.IsActive = false
	definition.CreatedBy = ""

	if tenantID != "" {
		definition.TenantID = tenantID
	}

	if err := d.Validate(definition); err != nil {
		return nil, err
	}

	name, err := d.freeName(ctx, definition.TenantID, definition.Name)
	if err != nil {
		return nil, err
	}

	definition.Name = name

	if err := d.persistence.DefinitionRepository().Save(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to import workflow definition: %w", err)
	}

	d.publish(ctx, events.DefinitionImportedEvent, definition)

	return definition, nil
}

// SetActive toggles whether a definition may govern tickets.
func (d *Definitions) SetActive(ctx context.Context, id string, active bool) (*models.WorkflowDefinition, error) {
	definition, err := d.persistence.DefinitionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if definition.IsActive == active {
		return definition, nil
	}

	definition.IsActive = active

	if err := d.persistence.DefinitionRepository().Save(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to change workflow definition activity: %w", err)
	}

	eventType := events.DefinitionDeactivatedEvent
	if active {
		eventType = events.DefinitionActivatedEvent
	}

	d.publish(ctx, eventType, definition)

	return definition, nil
}

// Validate runs the save-time checks on a definition.
func (d *Definitions) Validate(definition *models.WorkflowDefinition) error {
	if definition == nil {
		return ErrDefinitionNil
	}

	if err := d.validate.Struct(definition); err != nil {
		return NewValidationError("Validate", "INVALID_DEFINITION", describe(err), ErrInvalidDefinition)
	}

	if err := condition.Validate(definition.GlobalCondition.Condition, d.maxDepth); err != nil {
		return NewValidationError("Validate", "MALFORMED_CONDITION", "global condition: "+err.Error(), err)
	}

	for i, t := range definition.Transitions {
		if t == nil {
			return NewValidationError("Validate", "INVALID_DEFINITION", fmt.Sprintf("transition %d is empty", i), ErrInvalidDefinition)
		}

		if err := d.validateTransition(t); err != nil {
			return err
		}
	}

	return nil
}

func (d *Definitions) validateTransition(t *models.Transition) error {
	if err := d.validate.Struct(t); err != nil {
		return NewValidationError("Validate", "INVALID_TRANSITION",
			fmt.Sprintf("transition %q: %s", t.Name, describe(err)), ErrInvalidDefinition)
	}

	if t.RequiredRole != "" && !t.RequiredRole.Valid() {
		return NewValidationError("Validate", "INVALID_ROLE",
			fmt.Sprintf("transition %q: unknown role %q", t.Name, t.RequiredRole), ErrInvalidDefinition)
	}

	if t.IsAutomatic && t.IsSelfLoop() {
		return NewValidationError("Validate", "AUTOMATIC_SELF_LOOP",
			fmt.Sprintf("transition %q: automatic transition from %q to itself", t.Name, t.FromStatus), ErrAutomaticSelfLoop)
	}

	if err := condition.Validate(t.Condition.Condition, d.maxDepth); err != nil {
		return NewValidationError("Validate", "MALFORMED_CONDITION",
			fmt.Sprintf("transition %q: %s", t.Name, err), err)
	}

	for i, action := range t.Actions {
		if err := models.ValidateAction(action); err != nil {
			return NewValidationError("Validate", "MALFORMED_ACTION",
				fmt.Sprintf("transition %q action %d: %s", t.Name, i, err), err)
		}
	}

	return nil
}

// freeName returns name, or name with an import suffix when the tenant
// already owns a definition called name.
func (d *Definitions) freeName(ctx context.Context, tenantID, name string) (string, error) {
	candidate := name

	for attempt := 1; attempt <= maxRenameAttempts; attempt++ {
		_, err := d.persistence.DefinitionRepository().GetByName(ctx, tenantID, candidate)
		if persistence.IsDefinitionNotFound(err) {
			return candidate, nil
		}

		if err != nil {
			return "", fmt.Errorf("failed to check workflow definition name: %w", err)
		}

		candidate = name + importedSuffix
		if attempt > 1 {
			candidate = fmt.Sprintf("%s (imported %d)", name, attempt)
		}
	}

	return "", fmt.Errorf("%w: no free name for %q", ErrDuplicateName, name)
}

func (d *Definitions) publish(ctx context.Context, eventType events.EventType, definition *models.WorkflowDefinition) {
	d.logger.InfoContext(ctx, "workflow definition changed",
		"event", eventType,
		"workflow_id", definition.ID,
		"name", definition.Name,
	)

	if d.publisher == nil {
		return
	}

	event := events.DefinitionChanged{
		BaseEvent: events.NewBaseEvent(eventType, definition.ID),
		TenantID:  definition.TenantID,
		Name:      definition.Name,
	}

	if err := d.publisher.Publish(ctx, definition.ID, event); err != nil {
		d.logger.ErrorContext(ctx, "failed to publish definition event", "workflow_id", definition.ID, "error", err)
	}
}

// resetIdentifiers clears every stored identifier so the next save inserts.
func resetIdentifiers(definition *models.WorkflowDefinition) {
	definition.ID = ""
	definition.CreatedAt = time.Time{}
	definition.UpdatedAt = time.Time{}

	for _, t := range definition.Transitions {
		if t == nil {
			continue
		}

		t.ID = ""
		t.WorkflowID = ""
	}
}

func describe(err error) string {
	var violations validator.ValidationErrors
	if !errors.As(err, &violations) {
		return err.Error()
	}

	messages := make([]string, 0, len(violations))
	for _, v := range violations {
		messages = append(messages, fmt.Sprintf("%s failed %s", v.Field(), v.Tag()))
	}

	return strings.Join(messages, ", ")
}
