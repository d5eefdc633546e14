package persistence

import "fmt"

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

var allowedDefinitionSorts = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"name":       true,
}

// Normalize applies listing defaults and validates the sort parameters
// against an allowlist.
func (o ListDefinitionsOptions) Normalize() (ListDefinitionsOptions, error) {
	if o.Limit <= 0 || o.Limit > MaxListLimit {
		o.Limit = DefaultListLimit
	}

	if o.Offset < 0 {
		o.Offset = 0
	}

	if o.SortBy == "" {
		o.SortBy = "created_at"
	}

	if o.SortOrder == "" {
		o.SortOrder = "desc"
	}

	if !allowedDefinitionSorts[o.SortBy] {
		return o, fmt.Errorf("%w: %s", ErrInvalidSortField, o.SortBy)
	}

	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		return o, fmt.Errorf("%w: order %s", ErrInvalidSortField, o.SortOrder)
	}

	return o, nil
}
