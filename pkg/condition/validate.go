package condition

import (
	"fmt"

	"github.com/dukex/ticketflow/pkg/models"
)

// Depth returns the height of the tree rooted at c. A leaf has depth 1 and a
// nil condition has depth 0.
func Depth(c models.Condition) int {
	switch v := c.(type) {
	case nil:
		return 0
	case models.All:
		return 1 + maxDepth(v.Conditions)
	case models.Any:
		return 1 + maxDepth(v.Conditions)
	case models.Not:
		return 1 + Depth(v.Condition)
	default:
		return 1
	}
}

func maxDepth(children []models.Condition) int {
	deepest := 0

	for _, child := range children {
		if d := Depth(child); d > deepest {
			deepest = d
		}
	}

	return deepest
}

// Validate checks a condition tree before it is persisted. Trees deeper than
// maxDepth, nil children and empty leaf attributes fail with
// models.ErrMalformedCondition.
func Validate(c models.Condition, maxDepth int) error {
	if c == nil {
		return nil
	}

	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	if d := Depth(c); d > maxDepth {
		return fmt.Errorf("%w: depth %d exceeds maximum %d", models.ErrMalformedCondition, d, maxDepth)
	}

	return validateNode(c)
}

func validateNode(c models.Condition) error {
	switch v := c.(type) {
	case nil:
		return fmt.Errorf("%w: nil node", models.ErrMalformedCondition)
	case models.FieldEquals:
		return requireField(v.Field, c)
	case models.FieldNotEquals:
		return requireField(v.Field, c)
	case models.FieldContains:
		return requireField(v.Field, c)
	case models.FieldGreaterThan:
		return requireField(v.Field, c)
	case models.FieldLessThan:
		return requireField(v.Field, c)
	case models.HasTag:
		return requireField(v.Tag, c)
	case models.MissingTag:
		return requireField(v.Tag, c)
	case models.AssignedTo:
		return requireField(v.UserID, c)
	case models.CreatedBy:
		return requireField(v.UserID, c)
	case models.AgeGreaterThan:
		return requireNonNegative(v.Duration >= 0, c)
	case models.AgeLessThan:
		return requireNonNegative(v.Duration >= 0, c)
	case models.All:
		return validateChildren(v.Conditions)
	case models.Any:
		return validateChildren(v.Conditions)
	case models.Not:
		return validateNode(v.Condition)
	default:
		return nil
	}
}

func validateChildren(children []models.Condition) error {
	for _, child := range children {
		if err := validateNode(child); err != nil {
			return err
		}
	}

	return nil
}

func requireField(value string, c models.Condition) error {
	if value == "" {
		return fmt.Errorf("%w: %s has an empty operand", models.ErrMalformedCondition, c.Type())
	}

	return nil
}

func requireNonNegative(ok bool, c models.Condition) error {
	if !ok {
		return fmt.Errorf("%w: %s has a negative duration", models.ErrMalformedCondition, c.Type())
	}

	return nil
}
