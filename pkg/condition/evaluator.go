// Package condition evaluates condition trees against ticket snapshots.
//
// Evaluation is pure: it reads only the snapshot, the supplied instant and
// the injected calendar, and it never fails. Field predicates over a field
// that the snapshot does not carry evaluate to false.
package condition

import (
	"strconv"
	"strings"
	"time"

	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/protocol"
)

// DefaultMaxDepth bounds the nesting of condition trees accepted at save time.
const DefaultMaxDepth = 32

// Evaluator evaluates condition trees. It is safe for concurrent use.
type Evaluator struct {
	calendar protocol.Calendar
}

// NewEvaluator creates an evaluator. A nil calendar makes BusinessHours false.
func NewEvaluator(calendar protocol.Calendar) *Evaluator {
	return &Evaluator{calendar: calendar}
}

// Evaluate returns the value of c for snapshot at now. A nil condition is true.
func (e *Evaluator) Evaluate(c models.Condition, snapshot *models.TicketSnapshot, now time.Time) bool {
	if c == nil {
		return true
	}

	switch v := c.(type) {
	case models.FieldEquals:
		actual, ok := snapshot.Field(v.Field)

		return ok && equal(actual, v.Value)

	case models.FieldNotEquals:
		actual, ok := snapshot.Field(v.Field)

		return ok && !equal(actual, v.Value)

	case models.FieldContains:
		actual, ok := snapshot.Field(v.Field)

		return ok && contains(actual, v.Substring)

	case models.FieldGreaterThan:
		n, ok := numericField(snapshot, v.Field)

		return ok && n > v.Value

	case models.FieldLessThan:
		n, ok := numericField(snapshot, v.Field)

		return ok && n < v.Value

	case models.HasTag:
		return snapshot.HasTag(v.Tag)

	case models.MissingTag:
		return !snapshot.HasTag(v.Tag)

	case models.AssignedTo:
		return snapshot.AssignedTo != "" && snapshot.AssignedTo == v.UserID

	case models.CreatedBy:
		return snapshot.CreatedBy != "" && snapshot.CreatedBy == v.UserID

	case models.AgeGreaterThan:
		return !snapshot.CreatedAt.IsZero() && now.Sub(snapshot.CreatedAt) > v.Duration

	case models.AgeLessThan:
		return !snapshot.CreatedAt.IsZero() && now.Sub(snapshot.CreatedAt) < v.Duration

	case models.BusinessHours:
		return e.calendar != nil && e.calendar.IsBusinessHours(now)

	case models.All:
		for _, child := range v.Conditions {
			if !e.Evaluate(child, snapshot, now) {
				return false
			}
		}

		return true

	case models.Any:
		for _, child := range v.Conditions {
			if e.Evaluate(child, snapshot, now) {
				return true
			}
		}

		return false

	case models.Not:
		return !e.Evaluate(v.Condition, snapshot, now)

	default:
		return false
	}
}

// EvaluateAll ANDs the given conditions, skipping nil ones.
func (e *Evaluator) EvaluateAll(snapshot *models.TicketSnapshot, now time.Time, conditions ...models.Condition) bool {
	for _, c := range conditions {
		if !e.Evaluate(c, snapshot, now) {
			return false
		}
	}

	return true
}

func equal(actual, expected any) bool {
	if a, ok := toFloat(actual); ok {
		if b, ok := toFloat(expected); ok {
			return a == b
		}
	}

	return models.Stringify(actual) == models.Stringify(expected)
}

func contains(actual any, substring string) bool {
	switch v := actual.(type) {
	case []any:
		for _, item := range v {
			if models.Stringify(item) == substring {
				return true
			}
		}

		return false
	case []string:
		for _, item := range v {
			if item == substring {
				return true
			}
		}

		return false
	default:
		return strings.Contains(models.Stringify(actual), substring)
	}
}

func numericField(snapshot *models.TicketSnapshot, field string) (float64, bool) {
	actual, ok := snapshot.Field(field)
	if !ok {
		return 0, false
	}

	return toFloat(actual)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)

		return f, err == nil
	default:
		return 0, false
	}
}
