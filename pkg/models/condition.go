package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ConditionType identifies a condition node on the wire.
type ConditionType string

const (
	ConditionFieldEquals      ConditionType = "field_equals"
	ConditionFieldNotEquals   ConditionType = "field_not_equals"
	ConditionFieldContains    ConditionType = "field_contains"
	ConditionFieldGreaterThan ConditionType = "field_greater_than"
	ConditionFieldLessThan    ConditionType = "field_less_than"
	ConditionHasTag           ConditionType = "has_tag"
	ConditionMissingTag       ConditionType = "missing_tag"
	ConditionAssignedTo       ConditionType = "assigned_to"
	ConditionCreatedBy        ConditionType = "created_by"
	ConditionAgeGreaterThan   ConditionType = "age_greater_than"
	ConditionAgeLessThan      ConditionType = "age_less_than"
	ConditionBusinessHours    ConditionType = "business_hours"
	ConditionAll              ConditionType = "all"
	ConditionAny              ConditionType = "any"
	ConditionNot              ConditionType = "not"
)

// Condition is a node of a boolean expression tree over ticket attributes.
// The set of implementations is closed to this package.
type Condition interface {
	Type() ConditionType
	isCondition()
}

type FieldEquals struct {
	Field string
	Value any
}

type FieldNotEquals struct {
	Field string
	Value any
}

type FieldContains struct {
	Field     string
	Substring string
}

type FieldGreaterThan struct {
	Field string
	Value float64
}

type FieldLessThan struct {
	Field string
	Value float64
}

type HasTag struct{ Tag string }

type MissingTag struct{ Tag string }

type AssignedTo struct{ UserID string }

type CreatedBy struct{ UserID string }

// AgeGreaterThan holds when the ticket is older than Duration at evaluation time.
type AgeGreaterThan struct{ Duration time.Duration }

// AgeLessThan holds when the ticket is younger than Duration at evaluation time.
type AgeLessThan struct{ Duration time.Duration }

type BusinessHours struct{}

// All is a logical AND of its children. An empty All is true.
type All struct{ Conditions []Condition }

// Any is a logical OR of its children. An empty Any is false.
type Any struct{ Conditions []Condition }

type Not struct{ Condition Condition }

func (FieldEquals) Type() ConditionType      { return ConditionFieldEquals }
func (FieldNotEquals) Type() ConditionType   { return ConditionFieldNotEquals }
func (FieldContains) Type() ConditionType    { return ConditionFieldContains }
func (FieldGreaterThan) Type() ConditionType { return ConditionFieldGreaterThan }
func (FieldLessThan) Type() ConditionType    { return ConditionFieldLessThan }
func (HasTag) Type() ConditionType           { return ConditionHasTag }
func (MissingTag) Type() ConditionType       { return ConditionMissingTag }
func (AssignedTo) Type() ConditionType       { return ConditionAssignedTo }
func (CreatedBy) Type() ConditionType        { return ConditionCreatedBy }
func (AgeGreaterThan) Type() ConditionType   { return ConditionAgeGreaterThan }
func (AgeLessThan) Type() ConditionType      { return ConditionAgeLessThan }
func (BusinessHours) Type() ConditionType    { return ConditionBusinessHours }
func (All) Type() ConditionType              { return ConditionAll }
func (Any) Type() ConditionType              { return ConditionAny }
func (Not) Type() ConditionType              { return ConditionNot }

func (FieldEquals) isCondition()      {}
func (FieldNotEquals) isCondition()   {}
func (FieldContains) isCondition()    {}
func (FieldGreaterThan) isCondition() {}
func (FieldLessThan) isCondition()    {}
func (HasTag) isCondition()           {}
func (MissingTag) isCondition()       {}
func (AssignedTo) isCondition()       {}
func (CreatedBy) isCondition()        {}
func (AgeGreaterThan) isCondition()   {}
func (AgeLessThan) isCondition()      {}
func (BusinessHours) isCondition()    {}
func (All) isCondition()              {}
func (Any) isCondition()              {}
func (Not) isCondition()              {}

// ConditionSpec wraps an optional condition tree. A nil Condition is always true.
type ConditionSpec struct {
	Condition Condition
}

// IsZero reports whether the spec carries no condition.
func (s ConditionSpec) IsZero() bool {
	return s.Condition == nil
}

func (s ConditionSpec) MarshalJSON() ([]byte, error) {
	if s.Condition == nil {
		return []byte("null"), nil
	}

	return EncodeCondition(s.Condition)
}

func (s *ConditionSpec) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		s.Condition = nil

		return nil
	}

	c, err := DecodeCondition(data)
	if err != nil {
		return err
	}

	s.Condition = c

	return nil
}

type conditionEnvelope struct {
	Type       ConditionType     `json:"type"`
	Field      string            `json:"field,omitempty"`
	Value      json.RawMessage   `json:"value,omitempty"`
	Substring  *string           `json:"substring,omitempty"`
	Tag        string            `json:"tag,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Duration   string            `json:"duration,omitempty"`
	Conditions []json.RawMessage `json:"conditions,omitempty"`
	Condition  json.RawMessage   `json:"condition,omitempty"`
}

// EncodeCondition renders a condition tree in its tagged JSON form.
func EncodeCondition(c Condition) ([]byte, error) {
	env, err := toConditionEnvelope(c)
	if err != nil {
		return nil, err
	}

	return json.Marshal(env)
}

func toConditionEnvelope(c Condition) (*conditionEnvelope, error) {
	if c == nil {
		return nil, malformedCondition("nil condition node")
	}

	env := &conditionEnvelope{Type: c.Type()}

	var err error

	switch v := c.(type) {
	case FieldEquals:
		env.Field = v.Field
		env.Value, err = json.Marshal(v.Value)
	case FieldNotEquals:
		env.Field = v.Field
		env.Value, err = json.Marshal(v.Value)
	case FieldContains:
		env.Field = v.Field
		env.Substring = &v.Substring
	case FieldGreaterThan:
		env.Field = v.Field
		env.Value, err = json.Marshal(v.Value)
	case FieldLessThan:
		env.Field = v.Field
		env.Value, err = json.Marshal(v.Value)
	case HasTag:
		env.Tag = v.Tag
	case MissingTag:
		env.Tag = v.Tag
	case AssignedTo:
		env.UserID = v.UserID
	case CreatedBy:
		env.UserID = v.UserID
	case AgeGreaterThan:
		env.Duration = v.Duration.String()
	case AgeLessThan:
		env.Duration = v.Duration.String()
	case BusinessHours:
	case All:
		env.Conditions, err = encodeChildren(v.Conditions)
	case Any:
		env.Conditions, err = encodeChildren(v.Conditions)
	case Not:
		env.Condition, err = EncodeCondition(v.Condition)
	default:
		return nil, malformedCondition("unsupported condition %T", c)
	}

	if err != nil {
		return nil, err
	}

	return env, nil
}

func encodeChildren(children []Condition) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(children))

	for _, child := range children {
		raw, err := EncodeCondition(child)
		if err != nil {
			return nil, err
		}

		out = append(out, raw)
	}

	return out, nil
}

// MaxConditionDecodeDepth bounds condition nesting while decoding, before any
// configured save-time depth limit applies. It is twice the largest
// configurable limit.
const MaxConditionDecodeDepth = 512

// DecodeCondition parses a tagged JSON condition tree. Unknown node types and
// missing attributes fail with ErrMalformedCondition, as do trees nested
// deeper than MaxConditionDecodeDepth.
func DecodeCondition(data []byte) (Condition, error) {
	// all/any nest an array inside each object, so a condition level costs
	// at most two JSON levels.
	if err := checkNesting(data, 2*MaxConditionDecodeDepth); err != nil {
		return nil, err
	}

	return decodeCondition(data, 1)
}

// checkNesting rejects documents nested deeper than limit in one linear scan,
// so oversized trees never reach the recursive decoder.
func checkNesting(data []byte, limit int) error {
	depth := 0
	inString := false
	escaped := false

	for _, b := range data {
		switch {
		case escaped:
			escaped = false
		case inString:
			switch b {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
		case b == '"':
			inString = true
		case b == '{' || b == '[':
			depth++
			if depth > limit {
				return malformedCondition("condition nesting exceeds %d levels", MaxConditionDecodeDepth)
			}
		case b == '}' || b == ']':
			depth--
		}
	}

	return nil
}

func decodeCondition(data []byte, depth int) (Condition, error) {
	if depth > MaxConditionDecodeDepth {
		return nil, malformedCondition("condition nesting exceeds %d levels", MaxConditionDecodeDepth)
	}

	var env conditionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, malformedCondition("%v", err)
	}

	switch env.Type {
	case ConditionFieldEquals, ConditionFieldNotEquals:
		if env.Field == "" {
			return nil, malformedCondition("%s requires a field", env.Type)
		}

		if len(env.Value) == 0 {
			return nil, malformedCondition("%s requires a value", env.Type)
		}

		var value any
		if err := json.Unmarshal(env.Value, &value); err != nil {
			return nil, malformedCondition("%s value: %v", env.Type, err)
		}

		if env.Type == ConditionFieldEquals {
			return FieldEquals{Field: env.Field, Value: value}, nil
		}

		return FieldNotEquals{Field: env.Field, Value: value}, nil

	case ConditionFieldContains:
		if env.Field == "" || env.Substring == nil {
			return nil, malformedCondition("field_contains requires field and substring")
		}

		return FieldContains{Field: env.Field, Substring: *env.Substring}, nil

	case ConditionFieldGreaterThan, ConditionFieldLessThan:
		if env.Field == "" {
			return nil, malformedCondition("%s requires a field", env.Type)
		}

		var value float64
		if len(env.Value) == 0 {
			return nil, malformedCondition("%s requires a numeric value", env.Type)
		}

		if err := json.Unmarshal(env.Value, &value); err != nil {
			return nil, malformedCondition("%s requires a numeric value", env.Type)
		}

		if env.Type == ConditionFieldGreaterThan {
			return FieldGreaterThan{Field: env.Field, Value: value}, nil
		}

		return FieldLessThan{Field: env.Field, Value: value}, nil

	case ConditionHasTag, ConditionMissingTag:
		if env.Tag == "" {
			return nil, malformedCondition("%s requires a tag", env.Type)
		}

		if env.Type == ConditionHasTag {
			return HasTag{Tag: env.Tag}, nil
		}

		return MissingTag{Tag: env.Tag}, nil

	case ConditionAssignedTo, ConditionCreatedBy:
		if env.UserID == "" {
			return nil, malformedCondition("%s requires a user_id", env.Type)
		}

		if env.Type == ConditionAssignedTo {
			return AssignedTo{UserID: env.UserID}, nil
		}

		return CreatedBy{UserID: env.UserID}, nil

	case ConditionAgeGreaterThan, ConditionAgeLessThan:
		d, err := time.ParseDuration(env.Duration)
		if err != nil || d < 0 {
			return nil, malformedCondition("%s requires a non-negative duration, got %q", env.Type, env.Duration)
		}

		if env.Type == ConditionAgeGreaterThan {
			return AgeGreaterThan{Duration: d}, nil
		}

		return AgeLessThan{Duration: d}, nil

	case ConditionBusinessHours:
		return BusinessHours{}, nil

	case ConditionAll, ConditionAny:
		children := make([]Condition, 0, len(env.Conditions))

		for i, raw := range env.Conditions {
			child, err := decodeCondition(raw, depth+1)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", env.Type, i, err)
			}

			children = append(children, child)
		}

		if env.Type == ConditionAll {
			return All{Conditions: children}, nil
		}

		return Any{Conditions: children}, nil

	case ConditionNot:
		if len(env.Condition) == 0 || isNull(env.Condition) {
			return nil, malformedCondition("not requires a condition")
		}

		child, err := decodeCondition(env.Condition, depth+1)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}

		return Not{Condition: child}, nil

	case "":
		return nil, malformedCondition("missing condition type")

	default:
		return nil, malformedCondition("unknown condition type %q", env.Type)
	}
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}
