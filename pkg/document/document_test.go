package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/ticketflow/pkg/models"
)

func sampleDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:            "wf-1",
		TenantID:      "tenant-1",
		Name:          "Escalation",
		InitialStatus: "pending",
		FinalStatuses: []string{"closed"},
		IsActive:      true,
		GlobalCondition: models.ConditionSpec{Condition: models.Not{
			Condition: models.HasTag{Tag: "spam"},
		}},
		Transitions: []*models.Transition{
			{
				ID:          "tr-1",
				Name:        "escalate",
				FromStatus:  "pending",
				ToStatus:    "escalated",
				IsAutomatic: true,
				Condition: models.ConditionSpec{Condition: models.All{Conditions: []models.Condition{
					models.AgeGreaterThan{Duration: 24 * time.Hour},
					models.FieldEquals{Field: "category", Value: "billing"},
				}}},
				Actions: models.ActionList{
					models.Escalate{Reason: "stale"},
					models.SendEmail{Template: "escalated", Recipients: []string{"lead@example.com"}},
				},
			},
			{
				ID:           "tr-2",
				Name:         "close",
				FromStatus:   "escalated",
				ToStatus:     "closed",
				RequiredRole: models.RoleSupervisor,
			},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	exportedAt := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	data, err := Encode(sampleDefinition(), exportedAt)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"format": "ticketflow/workflow"`)

	decoded, err := Decode(data)
	require.NoError(t, err)

	original := sampleDefinition()
	assert.Equal(t, original.Name, decoded.Name)
	assert.Equal(t, original.GlobalCondition, decoded.GlobalCondition)
	require.Len(t, decoded.Transitions, 2)
	assert.Equal(t, original.Transitions[0].Condition, decoded.Transitions[0].Condition)
	assert.Equal(t, original.Transitions[0].Actions, decoded.Transitions[0].Actions)
	assert.Equal(t, models.RoleSupervisor, decoded.Transitions[1].RequiredRole)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: `{`},
		{name: "wrong format", data: `{"format":"other","version":1,"definition":{"name":"x","initial_status":"a","transitions":[]}}`},
		{name: "wrong version", data: `{"format":"ticketflow/workflow","version":2,"definition":{"name":"x","initial_status":"a","transitions":[]}}`},
		{name: "missing definition", data: `{"format":"ticketflow/workflow","version":1}`},
		{
			name: "transition without endpoints",
			data: `{"format":"ticketflow/workflow","version":1,"definition":{"name":"x","initial_status":"a","transitions":[{"name":"t"}]}}`,
		},
		{
			name: "unknown condition type",
			data: `{"format":"ticketflow/workflow","version":1,"definition":{"name":"x","initial_status":"a","transitions":[` +
				`{"name":"t","from_status":"a","to_status":"b","condition":{"type":"regex_match"}}]}}`,
		},
		{
			name: "condition missing attributes",
			data: `{"format":"ticketflow/workflow","version":1,"definition":{"name":"x","initial_status":"a","transitions":[` +
				`{"name":"t","from_status":"a","to_status":"b","condition":{"type":"field_equals"}}]}}`,
		},
		{
			name: "unknown action type",
			data: `{"format":"ticketflow/workflow","version":1,"definition":{"name":"x","initial_status":"a","transitions":[` +
				`{"name":"t","from_status":"a","to_status":"b","actions":[{"type":"launch_rocket"}]}]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestDecode_MalformedConditionIsReported(t *testing.T) {
	data := `{"format":"ticketflow/workflow","version":1,"definition":{"name":"x","initial_status":"a","transitions":[` +
		`{"name":"t","from_status":"a","to_status":"b","condition":{"type":"age_greater_than","duration":"soon"}}]}}`

	_, err := Decode([]byte(data))
	require.ErrorIs(t, err, ErrInvalidDocument)
	assert.ErrorIs(t, err, models.ErrMalformedCondition)
}
