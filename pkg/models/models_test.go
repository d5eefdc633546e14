package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCondition_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing type", `{"field":"a"}`},
		{"unknown type", `{"type":"script","code":"1"}`},
		{"equals without field", `{"type":"field_equals","value":1}`},
		{"equals without value", `{"type":"field_equals","field":"a"}`},
		{"contains without substring", `{"type":"field_contains","field":"a"}`},
		{"greater than a string", `{"type":"field_greater_than","field":"a","value":"ten"}`},
		{"tag without name", `{"type":"has_tag"}`},
		{"assigned without user", `{"type":"assigned_to"}`},
		{"negative age", `{"type":"age_greater_than","duration":"-1h"}`},
		{"age without unit", `{"type":"age_less_than","duration":"24"}`},
		{"empty not", `{"type":"not"}`},
		{"bad child", `{"type":"all","conditions":[{"type":"has_tag","tag":"a"},{"type":"nope"}]}`},
		{"not an object", `[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCondition([]byte(tt.data))
			require.ErrorIs(t, err, ErrMalformedCondition)
		})
	}
}

func TestDecodeCondition_Tree(t *testing.T) {
	data := `{"type":"any","conditions":[
		{"type":"not","condition":{"type":"business_hours"}},
		{"type":"all","conditions":[
			{"type":"field_equals","field":"category","value":"billing"},
			{"type":"age_greater_than","duration":"48h"}
		]}
	]}`

	c, err := DecodeCondition([]byte(data))
	require.NoError(t, err)

	expected := Any{Conditions: []Condition{
		Not{Condition: BusinessHours{}},
		All{Conditions: []Condition{
			FieldEquals{Field: "category", Value: "billing"},
			AgeGreaterThan{Duration: 48 * time.Hour},
		}},
	}}
	assert.Equal(t, expected, c)

	encoded, err := EncodeCondition(c)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"duration":"48h0m0s"`)
}

func notChain(depth int) []byte {
	var b strings.Builder

	b.WriteString(strings.Repeat(`{"type":"not","condition":`, depth))
	b.WriteString(`{"type":"has_tag","tag":"vip"}`)
	b.WriteString(strings.Repeat("}", depth))

	return []byte(b.String())
}

func TestDecodeCondition_NestingLimit(t *testing.T) {
	tests := []struct {
		name    string
		depth   int
		wantErr bool
	}{
		{name: "shallow", depth: 3},
		{name: "largest configurable depth", depth: 256},
		{name: "at the decode limit", depth: MaxConditionDecodeDepth - 1},
		{name: "past the decode limit", depth: MaxConditionDecodeDepth, wantErr: true},
		{name: "ten thousand levels", depth: 10_000, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCondition(notChain(tt.depth))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedCondition)

				return
			}

			require.NoError(t, err)
		})
	}
}

func TestDecodeCondition_DeepTreeRejectedQuickly(t *testing.T) {
	data := notChain(10_000)

	started := time.Now()
	_, err := DecodeCondition(data)
	elapsed := time.Since(started)

	require.ErrorIs(t, err, ErrMalformedCondition)
	assert.Less(t, elapsed, 100*time.Millisecond)

	var transition Transition
	err = json.Unmarshal([]byte(`{"name":"t","condition":`+string(notChain(5_000))+`}`), &transition)
	require.ErrorIs(t, err, ErrMalformedCondition)
}

func TestDecodeCondition_BracesInStringsIgnored(t *testing.T) {
	data := `{"type":"field_contains","field":"subject","substring":"{{{[[[\"}}}"}`

	c, err := DecodeCondition([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, FieldContains{Field: "subject", Substring: `{{{[[["}}}`}, c)
}

func TestConditionSpec_Null(t *testing.T) {
	var transition Transition
	require.NoError(t, json.Unmarshal([]byte(`{"name":"t","condition":null}`), &transition))
	assert.True(t, transition.Condition.IsZero())

	data, err := json.Marshal(transition.Condition)
	require.NoError(t, err)
	assert.JSONEq(t, "null", string(data))
}

func TestDecodeAction_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown type", `{"type":"run_script"}`},
		{"priority missing", `{"type":"set_priority"}`},
		{"email without recipients", `{"type":"send_email","template":"t"}`},
		{"task without title", `{"type":"create_task","task":{"description":"x"}}`},
		{"task with bad due", `{"type":"create_task","task":{"title":"x","due_in":"soon"}}`},
		{"update without value", `{"type":"update_field","field":"a"}`},
		{"empty note", `{"type":"add_note"}`},
		{"zero followup", `{"type":"schedule_followup","after":"0s"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeAction([]byte(tt.data))
			require.ErrorIs(t, err, ErrMalformedAction)
		})
	}
}

func TestActionList_JSON(t *testing.T) {
	var list ActionList

	data := `[
		{"type":"assign_to_user"},
		{"type":"create_task","task":{"title":"Call back","due_in":"2h"}},
		{"type":"update_field","field":"sla","value":4},
		{"type":"schedule_followup","after":"24h"}
	]`
	require.NoError(t, json.Unmarshal([]byte(data), &list))

	assert.Equal(t, ActionList{
		AssignToUser{},
		CreateTask{Task: TaskSpec{Title: "Call back", DueIn: 2 * time.Hour}},
		UpdateField{Field: "sla", Value: float64(4)},
		ScheduleFollowup{After: 24 * time.Hour},
	}, list)

	err := json.Unmarshal([]byte(`[{"type":"add_tag"}]`), &list)
	require.ErrorIs(t, err, ErrMalformedAction)
	require.ErrorContains(t, err, "actions[0]")

	assert.True(t, IsNotification(NotifyClient{Template: "x"}))
	assert.False(t, IsNotification(AddTag{Tag: "x"}))
}

func TestRole_Satisfies(t *testing.T) {
	tests := []struct {
		role     Role
		required Role
		want     bool
	}{
		{RoleAgent, "", true},
		{RoleAgent, RoleAgent, true},
		{RoleAgent, RoleSupervisor, false},
		{RoleSupervisor, RoleAgent, true},
		{RoleAdmin, RoleSupervisor, true},
		{Role("guest"), RoleAgent, false},
		{Role("guest"), "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+">="+string(tt.required), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.role.Satisfies(tt.required))
		})
	}
}

func TestTicketSnapshot_SetField(t *testing.T) {
	snapshot := &TicketSnapshot{ID: "T-1", Status: "open"}

	for _, field := range []string{"id", "status", "workflow_id", "created_by", "created_at"} {
		require.ErrorIs(t, snapshot.SetField(field, "x"), ErrProtectedField, field)
	}

	require.NoError(t, snapshot.SetField("priority", "high"))
	require.NoError(t, snapshot.SetField("assigned_to", "u-1"))
	require.NoError(t, snapshot.SetField("sla_hours", 4.5))

	assert.Equal(t, "high", snapshot.Priority)
	assert.Equal(t, "u-1", snapshot.AssignedTo)

	v, ok := snapshot.Field("sla_hours")
	require.True(t, ok)
	assert.InDelta(t, 4.5, v, 0)

	_, ok = snapshot.Field("created_by")
	assert.False(t, ok, "empty well-known fields count as missing")

	clone := snapshot.Clone()
	clone.CustomFields["sla_hours"] = 1
	assert.InDelta(t, 4.5, snapshot.CustomFields["sla_hours"], 0)
}

func TestWorkflowDefinition_Helpers(t *testing.T) {
	definition := &WorkflowDefinition{
		InitialStatus: "new",
		FinalStatuses: []string{"closed", "new"},
		Transitions: []*Transition{
			{ID: "a", FromStatus: "new", ToStatus: "open"},
			{ID: "b", FromStatus: "open", ToStatus: "closed", IsAutomatic: true},
			{ID: "c", FromStatus: "open", ToStatus: "open"},
		},
	}

	assert.Equal(t, []string{"new", "open", "closed"}, definition.States())
	assert.True(t, definition.IsFinal("closed"))
	assert.Equal(t, "b", definition.TransitionByID("b").ID)
	assert.Nil(t, definition.TransitionByID("z"))
	assert.Len(t, definition.AutomaticTransitions(), 1)
	assert.True(t, definition.Transitions[2].IsSelfLoop())

	clone := definition.Clone()
	clone.Transitions[0].Name = "changed"
	clone.FinalStatuses[0] = "done"
	assert.Empty(t, definition.Transitions[0].Name)
	assert.Equal(t, "closed", definition.FinalStatuses[0])
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, OutcomeOf(nil))
	assert.Equal(t, OutcomeSuccess, OutcomeOf([]ActionResult{{Status: ActionStatusSuccess}}))

	results := []ActionResult{
		{Index: 0, Status: ActionStatusSuccess},
		{Index: 1, Status: ActionStatusFatalFailure, Error: "boom"},
		{Index: 2, Status: ActionStatusSkipped},
	}
	assert.Equal(t, OutcomePartialActionFailure, OutcomeOf(results))

	record := &ExecutionRecord{ActionsApplied: results}
	assert.Len(t, record.FailedActions(), 2)
}
