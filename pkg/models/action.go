package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionType identifies an action on the wire.
type ActionType string

const (
	ActionAssignToUser     ActionType = "assign_to_user"
	ActionAssignToTeam     ActionType = "assign_to_team"
	ActionSetPriority      ActionType = "set_priority"
	ActionAddTag           ActionType = "add_tag"
	ActionRemoveTag        ActionType = "remove_tag"
	ActionSendEmail        ActionType = "send_email"
	ActionCreateTask       ActionType = "create_task"
	ActionUpdateField      ActionType = "update_field"
	ActionAddNote          ActionType = "add_note"
	ActionScheduleFollowup ActionType = "schedule_followup"
	ActionNotifyClient     ActionType = "notify_client"
	ActionEscalate         ActionType = "escalate"
)

// Action is a declarative side-effect request executed after a transition.
// The set of implementations is closed to this package.
type Action interface {
	Type() ActionType
	isAction()
}

// AssignToUser assigns the ticket to UserID, or to a user picked from the
// definition's auto-assign pool when UserID is empty.
type AssignToUser struct{ UserID string }

// AssignToTeam assigns the ticket to TeamID, or to the auto-assign default team when empty.
type AssignToTeam struct{ TeamID string }

type SetPriority struct{ Priority string }

type AddTag struct{ Tag string }

type RemoveTag struct{ Tag string }

type SendEmail struct {
	Template   string
	Recipients []string
}

type CreateTask struct{ Task TaskSpec }

type UpdateField struct {
	Field string
	Value any
}

type AddNote struct{ Text string }

// ScheduleFollowup schedules a follow-up After the execution time.
type ScheduleFollowup struct{ After time.Duration }

type NotifyClient struct{ Template string }

type Escalate struct{ Reason string }

// TaskSpec describes a task created by a CreateTask action.
type TaskSpec struct {
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	AssigneeID  string        `json:"assignee_id,omitempty"`
	DueIn       time.Duration `json:"-"`
}

func (AssignToUser) Type() ActionType     { return ActionAssignToUser }
func (AssignToTeam) Type() ActionType     { return ActionAssignToTeam }
func (SetPriority) Type() ActionType      { return ActionSetPriority }
func (AddTag) Type() ActionType           { return ActionAddTag }
func (RemoveTag) Type() ActionType        { return ActionRemoveTag }
func (SendEmail) Type() ActionType        { return ActionSendEmail }
func (CreateTask) Type() ActionType       { return ActionCreateTask }
func (UpdateField) Type() ActionType      { return ActionUpdateField }
func (AddNote) Type() ActionType          { return ActionAddNote }
func (ScheduleFollowup) Type() ActionType { return ActionScheduleFollowup }
func (NotifyClient) Type() ActionType     { return ActionNotifyClient }
func (Escalate) Type() ActionType         { return ActionEscalate }

func (AssignToUser) isAction()     {}
func (AssignToTeam) isAction()     {}
func (SetPriority) isAction()      {}
func (AddTag) isAction()           {}
func (RemoveTag) isAction()        {}
func (SendEmail) isAction()        {}
func (CreateTask) isAction()       {}
func (UpdateField) isAction()      {}
func (AddNote) isAction()          {}
func (ScheduleFollowup) isAction() {}
func (NotifyClient) isAction()     {}
func (Escalate) isAction()         {}

// IsNotification reports whether the action talks to the notification port.
func IsNotification(a Action) bool {
	switch a.(type) {
	case SendEmail, NotifyClient:
		return true
	default:
		return false
	}
}

// ActionList is an ordered list of actions with a tagged JSON form.
type ActionList []Action

type actionEnvelope struct {
	Type       ActionType      `json:"type"`
	UserID     string          `json:"user_id,omitempty"`
	TeamID     string          `json:"team_id,omitempty"`
	Priority   string          `json:"priority,omitempty"`
	Tag        string          `json:"tag,omitempty"`
	Template   string          `json:"template,omitempty"`
	Recipients []string        `json:"recipients,omitempty"`
	Task       *taskEnvelope   `json:"task,omitempty"`
	Field      string          `json:"field,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
	Text       string          `json:"text,omitempty"`
	After      string          `json:"after,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

type taskEnvelope struct {
	TaskSpec

	DueIn string `json:"due_in,omitempty"`
}

func (l ActionList) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(l))

	for i, a := range l {
		raw, err := EncodeAction(a)
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}

		out = append(out, raw)
	}

	return json.Marshal(out)
}

func (l *ActionList) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*l = nil

		return nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return malformedAction("actions must be a list: %v", err)
	}

	list := make(ActionList, 0, len(raws))

	for i, raw := range raws {
		a, err := DecodeAction(raw)
		if err != nil {
			return fmt.Errorf("actions[%d]: %w", i, err)
		}

		list = append(list, a)
	}

	*l = list

	return nil
}

// EncodeAction renders an action in its tagged JSON form.
func EncodeAction(a Action) ([]byte, error) {
	if a == nil {
		return nil, malformedAction("nil action")
	}

	env := actionEnvelope{Type: a.Type()}

	switch v := a.(type) {
	case AssignToUser:
		env.UserID = v.UserID
	case AssignToTeam:
		env.TeamID = v.TeamID
	case SetPriority:
		env.Priority = v.Priority
	case AddTag:
		env.Tag = v.Tag
	case RemoveTag:
		env.Tag = v.Tag
	case SendEmail:
		env.Template = v.Template
		env.Recipients = v.Recipients
	case CreateTask:
		task := &taskEnvelope{TaskSpec: v.Task}
		if v.Task.DueIn > 0 {
			task.DueIn = v.Task.DueIn.String()
		}

		env.Task = task
	case UpdateField:
		value, err := json.Marshal(v.Value)
		if err != nil {
			return nil, malformedAction("update_field value: %v", err)
		}

		env.Field = v.Field
		env.Value = value
	case AddNote:
		env.Text = v.Text
	case ScheduleFollowup:
		env.After = v.After.String()
	case NotifyClient:
		env.Template = v.Template
	case Escalate:
		env.Reason = v.Reason
	default:
		return nil, malformedAction("unsupported action %T", a)
	}

	return json.Marshal(env)
}

// ValidateAction reports whether a survives its wire form, the same check
// applied when actions are decoded.
func ValidateAction(a Action) error {
	data, err := EncodeAction(a)
	if err != nil {
		return err
	}

	_, err = DecodeAction(data)

	return err
}

// DecodeAction parses a tagged JSON action. Unknown types and missing
// attributes fail with ErrMalformedAction.
func DecodeAction(data []byte) (Action, error) {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, malformedAction("%v", err)
	}

	switch env.Type {
	case ActionAssignToUser:
		return AssignToUser{UserID: env.UserID}, nil

	case ActionAssignToTeam:
		return AssignToTeam{TeamID: env.TeamID}, nil

	case ActionSetPriority:
		if env.Priority == "" {
			return nil, malformedAction("set_priority requires a priority")
		}

		return SetPriority{Priority: env.Priority}, nil

	case ActionAddTag, ActionRemoveTag:
		if env.Tag == "" {
			return nil, malformedAction("%s requires a tag", env.Type)
		}

		if env.Type == ActionAddTag {
			return AddTag{Tag: env.Tag}, nil
		}

		return RemoveTag{Tag: env.Tag}, nil

	case ActionSendEmail:
		if env.Template == "" || len(env.Recipients) == 0 {
			return nil, malformedAction("send_email requires a template and at least one recipient")
		}

		return SendEmail{Template: env.Template, Recipients: env.Recipients}, nil

	case ActionCreateTask:
		if env.Task == nil || env.Task.Title == "" {
			return nil, malformedAction("create_task requires a task with a title")
		}

		task := env.Task.TaskSpec

		if env.Task.DueIn != "" {
			d, err := time.ParseDuration(env.Task.DueIn)
			if err != nil || d < 0 {
				return nil, malformedAction("create_task due_in %q is not a valid duration", env.Task.DueIn)
			}

			task.DueIn = d
		}

		return CreateTask{Task: task}, nil

	case ActionUpdateField:
		if env.Field == "" || len(env.Value) == 0 {
			return nil, malformedAction("update_field requires field and value")
		}

		var value any
		if err := json.Unmarshal(env.Value, &value); err != nil {
			return nil, malformedAction("update_field value: %v", err)
		}

		return UpdateField{Field: env.Field, Value: value}, nil

	case ActionAddNote:
		if env.Text == "" {
			return nil, malformedAction("add_note requires text")
		}

		return AddNote{Text: env.Text}, nil

	case ActionScheduleFollowup:
		d, err := time.ParseDuration(env.After)
		if err != nil || d <= 0 {
			return nil, malformedAction("schedule_followup requires a positive duration, got %q", env.After)
		}

		return ScheduleFollowup{After: d}, nil

	case ActionNotifyClient:
		if env.Template == "" {
			return nil, malformedAction("notify_client requires a template")
		}

		return NotifyClient{Template: env.Template}, nil

	case ActionEscalate:
		return Escalate{Reason: env.Reason}, nil

	case "":
		return nil, malformedAction("missing action type")

	default:
		return nil, malformedAction("unknown action type %q", env.Type)
	}
}
