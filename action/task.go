package action

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-automation"
)

type taskConfig struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	AssigneeID  string  `json:"assignee_id"`
	DueInHours  float64 `json:"due_in_hours"`
	Priority    string  `json:"priority"`
}

func (c taskConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Title, validation.Required, validation.Length(1, 500)),
		validation.Field(&c.DueInHours, validation.Min(0.0)),
		validation.Field(&c.Priority, oneOf("low", "normal", "high", "urgent")),
	)
}

// TaskExecutor handles CREATE_TASK.
type TaskExecutor struct {
	tasks TaskCreator
	now   func() time.Time
}

func NewTaskExecutor(t TaskCreator) *TaskExecutor {
	return &TaskExecutor{tasks: t, now: func() time.Time { return time.Now().UTC() }}
}

func (e *TaskExecutor) Kind() automation.ActionKind { return automation.ActionCreateTask }

func (e *TaskExecutor) Execute(ctx context.Context, raw map[string]any, actx automation.Context) (Result, error) {
	var cfg taskConfig
	if err := decodeConfig(e.Kind(), raw, &cfg); err != nil {
		return nil, err
	}

	title, err := render(e.Kind(), "title", cfg.Title, actx)
	if err != nil {
		return nil, err
	}
	description, err := render(e.Kind(), "description", cfg.Description, actx)
	if err != nil {
		return nil, err
	}

	req := TaskRequest{
		OwnerID:     actx.OwnerID,
		AssigneeID:  cfg.AssigneeID,
		Title:       title,
		Description: description,
		Priority:    cfg.Priority,
		EntityType:  actx.EntityType,
		EntityID:    actx.EntityID,
	}
	if req.AssigneeID == "" {
		req.AssigneeID = actx.OwnerID
	}
	if req.Priority == "" {
		req.Priority = "normal"
	}
	if cfg.DueInHours > 0 {
		due := e.now().Add(time.Duration(cfg.DueInHours * float64(time.Hour)))
		req.DueAt = &due
	}

	id, err := e.tasks.CreateTask(ctx, req)
	if err != nil {
		return nil, err
	}
	result := Result{
		"task_id":     id,
		"assignee_id": req.AssigneeID,
	}
	if req.DueAt != nil {
		result["due_at"] = req.DueAt.Format(time.RFC3339)
	}
	return result, nil
}
