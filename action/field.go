package action

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-automation"
)

type fieldConfig struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

func (c fieldConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Field, validation.Required),
	)
}

// FieldExecutor handles UPDATE_FIELD. The snapshot is only read for the
// previous value; the write goes through the FieldUpdater.
type FieldExecutor struct {
	fields FieldUpdater
}

func NewFieldExecutor(f FieldUpdater) *FieldExecutor {
	return &FieldExecutor{fields: f}
}

func (e *FieldExecutor) Kind() automation.ActionKind { return automation.ActionUpdateField }

func (e *FieldExecutor) Execute(ctx context.Context, raw map[string]any, actx automation.Context) (Result, error) {
	var cfg fieldConfig
	if err := decodeConfig(e.Kind(), raw, &cfg); err != nil {
		return nil, err
	}
	// keep the caller's value type instead of the json decoded one
	if v, ok := raw["value"]; ok {
		cfg.Value = v
	}

	previous := actx.Entity[cfg.Field]
	if err := e.fields.UpdateField(ctx, actx.EntityType, actx.EntityID, cfg.Field, cfg.Value); err != nil {
		return nil, err
	}
	return Result{
		"field":    cfg.Field,
		"previous": previous,
		"value":    cfg.Value,
	}, nil
}
