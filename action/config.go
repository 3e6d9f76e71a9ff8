package action

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-automation"
)

// decodeConfig maps the raw rule config onto a typed struct and validates it.
func decodeConfig(kind automation.ActionKind, raw map[string]any, out any) error {
	meta := map[string]any{"action": kind.String()}
	if raw == nil {
		raw = map[string]any{}
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return automation.NewError(automation.ErrActionConfig, fmt.Sprintf("%s config is not serializable", kind), err, meta)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return automation.NewError(automation.ErrActionConfig, fmt.Sprintf("%s config has the wrong shape", kind), err, meta)
	}
	v, ok := out.(validation.Validatable)
	if !ok {
		return nil
	}
	if verr := errors.ValidateWithOzzo(v.Validate, fmt.Sprintf("invalid %s config", kind)); verr != nil {
		return verr.WithTextCode(automation.ErrCodeActionConfig).WithMetadata(meta)
	}
	return nil
}

func templateData(actx automation.Context) map[string]any {
	return map[string]any{
		"entity":      actx.Entity,
		"event":       actx.Event,
		"entity_type": actx.EntityType,
		"entity_id":   actx.EntityID,
		"owner_id":    actx.OwnerID,
	}
}

// render expands a text/template against the run context.
// Plain strings are returned untouched.
func render(kind automation.ActionKind, name, text string, actx automation.Context) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", automation.NewError(automation.ErrActionConfig,
			fmt.Sprintf("%s %s template is invalid", kind, name), err,
			map[string]any{"action": kind.String()})
	}
	var b strings.Builder
	if err := tpl.Execute(&b, templateData(actx)); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return b.String(), nil
}

func entityString(actx automation.Context, field string) (string, bool) {
	v, ok := actx.Entity[field]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func oneOf(values ...string) validation.Rule {
	items := make([]any, len(values))
	for i, v := range values {
		items[i] = v
	}
	return validation.In(items...)
}
