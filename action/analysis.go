package action

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-automation"
)

type analysisConfig struct {
	Kind   string   `json:"kind"`
	Prompt string   `json:"prompt"`
	Fields []string `json:"fields"`
}

func (c analysisConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Kind, validation.Required),
		validation.Field(&c.Fields, validation.Each(validation.Required)),
	)
}

// AnalysisExecutor handles RUN_ANALYSIS. Only the selected fields leave
// the engine; with no fields the whole snapshot is sent.
type AnalysisExecutor struct {
	analyzer Analyzer
}

func NewAnalysisExecutor(a Analyzer) *AnalysisExecutor {
	return &AnalysisExecutor{analyzer: a}
}

func (e *AnalysisExecutor) Kind() automation.ActionKind { return automation.ActionRunAnalysis }

func (e *AnalysisExecutor) Execute(ctx context.Context, raw map[string]any, actx automation.Context) (Result, error) {
	var cfg analysisConfig
	if err := decodeConfig(e.Kind(), raw, &cfg); err != nil {
		return nil, err
	}

	data := automation.CloneMap(actx.Entity)
	if len(cfg.Fields) > 0 {
		data = make(map[string]any, len(cfg.Fields))
		for _, field := range cfg.Fields {
			if v, ok := actx.Entity[field]; ok {
				data[field] = v
			}
		}
	}

	prompt, err := render(e.Kind(), "prompt", cfg.Prompt, actx)
	if err != nil {
		return nil, err
	}

	out, err := e.analyzer.Analyze(ctx, AnalysisRequest{
		Kind:       cfg.Kind,
		Prompt:     prompt,
		OwnerID:    actx.OwnerID,
		EntityType: actx.EntityType,
		EntityID:   actx.EntityID,
		Data:       data,
	})
	if err != nil {
		return nil, err
	}
	return Result{
		"kind":     cfg.Kind,
		"analysis": out,
	}, nil
}
