// Package archive exports finalized executions to long-term storage.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/store"
)

// Exporter ships one finalized execution.
type Exporter interface {
	Export(ctx context.Context, exec automation.Execution) error
}

// ExporterFunc adapts a function to Exporter.
type ExporterFunc func(ctx context.Context, exec automation.Execution) error

func (f ExporterFunc) Export(ctx context.Context, exec automation.Execution) error {
	return f(ctx, exec)
}

// NDJSONExporter writes one JSON document per line.
type NDJSONExporter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewNDJSONExporter(w io.Writer) *NDJSONExporter {
	return &NDJSONExporter{enc: json.NewEncoder(w)}
}

func (e *NDJSONExporter) Export(_ context.Context, exec automation.Execution) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(exec); err != nil {
		return fmt.Errorf("encode execution %s: %w", exec.ID, err)
	}
	return nil
}

// Backfill exports every execution matching filter and returns how many
// were written. Executions still RUNNING are skipped.
func Backfill(ctx context.Context, src store.ExecutionStore, filter store.ExecutionFilter, exp Exporter) (int, error) {
	execs, err := src.ListExecutions(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("list executions: %w", err)
	}
	n := 0
	for _, exec := range execs {
		if !exec.Finalized() {
			continue
		}
		if err := exp.Export(ctx, exec); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
