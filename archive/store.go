package archive

import (
	"context"

	"github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/store"
)

// ArchivingStore exports every execution right after its completion
// write. Export failures are logged and never reach the run.
type ArchivingStore struct {
	store.ExecutionStore
	exporter Exporter
	logger   automation.Logger
}

func NewArchivingStore(inner store.ExecutionStore, exporter Exporter, logger automation.Logger) *ArchivingStore {
	if logger == nil {
		logger = automation.NopLogger{}
	}
	return &ArchivingStore{ExecutionStore: inner, exporter: exporter, logger: logger}
}

func (s *ArchivingStore) UpdateExecution(ctx context.Context, id string, update store.ExecutionUpdate) error {
	if err := s.ExecutionStore.UpdateExecution(ctx, id, update); err != nil {
		return err
	}

	exec, err := s.GetExecution(ctx, id)
	if err != nil {
		s.logger.Error("archive: load execution %s: %v", id, err)
		return nil
	}
	if err := s.exporter.Export(ctx, *exec); err != nil {
		s.logger.Error("archive: export execution %s: %v", id, err)
	}
	return nil
}
