package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/store"
)

type putCall struct {
	bucket string
	object string
	body   []byte
	opts   minio.PutObjectOptions
}

type fakePutter struct {
	mu    sync.Mutex
	calls []putCall
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(body)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	f.calls = append(f.calls, putCall{bucket: bucket, object: object, body: body, opts: opts})
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func finalized(id string) automation.Execution {
	done := time.Date(2026, 6, 1, 8, 0, 1, 0, time.UTC)
	return automation.Execution{
		ID:          id,
		RuleID:      "rule-7",
		OwnerID:     "agency-1",
		Status:      automation.ExecutionSuccess,
		TriggeredBy: automation.TriggeredBy{EntityType: "lead", EntityID: "L1", Event: "LEAD_CREATED"},
		ActionsLog: []automation.ActionLogEntry{
			{Action: "SEND_MESSAGE", Status: automation.LogSuccess, Timestamp: done},
		},
		StartedAt:   done.Add(-time.Second),
		CompletedAt: &done,
	}
}

func TestNDJSONExporterWritesOneLinePerExecution(t *testing.T) {
	var buf bytes.Buffer
	exp := NewNDJSONExporter(&buf)

	require.NoError(t, exp.Export(context.Background(), finalized("e1")))
	require.NoError(t, exp.Export(context.Background(), finalized("e2")))

	scanner := bufio.NewScanner(&buf)
	var ids []string
	for scanner.Scan() {
		var got automation.Execution
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &got))
		ids = append(ids, got.ID)
	}
	assert.Equal(t, []string{"e1", "e2"}, ids)
}

func TestMinIOExporterObjectLayout(t *testing.T) {
	putter := &fakePutter{}
	exp := NewMinIOExporter(putter, "history", "/executions/")

	require.NoError(t, exp.Export(context.Background(), finalized("e1")))
	require.Len(t, putter.calls, 1)

	call := putter.calls[0]
	assert.Equal(t, "history", call.bucket)
	assert.Equal(t, "executions/rule-7/e1.json", call.object)
	assert.Equal(t, "application/json", call.opts.ContentType)
	assert.Equal(t, "SUCCESS", call.opts.UserMetadata["status"])

	var got automation.Execution
	require.NoError(t, json.Unmarshal(call.body, &got))
	assert.Equal(t, "e1", got.ID)
	assert.Len(t, got.ActionsLog, 1)
}

func TestMinIOExporterPropagatesPutErrors(t *testing.T) {
	exp := NewMinIOExporter(&fakePutter{err: errors.New("bucket missing")}, "history", "")
	err := exp.Export(context.Background(), finalized("e1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket missing")
	assert.Equal(t, "rule-7/e1.json", exp.ObjectKey(finalized("e1")))
}

func TestArchivingStoreExportsAfterFinalize(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	var exported []automation.Execution
	s := NewArchivingStore(mem, ExporterFunc(func(_ context.Context, exec automation.Execution) error {
		exported = append(exported, exec)
		return nil
	}), nil)

	id, err := s.CreateExecution(ctx, automation.Execution{
		RuleID:    "rule-7",
		OwnerID:   "agency-1",
		Status:    automation.ExecutionRunning,
		StartedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Empty(t, exported)

	update := store.ExecutionUpdate{
		Status:      automation.ExecutionPartial,
		ActionsLog:  []automation.ActionLogEntry{{Action: "CREATE_TASK", Status: automation.LogFailed, Error: "down"}},
		CompletedAt: time.Now().UTC(),
	}
	require.NoError(t, s.UpdateExecution(ctx, id, update))
	require.Len(t, exported, 1)
	assert.Equal(t, id, exported[0].ID)
	assert.Equal(t, automation.ExecutionPartial, exported[0].Status)

	assert.Error(t, s.UpdateExecution(ctx, id, update))
	assert.Len(t, exported, 1)
}

func TestArchivingStoreSwallowsExportErrors(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	s := NewArchivingStore(store.NewMemoryStore(), ExporterFunc(func(context.Context, automation.Execution) error {
		return errors.New("archive offline")
	}), automation.NewFmtLogger(&logs))

	id, err := s.CreateExecution(ctx, automation.Execution{RuleID: "r", Status: automation.ExecutionRunning, StartedAt: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, s.UpdateExecution(ctx, id, store.ExecutionUpdate{
		Status:      automation.ExecutionSuccess,
		ActionsLog:  []automation.ActionLogEntry{},
		CompletedAt: time.Now().UTC(),
	}))
	assert.True(t, strings.Contains(logs.String(), "archive offline"))
}

func TestBackfillSkipsRunningExecutions(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	for i := 0; i < 3; i++ {
		id, err := mem.CreateExecution(ctx, automation.Execution{RuleID: "r", Status: automation.ExecutionRunning, StartedAt: time.Now().UTC()})
		require.NoError(t, err)
		if i < 2 {
			require.NoError(t, mem.UpdateExecution(ctx, id, store.ExecutionUpdate{
				Status:      automation.ExecutionSuccess,
				ActionsLog:  []automation.ActionLogEntry{},
				CompletedAt: time.Now().UTC(),
			}))
		}
	}

	var buf bytes.Buffer
	n, err := Backfill(ctx, mem, store.ExecutionFilter{RuleID: "r"}, NewNDJSONExporter(&buf))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))
}
