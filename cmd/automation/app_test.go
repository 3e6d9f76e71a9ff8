package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/config"
)

const leadsFile = "../../ruleset/testdata/leads.yaml"

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Scheduler.Enabled = false
	out := &bytes.Buffer{}
	app, err := NewApp(context.Background(), cfg, out, io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app, out
}

func importLeads(t *testing.T, app *App) {
	t.Helper()
	cmd := RulesImportCmd{File: leadsFile, Status: "ACTIVE"}
	require.NoError(t, cmd.Run(context.Background(), app))
}

func hotLeadFire() FireCmd {
	return FireCmd{
		Event:      "LEAD_CREATED",
		Owner:      "agency-1",
		EntityType: "lead",
		EntityID:   "lead-7",
		Entity:     `{"status":"HOT","name":"Ana","phone":"+15550100"}`,
	}
}

func TestImportAndListRules(t *testing.T) {
	app, out := newTestApp(t)
	importLeads(t, app)

	require.NoError(t, (&RulesListCmd{Owner: "agency-1"}).Run(context.Background(), app))

	listing := out.String()
	assert.Contains(t, listing, "hot-lead-follow-up")
	assert.Contains(t, listing, "nightly-digest")
	assert.Contains(t, listing, "PAUSED")
}

func TestFireRunsMatchingRules(t *testing.T) {
	app, out := newTestApp(t)
	importLeads(t, app)

	fire := hotLeadFire()
	require.NoError(t, fire.Run(context.Background(), app))

	var execs []automation.Execution
	require.NoError(t, json.Unmarshal(out.Bytes(), &execs))
	require.Len(t, execs, 1)

	exec := execs[0]
	assert.Equal(t, "hot-lead-follow-up", exec.RuleID)
	assert.Equal(t, automation.ExecutionSuccess, exec.Status)
	require.Len(t, exec.ActionsLog, 2)
	assert.Equal(t, "SEND_MESSAGE", exec.ActionsLog[0].Action)
	assert.Equal(t, "CREATE_TASK", exec.ActionsLog[1].Action)

	rule, err := app.Store.GetRule(context.Background(), "hot-lead-follow-up")
	require.NoError(t, err)
	assert.EqualValues(t, 1, rule.Stats.TotalRuns)
	assert.EqualValues(t, 1, rule.Stats.SuccessCount)
}

func TestFireRejectsMalformedEntity(t *testing.T) {
	app, _ := newTestApp(t)
	fire := hotLeadFire()
	fire.Entity = "{"
	assert.Error(t, fire.Run(context.Background(), app))
}

func TestPausedRuleDoesNotFire(t *testing.T) {
	app, out := newTestApp(t)
	importLeads(t, app)
	ctx := context.Background()

	require.NoError(t, (&RulePauseCmd{ID: "hot-lead-follow-up"}).Run(ctx, app))
	fire := hotLeadFire()
	require.NoError(t, fire.Run(ctx, app))
	assert.JSONEq(t, "[]", out.String())

	out.Reset()
	require.NoError(t, (&RuleActivateCmd{ID: "hot-lead-follow-up"}).Run(ctx, app))
	require.NoError(t, fire.Run(ctx, app))

	var execs []automation.Execution
	require.NoError(t, json.Unmarshal(out.Bytes(), &execs))
	assert.Len(t, execs, 1)
}

func TestExecutionsPrintsHistory(t *testing.T) {
	app, out := newTestApp(t)
	importLeads(t, app)
	ctx := context.Background()

	fire := hotLeadFire()
	require.NoError(t, fire.Run(ctx, app))
	require.NoError(t, fire.Run(ctx, app))
	out.Reset()

	cmd := ExecutionsCmd{Rule: "hot-lead-follow-up", Limit: 10}
	require.NoError(t, cmd.Run(ctx, app))

	lines := nonEmptyLines(out.String())
	require.Len(t, lines, 2)
	for _, line := range lines {
		var exec automation.Execution
		require.NoError(t, json.Unmarshal([]byte(line), &exec))
		assert.Equal(t, automation.ExecutionSuccess, exec.Status)
	}
}

func TestExecutionsArchiveNeedsDriver(t *testing.T) {
	app, _ := newTestApp(t)
	cmd := ExecutionsCmd{Archive: true, Limit: 10}
	assert.Error(t, cmd.Run(context.Background(), app))
}

func TestServeDispatchesStreamedEvents(t *testing.T) {
	app, out := newTestApp(t)
	importLeads(t, app)

	events := filepath.Join(t.TempDir(), "events.ndjson")
	body := strings.Join([]string{
		`{"event":"LEAD_CREATED","entity_type":"lead","entity_id":"lead-1","owner_id":"agency-1","entity":{"status":"HOT","name":"Ana","phone":"+15550100"}}`,
		`not json`,
		``,
		`{"event":"LEAD_CREATED","entity_type":"lead","entity_id":"lead-2","owner_id":"agency-1","entity":{"status":"COLD"}}`,
	}, "\n")
	require.NoError(t, os.WriteFile(events, []byte(body), 0o600))

	serve := ServeCmd{Events: events, NoScheduler: true, DrainTimeout: 5 * time.Second}
	require.NoError(t, serve.Run(context.Background(), app))

	lines := nonEmptyLines(out.String())
	require.Len(t, lines, 2)

	byEntity := map[string]automation.Execution{}
	for _, line := range lines {
		var exec automation.Execution
		require.NoError(t, json.Unmarshal([]byte(line), &exec))
		byEntity[exec.TriggeredBy.EntityID] = exec
	}
	assert.Equal(t, automation.ExecutionSuccess, byEntity["lead-1"].Status)
	assert.Len(t, byEntity["lead-1"].ActionsLog, 2)

	skipped := byEntity["lead-2"]
	assert.Equal(t, automation.ExecutionSuccess, skipped.Status)
	require.Len(t, skipped.ActionsLog, 1)
	assert.Equal(t, automation.LogActionConditions, skipped.ActionsLog[0].Action)
	assert.Equal(t, automation.LogSkipped, skipped.ActionsLog[0].Status)
}

func TestMigrateMemoryStoreIsNoop(t *testing.T) {
	app, _ := newTestApp(t)
	assert.NoError(t, (&MigrateCmd{}).Run(context.Background(), app))
}

func TestNewAppSQLiteStore(t *testing.T) {
	cfg := config.Default()
	cfg.Scheduler.Enabled = false
	cfg.Store = config.StoreConfig{
		Driver: "sqlite",
		DSN:    "file:" + filepath.Join(t.TempDir(), "automation.db"),
	}
	out := &bytes.Buffer{}
	app, err := NewApp(context.Background(), cfg, out, io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	require.NoError(t, app.Migrate(context.Background()))
	importLeads(t, app)

	fire := hotLeadFire()
	require.NoError(t, fire.Run(context.Background(), app))

	var execs []automation.Execution
	require.NoError(t, json.Unmarshal(out.Bytes(), &execs))
	require.Len(t, execs, 1)
	assert.Equal(t, automation.ExecutionSuccess, execs[0].Status)
}

func TestNDJSONArchiveReceivesFinalizedRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.ndjson")
	cfg := config.Default()
	cfg.Scheduler.Enabled = false
	cfg.Archive.Driver = "ndjson"
	cfg.Archive.Path = path

	app, err := NewApp(context.Background(), cfg, io.Discard, io.Discard)
	require.NoError(t, err)
	importLeads(t, app)

	fire := hotLeadFire()
	require.NoError(t, fire.Run(context.Background(), app))
	require.NoError(t, app.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := nonEmptyLines(string(raw))
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"rule_id":"hot-lead-follow-up"`)
}

func TestGlogLoggerCarriesFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger("trace", "json", buf)

	automation.WithLoggerFields(logger, map[string]any{"rule_id": "rule-1"}).Info("rule ran")

	logged := buf.String()
	assert.Contains(t, logged, "rule ran")
	assert.Contains(t, logged, "rule_id")
}

func nonEmptyLines(s string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out
}
