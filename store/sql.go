package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-automation"
)

// Dialect selects the SQL flavour and driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DriverName returns the database/sql driver registered for the dialect.
// The drivers themselves are imported by the binary.
func (d Dialect) DriverName() string {
	switch d {
	case DialectPostgres:
		return "pgx"
	default:
		return "sqlite3"
	}
}

// ParseDialect accepts sqlite, sqlite3, postgres, postgresql and pgx.
func ParseDialect(value string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported sql dialect %q", value)
	}
}

const (
	rulesTable      = "automation_rules"
	executionsTable = "automation_executions"
)

const ruleColumns = `id, owner_id, name, status, trigger_type, trigger_config, conditions, actions,
	total_runs, success_count, fail_count, last_run_at, created_at, updated_at`

const executionColumns = `id, rule_id, owner_id, status, entity_type, entity_id, event,
	actions_log, started_at, completed_at, error_message`

// SQLStore persists rules, stats and executions through database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	if dialect == "" {
		dialect = DialectSQLite
	}
	return &SQLStore{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// OpenSQL opens and pings a database for the dialect.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// sqlite serialises writers; a single connection avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return NewSQLStore(db, dialect), nil
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying handle.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the tables and indexes when missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("sql store not configured")
	}
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		trigger_config TEXT,
		conditions TEXT,
		actions TEXT NOT NULL,
		total_runs BIGINT NOT NULL DEFAULT 0,
		success_count BIGINT NOT NULL DEFAULT 0,
		fail_count BIGINT NOT NULL DEFAULT 0,
		last_run_at TEXT,
		stats_version BIGINT NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`, rulesTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_owner_status ON %s (owner_id, status)`, rulesTable, rulesTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		status TEXT NOT NULL,
		entity_type TEXT,
		entity_id TEXT,
		event TEXT,
		actions_log TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		error_message TEXT
	)`, executionsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_rule ON %s (rule_id, started_at)`, executionsTable, executionsTable),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) SaveRule(ctx context.Context, rule automation.Rule) error {
	rule.ID = strings.TrimSpace(rule.ID)
	if rule.ID == "" {
		return errors.New("rule id required")
	}
	triggerConfig, err := marshalJSON(rule.Trigger.Config)
	if err != nil {
		return err
	}
	conditions, err := marshalJSON(rule.Conditions)
	if err != nil {
		return err
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return err
	}
	now := s.now()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	q := fmt.Sprintf(`INSERT INTO %s (id, owner_id, name, status, trigger_type, trigger_config, conditions, actions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		owner_id = excluded.owner_id,
		name = excluded.name,
		status = excluded.status,
		trigger_type = excluded.trigger_type,
		trigger_config = excluded.trigger_config,
		conditions = excluded.conditions,
		actions = excluded.actions,
		updated_at = excluded.updated_at`, rulesTable)
	_, err = s.db.ExecContext(ctx, s.rebind(q),
		rule.ID,
		rule.OwnerID,
		rule.Name,
		string(rule.Status),
		string(rule.Trigger.Type),
		triggerConfig,
		conditions,
		string(actions),
		formatTimestamp(createdAt),
		formatTimestamp(now),
	)
	return err
}

func (s *SQLStore) SetRuleStatus(ctx context.Context, id string, status automation.RuleStatus) error {
	if !status.Valid() {
		return errors.New("invalid rule status")
	}
	q := fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = ? WHERE id = ?`, rulesTable)
	result, err := s.db.ExecContext(ctx, s.rebind(q), string(status), formatTimestamp(s.now()), id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) GetRule(ctx context.Context, id string) (*automation.Rule, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, ruleColumns, rulesTable)
	rule, err := scanRule(s.db.QueryRowContext(ctx, s.rebind(q), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *SQLStore) ListActiveRules(ctx context.Context, ownerID string) ([]automation.Rule, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE owner_id = ? AND status = ? ORDER BY id`, ruleColumns, rulesTable)
	return s.queryRules(ctx, q, ownerID, string(automation.RuleStatusActive))
}

func (s *SQLStore) ListRules(ctx context.Context, ownerID string) ([]automation.Rule, error) {
	if ownerID == "" {
		q := fmt.Sprintf(`SELECT %s FROM %s ORDER BY id`, ruleColumns, rulesTable)
		return s.queryRules(ctx, q)
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE owner_id = ? ORDER BY id`, ruleColumns, rulesTable)
	return s.queryRules(ctx, q, ownerID)
}

func (s *SQLStore) queryRules(ctx context.Context, q string, args ...any) ([]automation.Rule, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]automation.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (s *SQLStore) LoadStats(ctx context.Context, ruleID string) (automation.Stats, int, error) {
	q := fmt.Sprintf(`SELECT total_runs, success_count, fail_count, last_run_at, stats_version FROM %s WHERE id = ?`, rulesTable)
	var (
		stats     automation.Stats
		lastRunAt sql.NullString
		version   int
	)
	err := s.db.QueryRowContext(ctx, s.rebind(q), ruleID).Scan(
		&stats.TotalRuns,
		&stats.SuccessCount,
		&stats.FailCount,
		&lastRunAt,
		&version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return automation.Stats{}, 0, ErrNotFound
	}
	if err != nil {
		return automation.Stats{}, 0, err
	}
	stats.LastRunAt = parseNullTimestamp(lastRunAt)
	return stats, version, nil
}

func (s *SQLStore) UpdateStatsIfVersion(ctx context.Context, ruleID string, stats automation.Stats, expectedVersion int) (int, error) {
	newVersion := expectedVersion + 1
	var lastRunAt any
	if stats.LastRunAt != nil {
		lastRunAt = formatTimestamp(*stats.LastRunAt)
	}
	q := fmt.Sprintf(`UPDATE %s SET total_runs = ?, success_count = ?, fail_count = ?, last_run_at = ?, stats_version = ?
		WHERE id = ? AND stats_version = ?`, rulesTable)
	result, err := s.db.ExecContext(ctx, s.rebind(q),
		stats.TotalRuns,
		stats.SuccessCount,
		stats.FailCount,
		lastRunAt,
		newVersion,
		ruleID,
		expectedVersion,
	)
	if err != nil {
		return 0, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, _, err := s.LoadStats(ctx, ruleID); err != nil {
			return 0, err
		}
		return 0, ErrVersionConflict
	}
	return newVersion, nil
}

func (s *SQLStore) CreateExecution(ctx context.Context, exec automation.Execution) (string, error) {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = s.now()
	}
	actionsLog, err := marshalActionsLog(exec.ActionsLog)
	if err != nil {
		return "", err
	}
	var completedAt any
	if exec.CompletedAt != nil {
		completedAt = formatTimestamp(*exec.CompletedAt)
	}
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, executionsTable, executionColumns)
	_, err = s.db.ExecContext(ctx, s.rebind(q),
		exec.ID,
		exec.RuleID,
		exec.OwnerID,
		string(exec.Status),
		exec.TriggeredBy.EntityType,
		exec.TriggeredBy.EntityID,
		exec.TriggeredBy.Event,
		actionsLog,
		formatTimestamp(exec.StartedAt),
		completedAt,
		exec.ErrorMessage,
	)
	if err != nil {
		return "", err
	}
	return exec.ID, nil
}

func (s *SQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	actionsLog, err := marshalActionsLog(update.ActionsLog)
	if err != nil {
		return err
	}
	completedAt := update.CompletedAt
	if completedAt.IsZero() {
		completedAt = s.now()
	}
	q := fmt.Sprintf(`UPDATE %s SET status = ?, actions_log = ?, completed_at = ?, error_message = ?
		WHERE id = ? AND completed_at IS NULL`, executionsTable)
	result, err := s.db.ExecContext(ctx, s.rebind(q),
		string(update.Status),
		actionsLog,
		formatTimestamp(completedAt),
		update.ErrorMessage,
		id,
	)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, err := s.GetExecution(ctx, id); err != nil {
			return err
		}
		return ErrExecutionFinalized
	}
	return nil
}

func (s *SQLStore) GetExecution(ctx context.Context, id string) (*automation.Execution, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, executionColumns, executionsTable)
	exec, err := scanExecution(s.db.QueryRowContext(ctx, s.rebind(q), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

func (s *SQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]automation.Execution, error) {
	var (
		where []string
		args  []any
	)
	if filter.RuleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, filter.RuleID)
	}
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	q := fmt.Sprintf(`SELECT %s FROM %s`, executionColumns, executionsTable)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, normalizeLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]automation.Execution, 0)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (automation.Rule, error) {
	var (
		rule          automation.Rule
		status        string
		triggerType   string
		triggerConfig sql.NullString
		conditions    sql.NullString
		actions       string
		lastRunAt     sql.NullString
		createdAt     string
		updatedAt     string
	)
	err := row.Scan(
		&rule.ID,
		&rule.OwnerID,
		&rule.Name,
		&status,
		&triggerType,
		&triggerConfig,
		&conditions,
		&actions,
		&rule.Stats.TotalRuns,
		&rule.Stats.SuccessCount,
		&rule.Stats.FailCount,
		&lastRunAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return rule, err
	}
	rule.Status = automation.RuleStatus(status)
	rule.Trigger.Type = automation.TriggerKind(triggerType)
	if triggerConfig.Valid && triggerConfig.String != "" {
		if err := json.Unmarshal([]byte(triggerConfig.String), &rule.Trigger.Config); err != nil {
			return rule, fmt.Errorf("rule %s trigger config: %w", rule.ID, err)
		}
	}
	if conditions.Valid && conditions.String != "" {
		if err := json.Unmarshal([]byte(conditions.String), &rule.Conditions); err != nil {
			return rule, fmt.Errorf("rule %s conditions: %w", rule.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
		return rule, fmt.Errorf("rule %s actions: %w", rule.ID, err)
	}
	rule.Stats.LastRunAt = parseNullTimestamp(lastRunAt)
	rule.CreatedAt, _ = parseTimestamp(createdAt)
	rule.UpdatedAt, _ = parseTimestamp(updatedAt)
	return rule, nil
}

func scanExecution(row rowScanner) (automation.Execution, error) {
	var (
		exec         automation.Execution
		status       string
		entityType   sql.NullString
		entityID     sql.NullString
		event        sql.NullString
		actionsLog   sql.NullString
		startedAt    string
		completedAt  sql.NullString
		errorMessage sql.NullString
	)
	err := row.Scan(
		&exec.ID,
		&exec.RuleID,
		&exec.OwnerID,
		&status,
		&entityType,
		&entityID,
		&event,
		&actionsLog,
		&startedAt,
		&completedAt,
		&errorMessage,
	)
	if err != nil {
		return exec, err
	}
	exec.Status = automation.ExecutionStatus(status)
	exec.TriggeredBy = automation.TriggeredBy{
		EntityType: entityType.String,
		EntityID:   entityID.String,
		Event:      event.String,
	}
	if actionsLog.Valid && actionsLog.String != "" {
		if err := json.Unmarshal([]byte(actionsLog.String), &exec.ActionsLog); err != nil {
			return exec, fmt.Errorf("execution %s actions log: %w", exec.ID, err)
		}
	}
	exec.StartedAt, _ = parseTimestamp(startedAt)
	exec.CompletedAt = parseNullTimestamp(completedAt)
	exec.ErrorMessage = errorMessage.String
	return exec, nil
}

func marshalJSON(v map[string]any) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func marshalActionsLog(entries []automation.ActionLogEntry) (string, error) {
	if entries == nil {
		entries = []automation.ActionLogEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

func parseNullTimestamp(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	ts, ok := parseTimestamp(value.String)
	if !ok {
		return nil
	}
	return &ts
}

// fixed width so TEXT columns sort chronologically
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timestampLayout)
}
