package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/archive"
	"github.com/goliatone/go-automation/ruleset"
	"github.com/goliatone/go-automation/store"
)

type MigrateCmd struct{}

func (c *MigrateCmd) Run(ctx context.Context, app *App) error {
	if err := app.Migrate(ctx); err != nil {
		return err
	}
	app.Logger.Info("schema ready")
	return nil
}

type RulesCmd struct {
	Import   RulesImportCmd  `cmd:"" help:"Import rules from a YAML or JSON ruleset."`
	List     RulesListCmd    `cmd:"" help:"List rules of an owner."`
	Pause    RulePauseCmd    `cmd:"" help:"Pause a rule."`
	Activate RuleActivateCmd `cmd:"" help:"Activate a rule."`
}

type RulesImportCmd struct {
	File   string `arg:"" type:"existingfile" help:"Ruleset file."`
	Owner  string `help:"Owner for rules that do not name one."`
	Status string `default:"ACTIVE" enum:"ACTIVE,PAUSED,DRAFT" help:"Status for rules that do not name one."`
}

func (c *RulesImportCmd) Run(ctx context.Context, app *App) error {
	rules, err := ruleset.LoadFile(c.File,
		ruleset.WithOwner(c.Owner),
		ruleset.WithDefaultStatus(automation.RuleStatus(c.Status)),
	)
	if err != nil {
		return err
	}
	n, err := ruleset.Import(ctx, app.Store, rules)
	if err != nil {
		return err
	}
	app.Logger.Info("imported %d rules from %s", n, c.File)
	return nil
}

type RulesListCmd struct {
	Owner string `help:"Owner id. Empty lists every owner."`
}

func (c *RulesListCmd) Run(ctx context.Context, app *App) error {
	rules, err := app.Store.ListRules(ctx, c.Owner)
	if err != nil {
		return err
	}
	return writeRules(app.Stdout, rules)
}

func writeRules(out io.Writer, rules []automation.Rule) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOWNER\tSTATUS\tTRIGGER\tACTIONS\tRUNS\tOK\tFAILED\tLAST RUN")
	for _, r := range rules {
		last := "-"
		if r.Stats.LastRunAt != nil {
			last = r.Stats.LastRunAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.OwnerID, r.Status, r.Trigger.Type, len(r.Actions),
			r.Stats.TotalRuns, r.Stats.SuccessCount, r.Stats.FailCount, last)
	}
	return w.Flush()
}

type RulePauseCmd struct {
	ID string `arg:"" help:"Rule id."`
}

func (c *RulePauseCmd) Run(ctx context.Context, app *App) error {
	return setRuleStatus(ctx, app, c.ID, automation.RuleStatusPaused)
}

type RuleActivateCmd struct {
	ID string `arg:"" help:"Rule id."`
}

func (c *RuleActivateCmd) Run(ctx context.Context, app *App) error {
	return setRuleStatus(ctx, app, c.ID, automation.RuleStatusActive)
}

func setRuleStatus(ctx context.Context, app *App, id string, status automation.RuleStatus) error {
	if err := app.Store.SetRuleStatus(ctx, id, status); err != nil {
		return err
	}
	app.Logger.Info("rule %s is now %s", id, status)
	return nil
}

type FireCmd struct {
	Event      string `arg:"" help:"Event name, for example LEAD_CREATED."`
	Owner      string `required:"" help:"Owner (tenant) id."`
	EntityType string `required:"" help:"Entity type."`
	EntityID   string `required:"" help:"Entity id."`
	Entity     string `default:"{}" help:"Entity snapshot as a JSON object."`
}

func (c *FireCmd) Run(ctx context.Context, app *App) error {
	entity := map[string]any{}
	if err := json.Unmarshal([]byte(c.Entity), &entity); err != nil {
		return fmt.Errorf("--entity: %w", err)
	}
	execs := app.Dispatcher.Dispatch(ctx, c.Event, automation.Context{
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Entity:     entity,
		Event:      c.Event,
		OwnerID:    c.Owner,
	})
	enc := json.NewEncoder(app.Stdout)
	enc.SetIndent("", "  ")
	if execs == nil {
		execs = []*automation.Execution{}
	}
	return enc.Encode(execs)
}

type ExecutionsCmd struct {
	Rule    string `help:"Filter by rule id."`
	Owner   string `help:"Filter by owner id."`
	Status  string `enum:",RUNNING,SUCCESS,PARTIAL,FAILED" default:"" help:"Filter by status."`
	Limit   int    `default:"50" help:"Maximum number of executions."`
	Archive bool   `help:"Send finalized executions to the configured archive instead of stdout."`
}

func (c *ExecutionsCmd) Run(ctx context.Context, app *App) error {
	filter := store.ExecutionFilter{
		RuleID:  c.Rule,
		OwnerID: c.Owner,
		Status:  automation.ExecutionStatus(c.Status),
		Limit:   c.Limit,
	}

	if c.Archive {
		exp, err := app.exporter(ctx)
		if err != nil {
			return err
		}
		if exp == nil {
			return fmt.Errorf("archive driver is not configured")
		}
		n, err := archive.Backfill(ctx, app.Store, filter, exp)
		app.Logger.Info("archived %d executions", n)
		return err
	}

	execs, err := app.Store.ListExecutions(ctx, filter)
	if err != nil {
		return err
	}
	exp := archive.NewNDJSONExporter(app.Stdout)
	for _, exec := range execs {
		if err := exp.Export(ctx, exec); err != nil {
			return err
		}
	}
	return nil
}

type ServeCmd struct {
	Events       string        `default:"-" help:"NDJSON event source. - reads stdin."`
	NoScheduler  bool          `help:"Do not run scheduled rules."`
	DrainTimeout time.Duration `default:"30s" help:"How long to wait for in-flight runs on shutdown."`
}

// inboundEvent is one NDJSON line accepted by serve.
type inboundEvent struct {
	Event      string         `json:"event"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	OwnerID    string         `json:"owner_id"`
	Entity     map[string]any `json:"entity"`
}

func (c *ServeCmd) Run(ctx context.Context, app *App) error {
	var mu sync.Mutex
	enc := json.NewEncoder(app.Stdout)
	sub := app.Dispatcher.Subscribe(func(exec automation.Execution) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(exec); err != nil {
			app.Logger.Error("write execution %s: %v", exec.ID, err)
		}
	})
	defer sub.Unsubscribe()

	if app.Config.Scheduler.Enabled && !c.NoScheduler {
		if err := app.Scheduler.Sync(ctx, app.Config.Scheduler.Owners...); err != nil {
			app.Logger.Warn("scheduler sync: %v", err)
		}
		if err := app.Scheduler.Start(ctx); err != nil {
			return err
		}
		go c.resync(ctx, app)
	}

	src := io.Reader(os.Stdin)
	if c.Events != "" && c.Events != "-" {
		f, err := os.Open(c.Events)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}

	readErr := c.consume(ctx, app, src)

	shutdown, cancel := context.WithTimeout(context.Background(), c.DrainTimeout)
	defer cancel()
	if err := app.Scheduler.Stop(shutdown); err != nil {
		app.Logger.Warn("scheduler stop: %v", err)
	}
	if err := app.Dispatcher.Close(shutdown); err != nil {
		return err
	}
	return readErr
}

func (c *ServeCmd) consume(ctx context.Context, app *App, src io.Reader) error {
	lines := make(chan []byte)
	errs := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(src)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()

	n := 0
	for {
		select {
		case <-ctx.Done():
			app.Logger.Info("shutting down after %d events", n)
			return nil
		case line, ok := <-lines:
			if !ok {
				app.Logger.Info("event stream closed after %d events", n)
				select {
				case err := <-errs:
					return err
				default:
					return nil
				}
			}
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}
			var ev inboundEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				app.Logger.Warn("skipping malformed event: %v", err)
				continue
			}
			if ev.Event == "" {
				app.Logger.Warn("skipping event without a name")
				continue
			}
			n++
			app.Dispatcher.OnEvent(ctx, ev.Event, automation.Context{
				EntityType: ev.EntityType,
				EntityID:   ev.EntityID,
				Entity:     ev.Entity,
				Event:      ev.Event,
				OwnerID:    ev.OwnerID,
			})
		}
	}
}

func (c *ServeCmd) resync(ctx context.Context, app *App) {
	every := app.Config.Scheduler.Resync
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := app.Scheduler.Sync(ctx, app.Config.Scheduler.Owners...); err != nil {
				app.Logger.Warn("scheduler resync: %v", err)
			}
		}
	}
}
