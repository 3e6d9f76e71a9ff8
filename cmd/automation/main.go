// Command automation runs the rule engine: it manages rules, fires events
// and serves scheduled and streamed events.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/goliatone/go-automation/config"
)

type CLI struct {
	Config string `short:"c" type:"path" env:"AUTOMATION_CONFIG" help:"Path to a YAML config file."`

	Migrate    MigrateCmd    `cmd:"" help:"Create the database schema."`
	Rules      RulesCmd      `cmd:"" help:"Manage rules."`
	Fire       FireCmd       `cmd:"" help:"Dispatch one event synchronously and print the executions."`
	Executions ExecutionsCmd `cmd:"" help:"Print execution history as NDJSON."`
	Serve      ServeCmd      `cmd:"" help:"Run the scheduler and dispatch NDJSON events read from stdin."`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("automation"),
		kong.Description("Rule based automation engine."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	cfg, err := config.Load(cli.Config)
	kctx.FatalIfErrorf(err)

	app, err := NewApp(ctx, cfg, os.Stdout, os.Stderr)
	kctx.FatalIfErrorf(err)

	runErr := kctx.Run(app)
	if cerr := app.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "close: %v\n", cerr)
	}
	kctx.FatalIfErrorf(runErr)
}
