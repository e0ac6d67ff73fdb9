package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/xhad/brandvoice/internal/app"
	"github.com/xhad/brandvoice/internal/observability"
	cfgPkg "github.com/xhad/brandvoice/pkg/config"
)

const usage = `Usage: brandvoice [global flags] <command> [flags]

Commands:
  serve     Run the HTTP API
  ingest    Embed a URL or PDF into an index
  ask       Ask questions against an index
  delete    Delete an index
  indexes   List indexes

Global flags:
`

type command struct {
	name string
	run  func(ctx context.Context, deps *app.Dependencies, args []string) error
}

var commands = []command{
	{name: "serve", run: runServe},
	{name: "ingest", run: runIngest},
	{name: "ask", run: runAsk},
	{name: "delete", run: runDelete},
	{name: "indexes", run: runIndexes},
}

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, errUsage) {
			color.Red("Error: %v", err)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("brandvoice", flag.ContinueOnError)
	configPath := flags.String("config", "", "Path to config file")
	logLevel := flags.String("log-level", "", "Override the configured log level")
	backend := flags.String("backend", "", "Vector store backend: pgvector, chromem or memory")
	flags.Usage = func() {
		fmt.Fprint(flags.Output(), usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return errUsage
	}

	if flags.NArg() == 0 {
		flags.Usage()
		return errUsage
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == flags.Arg(0) {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		flags.Usage()
		return fmt.Errorf("unknown command %q", flags.Arg(0))
	}

	cfg, err := cfgPkg.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *backend != "" {
		cfg.Database.Backend = *backend
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		return errors.New("invalid configuration")
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer deps.Close()

	return cmd.run(ctx, deps, flags.Args()[1:])
}
