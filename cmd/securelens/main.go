package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

type options struct {
	configPath string
	mode       string
	cached     bool
	output     string
	format     string
	sort       string
	trend      bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("securelens", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "configs/securelens.yaml", "Path to configuration file")
	fs.StringVar(&opts.mode, "mode", "report", "Operation mode: report, fetch, serve, migrate")
	fs.BoolVar(&opts.cached, "cached", false, "Use cached API snapshots instead of calling AdminByRequest")
	fs.StringVar(&opts.output, "output", "", "Write the report to this file instead of stdout")
	fs.StringVar(&opts.format, "format", "console", "Report format: console, json, csv")
	fs.StringVar(&opts.sort, "sort", "name", "Row order for console output: name, completions")
	fs.BoolVar(&opts.trend, "trend", false, "Include completions by day in console output")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "securelens: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	app, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	switch opts.mode {
	case "report":
		return app.report(ctx, opts, stdout)
	case "fetch":
		return app.fetch(ctx)
	case "serve":
		return app.serve(ctx)
	case "migrate":
		return app.migrate(stdout)
	default:
		return fmt.Errorf("unknown mode: %s", opts.mode)
	}
}
