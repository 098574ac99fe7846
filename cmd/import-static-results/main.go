// Command import-static-results loads precomputed scenario results from the
// static prefix of the configured blob store into the result database.
//
// Usage:
//
//	import-static-results [scenario ...]
//
// Without arguments every scenario directory below the static prefix is
// imported. Scenarios that already have a simulation are skipped.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"energycore/internal/config"
	"energycore/internal/core"
	"energycore/internal/statics"
)

var (
	exitFunc   = os.Exit
	loadConfig = config.Load
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("import-static-results", flag.ContinueOnError)
	fs.SetOutput(stderr)
	prefix := fs.String("prefix", "", "blob prefix holding static scenarios (overrides ENERGYCORE_STATIC_PREFIX)")
	fs.Usage = func() {
		_, _ = fmt.Fprintln(stderr, "usage: import-static-results [-prefix dir] [scenario ...]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := loadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Configuration invalid: %v\n", err)
		return 1
	}
	if *prefix != "" {
		cfg.StaticPrefix = *prefix
	}
	if err := run(ctx, cfg, fs.Args(), stdout); err != nil {
		_, _ = fmt.Fprintf(stderr, "Static import failed: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, scenarios []string, stdout io.Writer) (err error) {
	var writeErr error
	progress := func(e statics.Entry) {
		if writeErr != nil {
			return
		}
		if e.Skipped {
			_, writeErr = fmt.Fprintf(stdout, "Simulation for scenario '%s' already exists. Skipping...\n", e.Scenario)
			return
		}
		_, writeErr = fmt.Fprintf(stdout, "Successfully created results for scenario '%s'\n", e.Scenario)
	}
	svc, err := core.Open(ctx, cfg, nil, core.WithLogger(cfg.Logger()), core.WithImportProgress(progress))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(context.Background()); cerr != nil && err == nil {
			err = fmt.Errorf("close: %w", cerr)
		}
	}()

	if _, err := svc.ImportStatic(ctx, scenarios...); err != nil {
		return err
	}
	return writeErr
}
