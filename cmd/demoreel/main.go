package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/slcjordan/demoreel/config"
	"github.com/slcjordan/demoreel/journal"
	"github.com/slcjordan/demoreel/logger"
	"github.com/slcjordan/demoreel/scene"
)

const usage = `usage: demoreel <command> [flags]

commands:
  run      -config demoreel.yaml scene.yaml   replay a scene, optionally recording it
  validate scene.yaml...                      check scene files without running them
  runs     -config demoreel.yaml scene-name   list journaled runs of a scene
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, os.Args[1:], os.Stdout); err != nil {
		logger.Errorf(ctx, "%s", err)
		stop()
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("missing command")
	}
	switch args[0] {
	case "run":
		return runCommand(ctx, args[1:])
	case "validate":
		return validateCommand(args[1:], out)
	case "runs":
		return runsCommand(ctx, args[1:], out)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(out, usage)
		return nil
	}
	fmt.Fprint(os.Stderr, usage)
	return fmt.Errorf("unknown command %q", args[0])
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	err = logger.Configure(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func runCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("run: expected one scene file, got %d", fs.NArg())
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	sc, err := scene.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	return run(ctx, cfg, sc)
}

func validateCommand(args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("validate: no scene files")
	}
	failed := 0
	for _, path := range args {
		sc, err := scene.Load(path)
		if err != nil {
			fmt.Fprintf(out, "FAIL %s\n", err)
			failed++
			continue
		}
		fmt.Fprintf(out, "ok   %s (%d steps)\n", path, len(sc.Steps))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenes invalid", failed, len(args))
	}
	return nil
}

func runsCommand(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	configPath := fs.String("config", "", "configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("runs: expected a scene name")
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	conn, err := journal.Open(ctx, cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer conn.Close()

	runs, err := conn.Runs(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tSTATUS\tERROR")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt.Valid {
			duration = r.FinishedAt.Time.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.StartedAt.Local().Format(time.DateTime), duration, r.Status, r.Error)
	}
	return w.Flush()
}
