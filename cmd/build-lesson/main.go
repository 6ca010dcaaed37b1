package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lessoncast/internal/app"
	"lessoncast/internal/config"
	"lessoncast/internal/lock"
	"lessoncast/internal/logging"
)

func main() {
	lessonID := flag.Int64("lesson", 0, "ID of the lesson to build")
	configPath := flag.String("config", "", "Path to a config file")
	dryRun := flag.Bool("dry-run", false, "Validate clips and print the build plan without writing anything")
	flag.Parse()

	if *lessonID <= 0 {
		fmt.Println("Usage: build-lesson -lesson <id> [-config <file>] [-dry-run]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	loader := config.NewConfigLoader()
	if *configPath != "" {
		loader.SetConfigFile(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(logging.LogLevel(cfg.Logging.Level), os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		os.Exit(1)
	}
	defer components.Close(context.Background())

	if err := run(ctx, components, *lessonID, *dryRun); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		_ = components.Close(context.Background())
		os.Exit(1)
	}
}

func run(ctx context.Context, components *app.App, lessonID int64, dryRun bool) error {
	var out interface{}
	if dryRun {
		plan, err := components.Builder.Plan(ctx, lessonID)
		if err != nil {
			return err
		}
		out = plan
	} else {
		release, err := components.Locker.Acquire(ctx, lock.LessonKey(lessonID), components.Config.Lessons.LockTTL)
		if err != nil {
			return fmt.Errorf("lesson %d: %w", lessonID, err)
		}
		defer release()

		result, err := components.Builder.Build(ctx, lessonID)
		if err != nil {
			return err
		}
		out = result
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
