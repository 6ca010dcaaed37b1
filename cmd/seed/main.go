package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"lessoncast/internal/app"
	"lessoncast/internal/config"
	"lessoncast/internal/database"
	"lessoncast/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to a config file")
	reset := flag.Bool("reset", false, "Delete existing data before seeding")
	seed := flag.Uint64("seed", 0, "Random seed for play history (0 picks one)")
	flag.Parse()

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

	ctx := context.Background()
	components, err := app.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		os.Exit(1)
	}
	defer components.Close(ctx)

	if err := components.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error running migrations: %v\n", err)
		os.Exit(1)
	}

	seeder := database.NewSeeder(components.DB.GetGormDB(), components.Store, components.Codec, logger.Zerolog())
	summary, err := seeder.Seed(ctx, database.SeedOptions{Reset: *reset, RandSeed: *seed})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error seeding database: %v\n", err)
		os.Exit(1)
	}

	if summary.Skipped {
		fmt.Println("Database already has users, skipping seed (use -reset to reseed)")
		return
	}
	fmt.Println("Database seeded successfully!")
	fmt.Printf("  Users:     %d\n", summary.Users)
	fmt.Printf("  Playlists: %d (lessons playlist id %d)\n", summary.Playlists, summary.LessonsPlaylistID)
	fmt.Printf("  Songs:     %d\n", summary.Songs)
	fmt.Printf("  Plays:     %d\n", summary.Plays)
}
