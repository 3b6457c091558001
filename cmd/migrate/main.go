package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"idengine.org/internal/migrate"
	"idengine.org/internal/obs"
	"idengine.org/internal/store/pg"
)

func main() {
	var (
		migrationsDir = flag.String("migrations", "migrations", "directory with .up.sql/.down.sql files")
		seedsDir      = flag.String("seeds", "seeds", "directory with seed .sql files")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: migrate [flags] up|down|seed\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log := obs.NewLogger(os.Getenv("IDENGINE_LOG_LEVEL"), false, os.Stdout)

	dsn := os.Getenv("IDENGINE_PG_DSN")
	if dsn == "" {
		log.Fatal().Msg("IDENGINE_PG_DSN is required")
	}

	command := flag.Arg(0)
	if command == "" {
		flag.Usage()
		os.Exit(2)
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer store.Close()

	ctx := context.Background()
	mgr := migrate.NewManager(store.DB(), *migrationsDir, *seedsDir)

	switch command {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", command).Msg("migration failed")
	}
	log.Info().Str("command", command).Msg("done")
}
