package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"cardprices/internal/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, status, version, create")
		name    = flag.String("name", "", "Name for 'create' command")
	)
	flag.Parse()

	loadEnvFiles()

	log, err := logger.New(logger.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(*command, *name, log); err != nil {
		log.Fatal("migration failed", zap.String("command", *command), zap.Error(err))
	}
}

func run(command, name string, log *zap.Logger) error {
	fsys, dir := migrationSource()

	if command == "create" {
		if name == "" {
			return fmt.Errorf("name is required for 'create' command")
		}
		if fsys != nil {
			return fmt.Errorf("migrations dir %s not found on disk", migrationsDir())
		}
		if err := goose.Create(nil, dir, name, "sql"); err != nil {
			return err
		}
		log.Info("migration created", zap.String("name", name), zap.String("dir", dir))
		return nil
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(fsys)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	switch command {
	case "up":
		if err := goose.Up(db, dir); err != nil {
			return err
		}
		log.Info("migrations applied")
	case "down":
		if err := goose.Down(db, dir); err != nil {
			return err
		}
		log.Info("migration rolled back")
	case "status":
		return goose.Status(db, dir)
	case "version":
		return goose.Version(db, dir)
	default:
		return fmt.Errorf("unknown command %q, use: up, down, status, version, create", command)
	}
	return nil
}
