package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"chefbook/internal/config"
	"chefbook/internal/database"
	"chefbook/internal/logging"
	"chefbook/internal/models"
	"chefbook/internal/reconcile"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", envOr("CONFIG_PATH", "configs/config.yaml"), "path to config.yaml")
		status     = flag.String("status", models.IssueOpen, "issue status to export, empty for all")
		ack        = flag.String("ack", "", "comma separated issue ids to acknowledge instead of exporting")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := logging.Component(baseLogger, "reconcile")

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exporter := reconcile.NewExporter(db, cfg.Exports.Path, logger)

	if *ack != "" {
		ids, err := parseIDs(*ack)
		if err != nil {
			return err
		}
		if err := exporter.Acknowledge(ctx, ids...); err != nil {
			return err
		}
		fmt.Printf("acknowledged %d issue(s)\n", len(ids))
		return nil
	}

	path, n, err := exporter.Export(ctx, *status)
	if err != nil {
		return err
	}
	fmt.Printf("exported %d issue(s) to %s\n", n, path)
	return nil
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid issue id %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no issue ids given")
	}
	return ids, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
