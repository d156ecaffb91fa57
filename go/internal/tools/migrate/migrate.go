package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend/pgbackend"
	"github.com/mcdev12/drawwithfriends/go/internal/dbconfig"
	"github.com/spf13/pflag"
)

func main() {
	pruneAfter := pflag.Duration("prune-older-than", 0, "also delete rooms created longer ago than this (0 keeps everything)")
	pflag.Parse()

	_ = godotenv.Load()

	// 1) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 2) Apply the schema. It is idempotent, so reruns are safe.
	if _, err := pool.Exec(ctx, pgbackend.Schema); err != nil {
		fmt.Fprintf(os.Stderr, "apply schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("schema applied to %s on %s:%d\n", cfg.Database, cfg.Host, cfg.Port)

	// 3) Optionally prune old rooms. Users, drawings and strokes cascade.
	if *pruneAfter <= 0 {
		return
	}
	cutoff := time.Now().Add(-*pruneAfter)
	tag, err := pool.Exec(ctx, `DELETE FROM rooms WHERE created_at < $1`, cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prune rooms: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("pruned %d rooms created before %s\n", tag.RowsAffected(), cutoff.Format(time.RFC3339))
}
