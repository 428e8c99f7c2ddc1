// Command migrate applies, rolls back, or seeds the database schema.
//
//	migrate -dsn postgres://... up
//	migrate -dsn postgres://... down
//	migrate -dsn postgres://... seed
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"crewarchive.org/internal/migrate"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("CREWARCHIVE_POSTGRES_DSN"), "postgres dsn")
	dir := flag.String("dir", "ops/migrations/sql", "migrations directory")
	seeds := flag.String("seeds", "ops/migrations/seeds", "seeds directory")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("dsn is required (flag -dsn or CREWARCHIVE_POSTGRES_DSN)")
	}
	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	mgr := migrate.NewManager(db, *dir, *seeds)
	switch command {
	case "up":
		n, err := mgr.Up(ctx)
		if err != nil {
			log.Fatalf("migrate up: %v", err)
		}
		log.Printf("applied %d migration(s)", n)
	case "down":
		if err := mgr.Down(ctx); err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		log.Print("rolled back one migration")
	case "seed":
		if err := mgr.Seed(ctx); err != nil {
			log.Fatalf("seed: %v", err)
		}
		log.Print("seeds applied")
	default:
		log.Fatalf("unknown command %q (want up, down, or seed)", command)
	}
}
