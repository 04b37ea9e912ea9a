// Command migrate applies the versioned SQL migrations under migrations/
// against the configured database, using golang-migrate/migrate/v4 rather
// than gorm's AutoMigrate — the path operators run in CI before a release,
// keeping schema changes reviewable as plain SQL.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"log"

	_ "github.com/lib/pq"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/iaros/pricewatch/internal/config"
)

func main() {
	configFile := flag.String("config", "", "path to config.yaml (defaults to CONFIG_FILE env or config.yaml)")
	migrationsDir := flag.String("migrations", "migrations", "path to the migrations directory")
	down := flag.Bool("down", false, "roll back one migration instead of applying pending ones")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("init migration driver: %v", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+*migrationsDir, "postgres", driver)
	if err != nil {
		log.Fatalf("init migrate: %v", err)
	}

	if *down {
		err = m.Steps(-1)
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("run migrations: %v", err)
	}

	log.Println("migrations applied")
}
