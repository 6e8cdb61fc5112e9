package main

import (
	"errors"
	"flag"
	"log"

	"course_market/internal/pkg/config"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	dir := flag.String("path", "migrations", "migration files directory")
	down := flag.Bool("down", false, "roll back one version")
	force := flag.Int("force", -1, "force a version after fixing a dirty migration")
	flag.Parse()

	warning, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if warning != nil {
		log.Println(warning)
	}

	m, err := migrate.New("file://"+*dir, config.GlobalConfig.Database.URL())
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()

	switch {
	case *force >= 0:
		err = m.Force(*force)
	case *down:
		err = m.Steps(-1)
	default:
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			log.Fatalf("Database is dirty at version %d, fix it and rerun with -force", dirty.Version)
		}
		log.Fatal(err)
	}

	version, isDirty, _ := m.Version()
	log.Printf("Migration successful, version=%d dirty=%v", version, isDirty)
}
