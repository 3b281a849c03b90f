package main

import (
	"errors"
	"flag"
	"log"
	"net/url"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mongodb"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"vidtube/internal/config"
)

func main() {
	var configPath string
	var migrationsPath string
	var down bool
	flag.StringVar(&configPath, "config", "", "path to config file (or use CONFIG_PATH env)")
	flag.StringVar(&migrationsPath, "migrations", "migrations", "path to migrations directory")
	flag.BoolVar(&down, "down", false, "roll back all migrations instead of applying them")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	cfg := config.LoadConfig(configPath)

	dsn, err := mongoDSN(cfg)
	if err != nil {
		log.Fatalf("bad mongo uri: %v", err)
	}

	migrator, err := migrate.New("file://"+migrationsPath, dsn)
	if err != nil {
		log.Fatalf("failed to init migrator: %v", err)
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if down {
		err = migrator.Down()
	} else {
		err = migrator.Up()
	}
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("no migrations to apply")
			return
		}
		log.Fatalf("migration failed: %v", err)
	}

	log.Println("migrations applied successfully")
}

// mongoDSN makes sure the migrate mongodb driver sees the database name in
// the URI path.
func mongoDSN(cfg *config.Config) (string, error) {
	u, err := url.Parse(cfg.Mongo.URI)
	if err != nil {
		return "", err
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/" + cfg.Mongo.Database
	}
	return u.String(), nil
}
