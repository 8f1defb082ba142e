package cmd

import (
	"fmt"

	"github.com/hirakuhq/hiraku/db"
	"github.com/hirakuhq/hiraku/internal/config"
)

// runMigrate applies pending database migrations and exits. Useful for
// deploy pipelines that migrate before rolling the server.
func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	fmt.Println("migrations applied")
	return nil
}
