package metadata

import (
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tfproviders/provider-mirror/pkg/core"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies every pending up migration against dsn. It is the
// implementation behind the `migrate` CLI subcommand (spec.md §6) and is
// also invoked by `server` at startup when auto-migration is enabled.
func Migrate(dsn string) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return core.NewError(core.KindInternal, "load embedded migrations", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return core.NewError(core.KindDatabaseError, "construct migrator", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return core.NewError(core.KindDatabaseError, "apply migrations", err)
	}
	return nil
}
