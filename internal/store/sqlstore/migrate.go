package sqlstore

import (
	"embed"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

func (s *SQLStore) migrate(dataSourceName string) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return errors.Wrap(err, "sqlstore.migrate: source")
	}

	if !s.isPostgres() {
		// The migrate driver must share our handle so ":memory:" sees the
		// schema. Its Close would close s.db, so the instance is dropped
		// instead of closed.
		drv, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
		if err != nil {
			return errors.Wrap(err, "sqlstore.migrate: sqlite3 driver")
		}
		m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
		if err != nil {
			return errors.Wrap(err, "sqlstore.migrate: init")
		}
		return up(m)
	}

	url, err := postgresURL(dataSourceName)
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return errors.Wrap(err, "sqlstore.migrate: init")
	}
	defer m.Close()
	return up(m)
}

func up(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "sqlstore.migrate: up")
	}
	return nil
}

func postgresURL(dsn string) (string, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"):
		return dsn, nil
	case strings.HasPrefix(dsn, "postgresql://"):
		return "postgres://" + strings.TrimPrefix(dsn, "postgresql://"), nil
	}
	return "", fmt.Errorf("sqlstore: postgres DSN must be a postgres:// URL")
}
