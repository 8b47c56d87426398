package sqlstore

import (
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// PersistenceConfig satisfies the go-persistence-bun configuration contract.
type PersistenceConfig struct {
	Debug       bool
	Driver      string
	Server      string
	PingTimeout time.Duration
}

func (c PersistenceConfig) GetDebug() bool                { return c.Debug }
func (c PersistenceConfig) GetDriver() string             { return c.Driver }
func (c PersistenceConfig) GetServer() string             { return c.Server }
func (c PersistenceConfig) GetPingTimeout() time.Duration { return c.PingTimeout }
func (c PersistenceConfig) GetOtelIdentifier() string     { return "dynsync" }

// OpenClient opens a persistence client for the configured driver and
// registers the embedded schema migrations.
func OpenClient(cfg PersistenceConfig, migrations fs.FS) (*persistence.Client, error) {
	driver := strings.TrimSpace(strings.ToLower(cfg.Driver))
	if driver == "" {
		driver = DriverSQLite
	}
	cfg.Driver = driver

	sqlDB, err := sql.Open(driver, cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	var client *persistence.Client
	switch driver {
	case DriverSQLite:
		client, err = persistence.New(cfg, sqlDB, sqlitedialect.New())
	case DriverPostgres:
		client, err = persistence.New(cfg, sqlDB, pgdialect.New())
	default:
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	if migrations != nil {
		dialectFS, err := migrationsForDriver(migrations, driver)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		client.RegisterSQLMigrations(dialectFS)
	}
	return client, nil
}

// migrationsForDriver narrows the embedded tree to the driver's dialect.
// Postgres migrations live at the tree root, sqlite alternatives under
// sqlite/.
func migrationsForDriver(root fs.FS, driver string) (fs.FS, error) {
	base, err := fs.Sub(root, "data/sql/migrations")
	if err != nil {
		base = root
	}
	if driver == DriverSQLite {
		sub, err := fs.Sub(base, "sqlite")
		if err != nil {
			return nil, fmt.Errorf("sqlstore: resolve sqlite migrations: %w", err)
		}
		return sub, nil
	}
	return base, nil
}
