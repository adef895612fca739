package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"newsletter-reader/internal/logging"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver names accepted by NewManager.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Manager struct {
	DB      *sql.DB
	Dialect Dialect
}

type Config struct {
	Driver           string
	ConnectionString string
	Host             string
	Port             string
	User             string
	Password         string
	DBName           string
	SQLitePath       string
}

// Dialect papers over the placeholder and schema differences between the
// two supported databases. Queries are written with '?' placeholders.
type Dialect struct {
	Name string
}

// Rebind rewrites '?' placeholders into the form the dialect expects.
func (d Dialect) Rebind(query string) string {
	if d.Name != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func NewManager(cfg Config) (*Manager, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPostgres
	}

	var dsn string
	switch driver {
	case DriverPostgres:
		if cfg.ConnectionString != "" {
			dsn = cfg.ConnectionString
		} else {
			dsn = fmt.Sprintf(
				"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
				cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName,
			)
		}
	case DriverSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = "newsletters.db"
		}
		dsn = path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logging.Info("connected to database", "driver", driver)

	manager := &Manager{DB: db, Dialect: Dialect{Name: driver}}

	if err := manager.runMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return manager, nil
}

func (m *Manager) runMigrations(ctx context.Context) error {
	migrations := postgresMigrations
	if m.Dialect.Name == DriverSQLite {
		migrations = sqliteMigrations
	}

	for i, migration := range migrations {
		if _, err := m.DB.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	logging.Debug("database migrations completed", "count", len(migrations))
	return nil
}

func (m *Manager) Close() error {
	if m.DB != nil {
		return m.DB.Close()
	}
	return nil
}

func (m *Manager) GetDB() *sql.DB {
	return m.DB
}
