package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/animus-labs/loadrunner/internal/platform/env"
)

const pingTimeout = 5 * time.Second

type Config struct {
	// Driver is "", "postgres" or "sqlite". Empty disables the ledger.
	Driver      string
	SQLitePath  string
	DatabaseURL string
	// MaxConns caps the postgres pool.
	MaxConns    int
}

func ConfigFromEnv() (Config, error) {
	maxConns, err := env.Int("LEDGER_MAX_CONNS", 4)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Driver:      strings.ToLower(strings.TrimSpace(env.String("LEDGER_DRIVER", ""))),
		SQLitePath:  strings.TrimSpace(env.String("LEDGER_SQLITE_PATH", "loadrunner.db")),
		DatabaseURL: strings.TrimSpace(env.String("LEDGER_DATABASE_URL", "")),
		MaxConns:    maxConns,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch Dialect(c.Driver) {
	case "":
	case DialectSQLite:
		if c.SQLitePath == "" {
			return errors.New("LEDGER_SQLITE_PATH is required")
		}
	case DialectPostgres:
		if c.DatabaseURL == "" {
			return errors.New("LEDGER_DATABASE_URL is required")
		}
		if c.MaxConns < 1 {
			return errors.New("LEDGER_MAX_CONNS must be >= 1")
		}
	default:
		return fmt.Errorf("unsupported LEDGER_DRIVER %q", c.Driver)
	}
	return nil
}

func (c Config) Enabled() bool {
	return c.Driver != ""
}

// Open connects, migrates and returns the configured store. It returns
// (nil, nil) when the ledger is disabled.
func Open(ctx context.Context, cfg Config) (*SQLStore, error) {
	var (
		db  *sql.DB
		err error
	)
	switch Dialect(cfg.Driver) {
	case "":
		return nil, nil
	case DialectSQLite:
		db, err = OpenSQLite(cfg.SQLitePath)
	case DialectPostgres:
		db, err = OpenPostgres(ctx, cfg.DatabaseURL, cfg.MaxConns)
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	store, err := NewSQLStore(db, Dialect(cfg.Driver))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OpenPostgres connects through the pgx database/sql driver and pings once.
func OpenPostgres(ctx context.Context, url string, maxConns int) (*sql.DB, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("database url is required")
	}
	if maxConns < 1 {
		maxConns = 1
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// OpenSQLite opens path with WAL and a busy timeout. SQLite allows one
// writer, so the pool is capped at one connection.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}
