package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/clawpulse/syncrelay/internal/config"
)

const (
	driverLibsql   = config.DriverLibsql
	driverSQLite   = config.DriverSQLite
	driverPostgres = config.DriverPostgres

	// sql.Register names of the drivers above.
	sqlDriverLibsql   = "libsql"
	sqlDriverSQLite   = "sqlite"
	sqlDriverPostgres = "pgx"

	busyTimeoutMillis = 5000
)

// Store wraps the database connection holding sync records.
type Store struct {
	DB      *sql.DB
	driver  string
	dialect dialect

	// MaxPayloadBytes rejects larger payloads in Put. Zero disables the check.
	MaxPayloadBytes int64

	// TTL decides whether an overwrite revives a logically expired slot, in
	// which case created_at restarts. Zero keeps created_at forever.
	TTL time.Duration

	// Clock stamps writes. Defaults to time.Now in UTC.
	Clock func() time.Time
}

// Open initializes a store connection using the provided configuration.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = driverLibsql
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var (
		db          *sql.DB
		err         error
		localLibsql bool
	)

	switch driver {
	case driverLibsql:
		dsn, dsnErr := buildLibsqlDSN(cfg)
		if dsnErr != nil {
			return nil, dsnErr
		}
		db, err = sql.Open(sqlDriverLibsql, dsn)
		if err != nil {
			return nil, fmt.Errorf("open libsql store: %w", err)
		}
		localLibsql = isLocalLibsql(dsn)
		if localLibsql {
			// Local libsql files take one writer; a single connection keeps
			// pragmas applied and avoids SQLITE_BUSY between pool members.
			db.SetMaxOpenConns(1)
		}
	case driverSQLite:
		dsn, dsnErr := buildSQLiteDSN(cfg)
		if dsnErr != nil {
			return nil, dsnErr
		}
		db, err = sql.Open(sqlDriverSQLite, dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		if strings.Contains(dsn, ":memory:") {
			// Every connection to :memory: is a separate database.
			db.SetMaxOpenConns(1)
		}
	case driverPostgres:
		dsn := strings.TrimSpace(cfg.URL)
		if dsn == "" {
			return nil, errors.New("store url is required for postgres")
		}
		db, err = sql.Open(sqlDriverPostgres, dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s store: %w", driver, err)
	}

	s := &Store{DB: db, driver: driver, dialect: dialectFor(driver)}

	if localLibsql {
		if err := s.applyLibsqlPragmas(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return s, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Driver returns the configured store driver.
func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if err := s.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	return nil
}

func (s *Store) now() time.Time {
	if s != nil && s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

// applyLibsqlPragmas runs pragmas through QueryRow because libsql refuses
// Exec for statements that return rows.
func (s *Store) applyLibsqlPragmas(ctx context.Context) error {
	var journal string
	if err := s.DB.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journal); err != nil {
		return fmt.Errorf("set libsql journal mode: %w", err)
	}
	var timeout int
	if err := s.DB.QueryRowContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMillis)).Scan(&timeout); err != nil {
		return fmt.Errorf("set libsql busy timeout: %w", err)
	}
	return nil
}

func buildLibsqlDSN(cfg config.StoreConfig) (string, error) {
	if dsn := strings.TrimSpace(cfg.URL); dsn != "" {
		return addAuthToken(dsn, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("store path or url is required")
	}

	if path == ":memory:" {
		return path, nil
	}

	if strings.HasPrefix(path, "file:") {
		localPath, err := extractFilePath(path)
		if err != nil {
			return "", err
		}
		if err := ensureStoreDir(localPath); err != nil {
			return "", err
		}
		return path, nil
	}

	if strings.HasPrefix(path, "libsql:") {
		return path, nil
	}

	if err := ensureStoreDir(path); err != nil {
		return "", err
	}
	return "file:" + filepath.Clean(path), nil
}

// buildSQLiteDSN targets modernc.org/sqlite, which applies _pragma query
// parameters on every new connection.
func buildSQLiteDSN(cfg config.StoreConfig) (string, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("store path is required for sqlite")
	}

	if path == ":memory:" {
		return path, nil
	}

	if strings.HasPrefix(path, "file:") {
		localPath, err := extractFilePath(path)
		if err != nil {
			return "", err
		}
		if err := ensureStoreDir(localPath); err != nil {
			return "", err
		}
	} else {
		if err := ensureStoreDir(path); err != nil {
			return "", err
		}
		path = "file:" + filepath.Clean(path)
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	pragmas := fmt.Sprintf("_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", busyTimeoutMillis)
	return path + sep + pragmas, nil
}

func isLocalLibsql(dsn string) bool {
	return dsn == ":memory:" || strings.HasPrefix(dsn, "file:")
}

func addAuthToken(dsn string, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}

	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}

	return parsed.String(), nil
}

func extractFilePath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}

	if parsed.Path != "" {
		return strings.TrimPrefix(parsed.Path, "//"), nil
	}

	return strings.TrimPrefix(parsed.Opaque, "//"), nil
}

func ensureStoreDir(path string) error {
	if strings.TrimSpace(path) == "" || path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	// #nosec G301 -- data directory holds only opaque encrypted blobs
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
