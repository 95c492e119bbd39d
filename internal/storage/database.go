package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"jettyreport/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DriverName normalizes a configured database type to its database/sql driver name.
func DriverName(dbType string) string {
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		return "sqlite3"
	case "postgres", "postgresql", "pg":
		return "postgres"
	default:
		return strings.ToLower(dbType)
	}
}

// Open connects to the configured database of the given type.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch DriverName(dbType) {
	case "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		if dbCfg.DSN != ":memory:" && !strings.HasPrefix(dbCfg.DSN, "file:") {
			if err := os.MkdirAll(filepath.Dir(dbCfg.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if dbCfg.DSN == ":memory:" {
			// every pooled connection would get its own empty in-memory database
			db.SetMaxOpenConns(1)
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		if !strings.Contains(dsn, "parseTime=") {
			// DATETIME columns scan into time.Time only with parseTime
			dsn = appendParam(dsn, "parseTime=true")
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case "postgres":
		dsn := dbCfg.DSN
		if dsn == "" {
			port := dbCfg.Port
			if port == 0 {
				port = 5432
			}
			params := dbCfg.Params
			if params == "" {
				params = "sslmode=disable"
			}
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s %s",
				dbCfg.Host, port, dbCfg.Username, dbCfg.Password, dbCfg.DBName, params)
		}
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func appendParam(dsn, param string) string {
	switch {
	case strings.HasSuffix(dsn, "?"):
		return dsn + param
	case strings.Contains(dsn, "?"):
		return dsn + "&" + param
	default:
		return dsn + "?" + param
	}
}

// Rebind rewrites ? placeholders into the driver's bind style.
func Rebind(driver, query string) string {
	if DriverName(driver) != "postgres" {
		return query
	}
	var b strings.Builder
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

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch DriverName(driver) {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS uploads (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				token TEXT NOT NULL,
				field_name TEXT NOT NULL,
				original_name TEXT NOT NULL,
				stored_path TEXT NOT NULL,
				size INTEGER NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_uploads_expiry ON uploads(expires_at)`,
			`CREATE TABLE IF NOT EXISTS reports (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				token TEXT NOT NULL UNIQUE,
				session_id TEXT NOT NULL,
				upload_filename TEXT NOT NULL,
				report_name TEXT NOT NULL,
				path TEXT NOT NULL,
				size INTEGER NOT NULL,
				sheet_count INTEGER NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_reports_name ON reports(report_name)`,
			`CREATE INDEX IF NOT EXISTS idx_reports_expiry ON reports(expires_at)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS uploads (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				session_id VARCHAR(64) NOT NULL,
				token VARCHAR(64) NOT NULL,
				field_name VARCHAR(255) NOT NULL,
				original_name VARCHAR(255) NOT NULL,
				stored_path TEXT NOT NULL,
				size BIGINT NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_uploads_expiry (expires_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS reports (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				token VARCHAR(64) NOT NULL,
				session_id VARCHAR(64) NOT NULL,
				upload_filename VARCHAR(255) NOT NULL,
				report_name VARCHAR(255) NOT NULL,
				path TEXT NOT NULL,
				size BIGINT NOT NULL,
				sheet_count INT NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_reports_token (token),
				INDEX idx_reports_name (report_name),
				INDEX idx_reports_expiry (expires_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case "postgres":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS uploads (
				id BIGSERIAL PRIMARY KEY,
				session_id TEXT NOT NULL,
				token TEXT NOT NULL,
				field_name TEXT NOT NULL,
				original_name TEXT NOT NULL,
				stored_path TEXT NOT NULL,
				size BIGINT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_uploads_expiry ON uploads(expires_at)`,
			`CREATE TABLE IF NOT EXISTS reports (
				id BIGSERIAL PRIMARY KEY,
				token TEXT NOT NULL UNIQUE,
				session_id TEXT NOT NULL,
				upload_filename TEXT NOT NULL,
				report_name TEXT NOT NULL,
				path TEXT NOT NULL,
				size BIGINT NOT NULL,
				sheet_count INTEGER NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_reports_name ON reports(report_name)`,
			`CREATE INDEX IF NOT EXISTS idx_reports_expiry ON reports(expires_at)`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
