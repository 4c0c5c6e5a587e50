package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"lexchat/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB is a *sql.DB that remembers its driver so queries written with "?"
// placeholders can be rebound for postgres.
type DB struct {
	*sql.DB
	Driver string
}

// Open connects to the database configured under dbType.
func Open(dbType string, cfg *config.Config) (*DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db     *sql.DB
		driver string
		err    error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		driver = "sqlite3"
		db, err = sql.Open(driver, sqliteDSN(dbCfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if strings.Contains(dbCfg.DSN, ":memory:") {
			// every pooled connection would otherwise get its own empty database
			db.SetMaxOpenConns(1)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		driver = "mysql"
		dsn := dbCfg.DSN
		if dsn == "" {
			params := dbCfg.Params
			if params == "" {
				params = "parseTime=true&charset=utf8mb4"
			}
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				params,
			)
		}
		db, err = sql.Open(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case "postgres", "postgresql":
		driver = "postgres"
		dsn := dbCfg.DSN
		if dsn == "" {
			port := dbCfg.Port
			if port == 0 {
				port = 5432
			}
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s %s",
				dbCfg.Host, port, dbCfg.Username, dbCfg.Password, dbCfg.DBName, dbCfg.Params)
		}
		db, err = sql.Open(driver, strings.TrimSpace(dsn))
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
	return &DB{DB: db, Driver: driver}, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

// Rebind rewrites "?" placeholders into the driver's bind style.
func (db *DB) Rebind(query string) string {
	return Rebind(db.Driver, query)
}

// Rebind rewrites "?" placeholders to "$n" for postgres and leaves other drivers untouched.
func Rebind(driver, query string) string {
	if driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// ExecContext runs query after rebinding its placeholders.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.DB.ExecContext(ctx, db.Rebind(query), args...)
}

// QueryContext runs query after rebinding its placeholders.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.DB.QueryContext(ctx, db.Rebind(query), args...)
}

// QueryRowContext runs query after rebinding its placeholders.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.DB.QueryRowContext(ctx, db.Rebind(query), args...)
}

// Tx wraps *sql.Tx with the same placeholder rebinding.
type Tx struct {
	*sql.Tx
	driver string
}

// BeginTx starts a transaction that rebinds placeholders.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, driver: db.Driver}, nil
}

// ExecContext runs query inside the transaction after rebinding.
func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.Tx.ExecContext(ctx, Rebind(tx.driver, query), args...)
}

// QueryRowContext runs query inside the transaction after rebinding.
func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.Tx.QueryRowContext(ctx, Rebind(tx.driver, query), args...)
}
