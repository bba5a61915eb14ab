// Package bdkeeper is the local SQLite persistence of the check-in client.
// It stores named slots, each holding one opaque payload that is replaced
// as a whole on every write.
package bdkeeper

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Keeper reads and writes slots.
type Keeper struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// one writer; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate brings the schema up to date using the embedded goose migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(log.New(io.Discard, "", 0))
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// NewKeeper wraps an opened and migrated database.
func NewKeeper(db *sql.DB) *Keeper {
	return &Keeper{db: db, now: time.Now}
}

// ReadSlot returns the payload stored under name. ok is false if the slot
// was never written or has been deleted.
func (k *Keeper) ReadSlot(ctx context.Context, name string) (payload []byte, ok bool, err error) {
	err = k.db.QueryRowContext(ctx, "SELECT payload FROM slots WHERE name = ?", name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read slot %s: %w", name, err)
	}
	return payload, true, nil
}

// WriteSlot replaces the payload of name in a single transaction, so a
// concurrent or later reader sees either the old or the new payload.
func (k *Keeper) WriteSlot(ctx context.Context, name string, payload []byte) error {
	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write slot %s: %w", name, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO slots (name, payload, updated_at, writes) VALUES (?, ?, ?, 1)
		ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at, writes = writes + 1`,
		name, payload, k.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write slot %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit slot %s: %w", name, err)
	}
	return nil
}

// DeleteSlot removes name. Deleting an absent slot is not an error.
func (k *Keeper) DeleteSlot(ctx context.Context, name string) error {
	if _, err := k.db.ExecContext(ctx, "DELETE FROM slots WHERE name = ?", name); err != nil {
		return fmt.Errorf("delete slot %s: %w", name, err)
	}
	return nil
}

// SlotWrites reports how many times name has been written since creation.
func (k *Keeper) SlotWrites(ctx context.Context, name string) (int, error) {
	var n int
	err := k.db.QueryRowContext(ctx, "SELECT writes FROM slots WHERE name = ?", name).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// IsEmpty reports whether no slot has been written yet.
func (k *Keeper) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	if err := k.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM slots").Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}
