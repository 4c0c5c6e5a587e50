package storage

import (
	"context"
	"testing"
	"time"

	"lexchat/internal/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	if err := Migrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestRebind(t *testing.T) {
	q := `SELECT id FROM chats WHERE id = ? AND user_id = ? LIMIT ?`
	if got := Rebind("sqlite3", q); got != q {
		t.Fatalf("sqlite query should be unchanged, got %s", got)
	}
	want := `SELECT id FROM chats WHERE id = $1 AND user_id = $2 LIMIT $3`
	if got := Rebind("postgres", q); got != want {
		t.Fatalf("postgres rebind = %s", got)
	}
}

func TestForeignKeysCascade(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, is_active, created_at, updated_at) VALUES (?, ?, ?, '', ?, ?, ?)`,
		"u1", "Ann", "ann@example.com", true, now, now); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO chats (id, user_id, title, auto_titled, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"c1", "u1", "New Chat", false, now, now); err != nil {
		t.Fatalf("insert chat: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, role, content, metadata, created_at) VALUES (?, ?, 'user', 'hi', '{}', ?)`,
		"m1", "c1", now); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO ai_usage (id, user_id, chat_id, message_id, service_type, model_name, created_at) VALUES (?, ?, ?, ?, 'chat', 'm', ?)`,
		"a1", "u1", "c1", "m1", now); err != nil {
		t.Fatalf("insert usage: %v", err)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, "c1"); err != nil {
		t.Fatalf("delete chat: %v", err)
	}
	var messages int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, "c1").Scan(&messages); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if messages != 0 {
		t.Fatalf("messages not cascaded: %d", messages)
	}
	var chatID, messageID *string
	if err := db.QueryRowContext(ctx, `SELECT chat_id, message_id FROM ai_usage WHERE id = ?`, "a1").Scan(&chatID, &messageID); err != nil {
		t.Fatalf("usage row should survive: %v", err)
	}
	if chatID != nil || messageID != nil {
		t.Fatalf("usage references should be nulled, got %v %v", chatID, messageID)
	}
}
