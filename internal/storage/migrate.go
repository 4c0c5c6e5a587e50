package storage

import (
	"fmt"
	"strings"
)

// Migrate ensures the required tables are present.
func Migrate(db *DB) error {
	var stmts []string
	switch strings.ToLower(db.Driver) {
	case "sqlite", "sqlite3":
		stmts = sqliteSchema
	case "mysql":
		stmts = mysqlSchema
	case "postgres":
		stmts = postgresSchema
	default:
		return fmt.Errorf("unsupported driver for migration: %s", db.Driver)
	}

	for _, stmt := range stmts {
		if _, err := db.DB.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", db.Driver, err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		auto_titled BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chats_user_updated ON chats(user_id, updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		file_name TEXT,
		file_url TEXT,
		metadata TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		original_name TEXT NOT NULL,
		file_path TEXT NOT NULL,
		file_url TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		content_type TEXT NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT 0,
		extraction_text TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_files_user_created ON files(user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS ai_usage (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		chat_id TEXT,
		message_id TEXT,
		service_type TEXT NOT NULL,
		model_name TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		cost_estimate REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE SET NULL,
		FOREIGN KEY(message_id) REFERENCES messages(id) ON DELETE SET NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_usage_user ON ai_usage(user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS user_sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_sessions_user ON user_sessions(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_user_sessions_expiry ON user_sessions(expires_at)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(36) NOT NULL,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS chats (
		id VARCHAR(36) NOT NULL,
		user_id VARCHAR(36) NOT NULL,
		title VARCHAR(500) NOT NULL,
		auto_titled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_chats_user_updated (user_id, updated_at),
		CONSTRAINT fk_chats_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS messages (
		id VARCHAR(36) NOT NULL,
		chat_id VARCHAR(36) NOT NULL,
		role VARCHAR(20) NOT NULL,
		content MEDIUMTEXT NOT NULL,
		file_name VARCHAR(255),
		file_url TEXT,
		metadata TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_messages_chat_created (chat_id, created_at),
		CONSTRAINT fk_messages_chat FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS files (
		id VARCHAR(36) NOT NULL,
		user_id VARCHAR(36) NOT NULL,
		original_name VARCHAR(255) NOT NULL,
		file_path TEXT NOT NULL,
		file_url TEXT NOT NULL,
		file_size BIGINT NOT NULL,
		content_type VARCHAR(255) NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		extraction_text MEDIUMTEXT,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_files_user_created (user_id, created_at),
		CONSTRAINT fk_files_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS ai_usage (
		id VARCHAR(36) NOT NULL,
		user_id VARCHAR(36) NOT NULL,
		chat_id VARCHAR(36),
		message_id VARCHAR(36),
		service_type VARCHAR(50) NOT NULL,
		model_name VARCHAR(255) NOT NULL,
		prompt_tokens INT NOT NULL DEFAULT 0,
		completion_tokens INT NOT NULL DEFAULT 0,
		total_tokens INT NOT NULL DEFAULT 0,
		cost_estimate DOUBLE NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_ai_usage_user (user_id, created_at),
		CONSTRAINT fk_ai_usage_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		CONSTRAINT fk_ai_usage_chat FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE SET NULL,
		CONSTRAINT fk_ai_usage_message FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE SET NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS user_sessions (
		token VARCHAR(128) NOT NULL PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		expires_at DATETIME(6) NOT NULL,
		INDEX idx_user_sessions_user (user_id),
		INDEX idx_user_sessions_expiry (expires_at),
		CONSTRAINT fk_user_sessions_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		auto_titled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chats_user_updated ON chats(user_id, updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		file_name TEXT,
		file_url TEXT,
		metadata TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		original_name TEXT NOT NULL,
		file_path TEXT NOT NULL,
		file_url TEXT NOT NULL,
		file_size BIGINT NOT NULL,
		content_type TEXT NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		extraction_text TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_files_user_created ON files(user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS ai_usage (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		chat_id TEXT REFERENCES chats(id) ON DELETE SET NULL,
		message_id TEXT REFERENCES messages(id) ON DELETE SET NULL,
		service_type TEXT NOT NULL,
		model_name TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		cost_estimate DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_usage_user ON ai_usage(user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS user_sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_sessions_user ON user_sessions(user_id)`,
}
