package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// registra el driver sqlite
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chats (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT 'New chat',
	title_derived INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chats_user_created ON chats (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	chat_id    TEXT NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
	content    TEXT NOT NULL,
	is_user    INTEGER NOT NULL DEFAULT 1,
	metadata   TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages (chat_id, created_at);
`

// OpenSQLite abre (o crea) la base SQLite en path y aplica el esquema.
// Usar ":memory:" para una base efimera.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Un solo escritor; con :memory: cada conexion seria otra base.
	conn.SetMaxOpenConns(1)

	pragmas := []string{`PRAGMA foreign_keys=ON`}
	if path != ":memory:" {
		pragmas = append(pragmas, `PRAGMA journal_mode=WAL`)
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("sqlite pragma: %w", err)
		}
	}
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return conn, nil
}
