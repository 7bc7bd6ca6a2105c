package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chat-relay/internal/domain"
)

// Formato de ancho fijo para que el orden lexicografico coincida con el temporal.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse created_at %q: %w", s, err)
	}
	return t, nil
}

type SQLiteChatRepository struct {
	db *sql.DB
}

func NewSQLiteChatRepository(db *sql.DB) *SQLiteChatRepository {
	return &SQLiteChatRepository{db: db}
}

func (r *SQLiteChatRepository) Create(ctx context.Context, chat domain.Chat) error {
	const query = `
		INSERT INTO chats (id, user_id, title, title_derived, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		chat.ID,
		chat.UserID,
		chat.Title,
		chat.TitleDerived,
		formatSQLiteTime(chat.CreatedAt),
	)
	return err
}

func (r *SQLiteChatRepository) GetByID(ctx context.Context, id string) (domain.Chat, error) {
	const query = `
		SELECT id, user_id, title, title_derived, created_at
		FROM chats
		WHERE id = ?
	`
	chat, err := scanSQLiteChat(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Chat{}, fmt.Errorf("chat %s: %w", id, domain.ErrNotFound)
	}
	return chat, err
}

func (r *SQLiteChatRepository) ListByUserID(ctx context.Context, userID string) ([]domain.Chat, error) {
	const query = `
		SELECT id, user_id, title, title_derived, created_at
		FROM chats
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := []domain.Chat{}
	for rows.Next() {
		chat, err := scanSQLiteChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *SQLiteChatRepository) SetDerivedTitle(ctx context.Context, id, title string) (bool, error) {
	const query = `
		UPDATE chats
		SET title = ?, title_derived = 1
		WHERE id = ? AND title_derived = 0
	`
	res, err := r.db.ExecContext(ctx, query, title, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanSQLiteChat(row rowScanner) (domain.Chat, error) {
	var (
		chat    domain.Chat
		created string
	)
	if err := row.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.TitleDerived, &created); err != nil {
		return domain.Chat{}, err
	}
	t, err := parseSQLiteTime(created)
	if err != nil {
		return domain.Chat{}, err
	}
	chat.CreatedAt = t
	return chat, nil
}

type SQLiteMessageRepository struct {
	db *sql.DB
}

func NewSQLiteMessageRepository(db *sql.DB) *SQLiteMessageRepository {
	return &SQLiteMessageRepository{db: db}
}

func (r *SQLiteMessageRepository) Create(ctx context.Context, message domain.Message) error {
	const query = `
		INSERT INTO messages (id, chat_id, content, is_user, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	metadata, err := encodeMetadata(message.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query,
		message.ID,
		message.ChatID,
		message.Content,
		message.IsUser,
		metadata,
		formatSQLiteTime(message.CreatedAt),
	)
	return err
}

func (r *SQLiteMessageRepository) GetByID(ctx context.Context, id string) (domain.Message, error) {
	const query = `
		SELECT id, chat_id, content, is_user, metadata, created_at
		FROM messages
		WHERE id = ?
	`
	msg, err := scanSQLiteMessage(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	return msg, err
}

func (r *SQLiteMessageRepository) ListByChatID(ctx context.Context, chatID string) ([]domain.Message, error) {
	const query = `
		SELECT id, chat_id, content, is_user, metadata, created_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at ASC, rowid ASC
	`
	rows, err := r.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *SQLiteMessageRepository) CountUserMessages(ctx context.Context, chatID string) (int, error) {
	const query = `SELECT COUNT(*) FROM messages WHERE chat_id = ? AND is_user = 1`
	var n int
	err := r.db.QueryRowContext(ctx, query, chatID).Scan(&n)
	return n, err
}

func (r *SQLiteMessageRepository) UpdateContent(ctx context.Context, id, content string, metadata *domain.MessageMetadata) error {
	const query = `
		UPDATE messages
		SET content = ?, metadata = ?
		WHERE id = ? AND is_user = 0
	`
	encoded, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, query, content, encoded, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("assistant message %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanSQLiteMessage(row rowScanner) (domain.Message, error) {
	var (
		msg      domain.Message
		metadata sql.NullString
		created  string
	)
	if err := row.Scan(&msg.ID, &msg.ChatID, &msg.Content, &msg.IsUser, &metadata, &created); err != nil {
		return domain.Message{}, err
	}
	var raw *string
	if metadata.Valid {
		raw = &metadata.String
	}
	meta, err := decodeMetadata(raw)
	if err != nil {
		return domain.Message{}, err
	}
	t, err := parseSQLiteTime(created)
	if err != nil {
		return domain.Message{}, err
	}
	msg.Metadata = meta
	msg.CreatedAt = t
	return msg, nil
}
