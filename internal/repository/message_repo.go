package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat-relay/internal/domain"
)

type MessageRepository interface {
	Create(ctx context.Context, message domain.Message) error
	GetByID(ctx context.Context, id string) (domain.Message, error)
	ListByChatID(ctx context.Context, chatID string) ([]domain.Message, error)
	CountUserMessages(ctx context.Context, chatID string) (int, error)
	// UpdateContent reescribe contenido y metadata de un mensaje de asistente.
	UpdateContent(ctx context.Context, id, content string, metadata *domain.MessageMetadata) error
}

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

func (r *PgMessageRepository) Create(ctx context.Context, message domain.Message) error {
	const query = `
		INSERT INTO messages (id, chat_id, content, is_user, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	metadata, err := encodeMetadata(message.Metadata)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, query,
		message.ID,
		message.ChatID,
		message.Content,
		message.IsUser,
		metadata,
		message.CreatedAt,
	)
	return err
}

func (r *PgMessageRepository) GetByID(ctx context.Context, id string) (domain.Message, error) {
	const query = `
		SELECT id, chat_id, content, is_user, metadata, created_at
		FROM messages
		WHERE id = $1
	`
	msg, err := scanMessage(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	return msg, err
}

func (r *PgMessageRepository) ListByChatID(ctx context.Context, chatID string) ([]domain.Message, error) {
	const query = `
		SELECT id, chat_id, content, is_user, metadata, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *PgMessageRepository) CountUserMessages(ctx context.Context, chatID string) (int, error) {
	const query = `SELECT COUNT(*) FROM messages WHERE chat_id = $1 AND is_user = TRUE`
	var n int
	err := r.pool.QueryRow(ctx, query, chatID).Scan(&n)
	return n, err
}

func (r *PgMessageRepository) UpdateContent(ctx context.Context, id, content string, metadata *domain.MessageMetadata) error {
	const query = `
		UPDATE messages
		SET content = $2, metadata = $3
		WHERE id = $1 AND is_user = FALSE
	`
	encoded, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, query, id, content, encoded)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assistant message %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var (
		msg      domain.Message
		metadata *string
	)
	if err := row.Scan(&msg.ID, &msg.ChatID, &msg.Content, &msg.IsUser, &metadata, &msg.CreatedAt); err != nil {
		return domain.Message{}, err
	}
	meta, err := decodeMetadata(metadata)
	if err != nil {
		return domain.Message{}, err
	}
	msg.Metadata = meta
	return msg, nil
}
