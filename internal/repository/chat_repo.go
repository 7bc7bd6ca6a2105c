package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat-relay/internal/domain"
)

type ChatRepository interface {
	Create(ctx context.Context, chat domain.Chat) error
	GetByID(ctx context.Context, id string) (domain.Chat, error)
	ListByUserID(ctx context.Context, userID string) ([]domain.Chat, error)
	// SetDerivedTitle aplica el titulo solo si todavia no fue derivado.
	SetDerivedTitle(ctx context.Context, id, title string) (bool, error)
}

type PgChatRepository struct {
	pool *pgxpool.Pool
}

func NewPgChatRepository(pool *pgxpool.Pool) *PgChatRepository {
	return &PgChatRepository{pool: pool}
}

func (r *PgChatRepository) Create(ctx context.Context, chat domain.Chat) error {
	const query = `
		INSERT INTO chats (id, user_id, title, title_derived, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query,
		chat.ID,
		chat.UserID,
		chat.Title,
		chat.TitleDerived,
		chat.CreatedAt,
	)
	return err
}

func (r *PgChatRepository) GetByID(ctx context.Context, id string) (domain.Chat, error) {
	const query = `
		SELECT id, user_id, title, title_derived, created_at
		FROM chats
		WHERE id = $1
	`
	var chat domain.Chat
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&chat.ID,
		&chat.UserID,
		&chat.Title,
		&chat.TitleDerived,
		&chat.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Chat{}, fmt.Errorf("chat %s: %w", id, domain.ErrNotFound)
	}
	return chat, err
}

func (r *PgChatRepository) ListByUserID(ctx context.Context, userID string) ([]domain.Chat, error) {
	const query = `
		SELECT id, user_id, title, title_derived, created_at
		FROM chats
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := []domain.Chat{}
	for rows.Next() {
		var chat domain.Chat
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.TitleDerived, &chat.CreatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *PgChatRepository) SetDerivedTitle(ctx context.Context, id, title string) (bool, error) {
	const query = `
		UPDATE chats
		SET title = $2, title_derived = TRUE
		WHERE id = $1 AND title_derived = FALSE
	`
	tag, err := r.pool.Exec(ctx, query, id, title)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
