package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

// ChatRepository is a PostgreSQL implementation of repository.ChatRepository.
// Participants and messages live in their own tables.
type ChatRepository struct {
	db *sql.DB
}

// NewChatRepository creates a new PostgreSQL chat repository.
func NewChatRepository(db *sql.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// Create persists a new chat and its participants.
func (r *ChatRepository) Create(ctx context.Context, chat *domain.Chat) error {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chats (id, request_id, is_closed, created_at) VALUES ($1, $2, FALSE, $3)`,
			chat.ID, chat.RequestID, chat.CreatedAt)
		if err != nil {
			return err
		}
		for _, p := range chat.Participants {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO chat_participants (chat_id, principal_id, role) VALUES ($1, $2, $3)
				 ON CONFLICT DO NOTHING`,
				chat.ID, p.PrincipalID, p.Role)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// GetByID retrieves a chat with its messages.
func (r *ChatRepository) GetByID(ctx context.Context, id string) (*domain.Chat, error) {
	return r.load(ctx, `SELECT id, request_id, is_closed, closed_at, created_at FROM chats WHERE id = $1`, id)
}

// GetByRequestID retrieves the chat of a request.
func (r *ChatRepository) GetByRequestID(ctx context.Context, requestID string) (*domain.Chat, error) {
	return r.load(ctx, `SELECT id, request_id, is_closed, closed_at, created_at FROM chats WHERE request_id = $1`, requestID)
}

func (r *ChatRepository) load(ctx context.Context, query, arg string) (*domain.Chat, error) {
	var (
		c        domain.Chat
		closedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&c.ID, &c.RequestID, &c.IsClosed, &closedAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		c.ClosedAt = &t
	}

	if c.Participants, err = r.participants(ctx, c.ID); err != nil {
		return nil, err
	}
	if c.Messages, err = r.messages(ctx, c.ID); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ChatRepository) participants(ctx context.Context, chatID string) ([]domain.Participant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT principal_id, role, last_read_at FROM chat_participants WHERE chat_id = $1 ORDER BY principal_id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Participant, 0, 2)
	for rows.Next() {
		var (
			p  domain.Participant
			at sql.NullTime
		)
		if err := rows.Scan(&p.PrincipalID, &p.Role, &at); err != nil {
			return nil, err
		}
		if at.Valid {
			t := at.Time
			p.LastReadAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *ChatRepository) messages(ctx context.Context, chatID string) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, seq, sender_id, text, attachments, status, created_at
		 FROM chat_messages WHERE chat_id = $1 ORDER BY created_at, seq`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Message, 0)
	for rows.Next() {
		var (
			m   domain.Message
			raw []byte
		)
		if err := rows.Scan(&m.ID, &m.Seq, &m.SenderID, &m.Text, &raw, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := scanJSON(raw, &m.Attachments); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AppendMessage locks the chat row, clamps createdAt to the last message and
// assigns the next sequence number.
func (r *ChatRepository) AppendMessage(ctx context.Context, chatID string, msg *domain.Message) error {
	attachments, err := jsonValue(nonNil(msg.Attachments))
	if err != nil {
		return err
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var closed bool
		err := tx.QueryRowContext(ctx, `SELECT is_closed FROM chats WHERE id = $1 FOR UPDATE`, chatID).Scan(&closed)
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		if err != nil {
			return err
		}
		if closed {
			return repository.ErrStatusChanged
		}

		var (
			lastSeq sql.NullInt64
			lastAt  sql.NullTime
		)
		err = tx.QueryRowContext(ctx,
			`SELECT MAX(seq), MAX(created_at) FROM chat_messages WHERE chat_id = $1`, chatID,
		).Scan(&lastSeq, &lastAt)
		if err != nil {
			return err
		}
		msg.Seq = lastSeq.Int64 + 1
		if lastAt.Valid && msg.CreatedAt.Before(lastAt.Time) {
			msg.CreatedAt = lastAt.Time
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO chat_messages (id, chat_id, seq, sender_id, text, attachments, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			msg.ID, chatID, msg.Seq, msg.SenderID, msg.Text, attachments, msg.Status, msg.CreatedAt)
		return err
	})
}

// UpdateMessageStatus advances a sent message to status.
func (r *ChatRepository) UpdateMessageStatus(ctx context.Context, chatID, messageID string, status domain.MessageStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE chat_messages SET status = $1 WHERE chat_id = $2 AND id = $3 AND status = 'sent'`,
		status, chatID, messageID)
	return err
}

// MarkRead sets lastReadAt and marks messages from other senders as read.
func (r *ChatRepository) MarkRead(ctx context.Context, chatID, principalID string, at time.Time) (int, error) {
	var n int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE chat_participants SET last_read_at = $1 WHERE chat_id = $2 AND principal_id = $3`,
			at, chatID, principalID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE chat_messages SET status = 'read' WHERE chat_id = $1 AND sender_id <> $2 AND status <> 'read'`,
			chatID, principalID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// Close marks the chat closed.
func (r *ChatRepository) Close(ctx context.Context, chatID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE chats SET is_closed = TRUE, closed_at = $1 WHERE id = $2 AND NOT is_closed`, at, chatID)
	if err != nil {
		return err
	}
	return rowsAffected(res, repository.ErrStatusChanged)
}

// Delete removes the chat; participants and messages cascade.
func (r *ChatRepository) Delete(ctx context.Context, chatID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, chatID)
	if err != nil {
		return err
	}
	return rowsAffected(res, repository.ErrNotFound)
}
