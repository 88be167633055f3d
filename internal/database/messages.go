package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crewmesh/crewmesh/pkg/types"
)

// AppendMessage durably stores a message in the recipient's pending
// collection.
func (d *Database) AppendMessage(ctx context.Context, msg *types.Message) error {
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("failed to encode message content: %w", err)
	}

	_, err = d.db.ExecContext(ctx, d.rebind(`
		INSERT INTO messages (id, sender, recipient, msg_type, content, status, created_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?)`),
		msg.ID, msg.From, msg.To, string(msg.Type), string(content), msg.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append message %s: %w", msg.ID, err)
	}
	return nil
}

// ReadAndArchiveMessages returns the recipient's pending messages in send
// order and marks them processed in the same transaction, so each durable
// message is handed to exactly one read.
func (d *Database) ReadAndArchiveMessages(ctx context.Context, recipient string) ([]*types.Message, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, d.rebind(`
		SELECT id, sender, recipient, msg_type, content, created_at
		FROM messages
		WHERE recipient = ? AND status = 'pending'
		ORDER BY created_at, id`), recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending messages: %w", err)
	}

	var messages []*types.Message
	for rows.Next() {
		var (
			m       types.Message
			msgType string
			content sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.From, &m.To, &msgType, &content, &m.Timestamp); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Type = types.MessageType(msgType)
		if content.Valid && content.String != "" {
			if err := json.Unmarshal([]byte(content.String), &m.Content); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to decode content of %s: %w", m.ID, err)
			}
		}
		messages = append(messages, &m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(messages) == 0 {
		return nil, nil
	}

	now := time.Now()
	for _, m := range messages {
		if _, err := tx.ExecContext(ctx, d.rebind(`
			UPDATE messages SET status = 'processed', processed_at = ?
			WHERE id = ?`), now, m.ID); err != nil {
			return nil, fmt.Errorf("failed to archive message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message archive: %w", err)
	}
	return messages, nil
}

// PendingMessageCount returns the number of unread durable messages for a
// recipient.
func (d *Database) PendingMessageCount(ctx context.Context, recipient string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, d.rebind(`
		SELECT COUNT(*) FROM messages WHERE recipient = ? AND status = 'pending'`),
		recipient).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending messages: %w", err)
	}
	return n, nil
}
