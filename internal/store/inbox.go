package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/timvw/pane-conductor/internal/model"
)

// AppendMessage queues a message and returns it with its assigned id.
func (s *Store) AppendMessage(ctx context.Context, sender, receiver, body string) (model.InboxMessage, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO inbox (sender_id, receiver_id, body, created_at) VALUES (?, ?, ?, ?)`,
		sender, receiver, body, now.UnixNano())
	if err != nil {
		return model.InboxMessage{}, fmt.Errorf("queueing message for %s: %w", receiver, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.InboxMessage{}, fmt.Errorf("reading message id: %w", err)
	}
	return model.InboxMessage{
		ID:         id,
		SenderID:   sender,
		ReceiverID: receiver,
		Body:       body,
		CreatedAt:  now,
	}, nil
}

// OldestPending returns the receiver's oldest undelivered message. ok is
// false when nothing is pending.
func (s *Store) OldestPending(ctx context.Context, receiver string) (msg model.InboxMessage, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sender_id, receiver_id, body, created_at, delivered, delivered_at
		FROM inbox WHERE receiver_id = ? AND delivered = 0
		ORDER BY id LIMIT 1`, receiver)
	msg, err = scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.InboxMessage{}, false, nil
	}
	if err != nil {
		return model.InboxMessage{}, false, fmt.Errorf("loading pending message for %s: %w", receiver, err)
	}
	return msg, true, nil
}

// ClaimMessage marks a pending message delivered. It reports false when
// another deliverer claimed it first.
func (s *Store) ClaimMessage(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inbox SET delivered = 1, delivered_at = ? WHERE id = ? AND delivered = 0`,
		s.now().UnixNano(), id)
	if err != nil {
		return false, fmt.Errorf("claiming message %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ReleaseMessage returns a claimed message to the pending state.
func (s *Store) ReleaseMessage(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE inbox SET delivered = 0, delivered_at = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("releasing message %d: %w", id, err)
	}
	return nil
}

// ListMessages returns every message addressed to receiver in submission
// order.
func (s *Store) ListMessages(ctx context.Context, receiver string) ([]model.InboxMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, body, created_at, delivered, delivered_at
		FROM inbox WHERE receiver_id = ? ORDER BY id`, receiver)
	if err != nil {
		return nil, fmt.Errorf("listing messages for %s: %w", receiver, err)
	}
	defer rows.Close()

	var out []model.InboxMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// HasPending reports whether receiver has undelivered messages.
func (s *Store) HasPending(ctx context.Context, receiver string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM inbox WHERE receiver_id = ? AND delivered = 0`, receiver).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("counting pending messages for %s: %w", receiver, err)
	}
	return n > 0, nil
}

// PendingReceivers lists the receivers that have undelivered messages.
func (s *Store) PendingReceivers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT receiver_id FROM inbox WHERE delivered = 0 ORDER BY receiver_id`)
	if err != nil {
		return nil, fmt.Errorf("listing pending receivers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PruneDelivered deletes delivered messages older than before and returns
// how many were removed.
func (s *Store) PruneDelivered(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM inbox WHERE delivered = 1 AND delivered_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pruning delivered messages: %w", err)
	}
	return res.RowsAffected()
}

func scanMessage(sc scanner) (model.InboxMessage, error) {
	var (
		m                      model.InboxMessage
		createdAt, deliveredAt int64
		delivered              int
	)
	if err := sc.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Body, &createdAt, &delivered, &deliveredAt); err != nil {
		return model.InboxMessage{}, err
	}
	m.CreatedAt = time.Unix(0, createdAt)
	m.Delivered = delivered != 0
	if deliveredAt != 0 {
		m.DeliveredAt = time.Unix(0, deliveredAt)
	}
	return m, nil
}
