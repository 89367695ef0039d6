package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/a-essam23/chatrelay/internal/models"
)

// Writes below belong to the chat REST API in production; the relay only
// reads these tables. Tests use them to seed fixtures.

// CreateUser inserts u, using u.ID when set, and returns the stored id.
func (s *Store) CreateUser(ctx context.Context, u models.User) (int64, error) {
	if u.CallPrivacy == "" {
		u.CallPrivacy = models.CallPrivacyEveryone
	}
	if !u.CallPrivacy.Valid() {
		return 0, fmt.Errorf("invalid call privacy %q", u.CallPrivacy)
	}
	var id any
	if u.ID > 0 {
		id = u.ID
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, display_name, avatar_url, call_privacy) VALUES (?, ?, ?, ?, ?)`,
		id, u.Username, u.DisplayName, u.AvatarURL, string(u.CallPrivacy),
	)
	if err != nil {
		return 0, fmt.Errorf("create user %q: %w", u.Username, err)
	}
	return res.LastInsertId()
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return err
}

func (s *Store) SetCallPrivacy(ctx context.Context, userID int64, p models.CallPrivacy) error {
	if !p.Valid() {
		return fmt.Errorf("invalid call privacy %q", p)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET call_privacy = ? WHERE id = ?`, string(p), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return nil
}

func (s *Store) Block(ctx context.Context, blocker, blocked int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO blocks (blocker_id, blocked_id) VALUES (?, ?)`, blocker, blocked)
	return err
}

func (s *Store) Unblock(ctx context.Context, blocker, blocked int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM blocks WHERE blocker_id = ? AND blocked_id = ?`, blocker, blocked)
	return err
}

// AddContact puts contact in owner's contact list.
func (s *Store) AddContact(ctx context.Context, owner, contact int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO contacts (owner_id, contact_id) VALUES (?, ?)`, owner, contact)
	return err
}

func (s *Store) CreateGroup(ctx context.Context, name string, members ...int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO chat_groups (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("create group %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, m := range members {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)`, id, m); err != nil {
			return 0, fmt.Errorf("add member %d: %w", m, err)
		}
	}
	return id, tx.Commit()
}

func (s *Store) AddMember(ctx context.Context, groupID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)`, groupID, userID)
	return err
}

func (s *Store) RemoveMember(ctx context.Context, groupID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
	return err
}

// Conversation returns the 1:1 messages between a and b, oldest first.
func (s *Store) Conversation(ctx context.Context, a, b int64) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.sender_id, m.receiver_id, m.content, m.message_type, m.created_at, m.edited_at,
		       u.username, u.display_name, u.avatar_url
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.group_id IS NULL
		  AND ((m.sender_id = ? AND m.receiver_id = ?) OR (m.sender_id = ? AND m.receiver_id = ?))
		ORDER BY m.id`, a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("list conversation %d/%d: %w", a, b, err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			m         models.Message
			createdAt int64
			editedAt  sql.NullInt64
			sender    models.User
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.MessageType, &createdAt, &editedAt,
			&sender.Username, &sender.DisplayName, &m.SenderAvatarURL); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		if editedAt.Valid {
			t := time.UnixMilli(editedAt.Int64).UTC()
			m.EditedAt = &t
		}
		m.SenderDisplayName = sender.Name()
		m.IsMine = m.SenderID == a
		out = append(out, m)
	}
	return out, rows.Err()
}
