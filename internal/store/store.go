// Package store is the SQLite-backed persistence collaborator: users, blocks,
// call privacy, groups and the missed-call message insert.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/a-essam23/chatrelay/internal/collab"
	"github.com/a-essam23/chatrelay/internal/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is collab.ErrNotFound so the breaker and relays can match it
// without importing this package.
var ErrNotFound = collab.ErrNotFound

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	display_name  TEXT NOT NULL DEFAULT '',
	avatar_url    TEXT NOT NULL DEFAULT '',
	call_privacy  TEXT NOT NULL DEFAULT 'everyone'
);
CREATE TABLE IF NOT EXISTS contacts (
	owner_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	contact_id  INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (owner_id, contact_id)
);
CREATE TABLE IF NOT EXISTS blocks (
	blocker_id  INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	blocked_id  INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (blocker_id, blocked_id)
);
CREATE TABLE IF NOT EXISTS chat_groups (
	id    INTEGER PRIMARY KEY,
	name  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS group_members (
	group_id  INTEGER NOT NULL REFERENCES chat_groups(id) ON DELETE CASCADE,
	user_id   INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (group_id, user_id)
);
CREATE TABLE IF NOT EXISTS messages (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id     INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	receiver_id   INTEGER REFERENCES users(id) ON DELETE CASCADE,
	group_id      INTEGER REFERENCES chat_groups(id) ON DELETE CASCADE,
	content       TEXT NOT NULL,
	message_type  TEXT NOT NULL DEFAULT 'text',
	created_at    INTEGER NOT NULL,
	edited_at     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id);
`

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ collab.Directory = (*Store)(nil)

// Open opens or creates the database at path and applies the schema.
// Transactions begin IMMEDIATE so concurrent writers queue on busy_timeout
// instead of failing on a read-to-write lock upgrade.
func Open(path string, logger *slog.Logger) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	logger = logger.With(slog.String("component", "store"))
	logger.Info("Database ready", slog.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u := &models.User{}
	var privacy string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, avatar_url, call_privacy FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &privacy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	u.CallPrivacy = models.CallPrivacy(privacy)
	return u, nil
}

func (s *Store) IsBlocked(ctx context.Context, a, b int64) (bool, error) {
	var blocked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM blocks
			WHERE (blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?))`,
		a, b, b, a,
	).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("check block %d/%d: %w", a, b, err)
	}
	return blocked, nil
}

// CanCall applies the callee's call privacy mode. An unknown mode is treated
// as everyone, matching the column default.
func (s *Store) CanCall(ctx context.Context, caller, callee int64) (bool, error) {
	var privacy string
	err := s.db.QueryRowContext(ctx, `SELECT call_privacy FROM users WHERE id = ?`, callee).Scan(&privacy)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("user %d: %w", callee, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("get call privacy %d: %w", callee, err)
	}

	switch models.CallPrivacy(privacy) {
	case models.CallPrivacyNobody:
		return false, nil
	case models.CallPrivacyContacts:
		var ok bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM contacts WHERE owner_id = ? AND contact_id = ?)`, callee, caller,
		).Scan(&ok)
		if err != nil {
			return false, fmt.Errorf("check contact %d/%d: %w", callee, caller, err)
		}
		return ok, nil
	default:
		return true, nil
	}
}

func (s *Store) IsMember(ctx context.Context, userID, groupID int64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?)`, groupID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check membership %d in %d: %w", userID, groupID, err)
	}
	return ok, nil
}

func (s *Store) MembersOf(ctx context.Context, groupID int64) ([]int64, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_groups WHERE id = ?)`, groupID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check group %d: %w", groupID, err)
	}
	if !exists {
		return nil, fmt.Errorf("group %d: %w", groupID, ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members of %d: %w", groupID, err)
	}
	defer rows.Close()

	var members []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// InsertMissedCallMessage writes one missed_call row from caller to callee in
// a single transaction. If either account is gone nothing is written.
func (s *Store) InsertMissedCallMessage(ctx context.Context, callerID, calleeID int64, isVideo bool) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var username, displayName, avatarURL string
	err = tx.QueryRowContext(ctx,
		`SELECT username, display_name, avatar_url FROM users WHERE id = ?`, callerID,
	).Scan(&username, &displayName, &avatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("caller %d: %w", callerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load caller %d: %w", callerID, err)
	}

	var calleeExists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)`, calleeID,
	).Scan(&calleeExists); err != nil {
		return nil, fmt.Errorf("load callee %d: %w", calleeID, err)
	}
	if !calleeExists {
		return nil, fmt.Errorf("callee %d: %w", calleeID, ErrNotFound)
	}

	content := "Missed call"
	if isVideo {
		content = "Missed video call"
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (sender_id, receiver_id, content, message_type, created_at) VALUES (?, ?, ?, ?, ?)`,
		callerID, calleeID, content, models.MessageTypeMissedCall, now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert missed call: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert missed call: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit missed call: %w", err)
	}

	sender := models.User{Username: username, DisplayName: displayName}
	return &models.Message{
		ID:                id,
		SenderID:          callerID,
		ReceiverID:        calleeID,
		Content:           content,
		MessageType:       models.MessageTypeMissedCall,
		SenderDisplayName: sender.Name(),
		SenderAvatarURL:   avatarURL,
		CreatedAt:         now,
	}, nil
}
