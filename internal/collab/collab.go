// Package collab declares the services the relay core consumes but does not own.
package collab

import (
	"context"
	"errors"

	"github.com/a-essam23/chatrelay/internal/models"
)

// ErrNotFound marks a lookup of a user or group that does not exist.
var ErrNotFound = errors.New("not found")

// TokenVerifier turns a bearer credential into a user identity.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

type Users interface {
	// GetUser returns the user or an error wrapping a not-found sentinel.
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

type Blocks interface {
	// IsBlocked reports whether either user has blocked the other.
	IsBlocked(ctx context.Context, a, b int64) (bool, error)
}

type Privacy interface {
	CanCall(ctx context.Context, caller, callee int64) (bool, error)
}

type Groups interface {
	IsMember(ctx context.Context, userID, groupID int64) (bool, error)
	MembersOf(ctx context.Context, groupID int64) ([]int64, error)
}

type MissedCalls interface {
	// InsertMissedCallMessage records a missed call in one transaction. Either
	// party missing aborts the insert.
	InsertMissedCallMessage(ctx context.Context, callerID, calleeID int64, isVideo bool) (*models.Message, error)
}

// Directory is everything the relays need from the persistence side.
type Directory interface {
	Users
	Blocks
	Privacy
	Groups
	MissedCalls
}
