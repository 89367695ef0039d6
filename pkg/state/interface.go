package state

import (
	"time"

	"github.com/google/uuid"
)

// Conn is the registry's view of one live connection.
type Conn interface {
	ID() uuid.UUID
	UserID() int64
	CreatedAt() time.Time
	// IsOpen reports the liveness flag. Broadcasts skip connections that are not open.
	IsOpen() bool
	// Send queues a serialized frame. It never blocks; false means the frame was not queued.
	Send(msg []byte) bool
	Close(err error)
}

// Registry maps a user identity to the set of its open connections.
// Implementations own their synchronization; an identity with no
// connections must not remain as a key.
type Registry interface {
	Add(userID int64, conn Conn)
	Remove(userID int64, conn Conn)
	// Get returns a snapshot of the user's connections, or nil.
	Get(userID int64) []Conn

	Count(userID int64) int
	FindOldest(userID int64) (Conn, bool)
	Users() int
	Connections() int
	All() []Conn
}
