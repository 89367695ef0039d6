package pipeline

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

/*
 * Cargo detaches the relay actions from the router: an action only sees the
 * frame and who sent it, never the socket.
 */

type Cargo struct {
	Logger *slog.Logger
	Ctx    context.Context
	// UserID is the authenticated sender, fixed for the connection's lifetime.
	UserID int64
	ConnID uuid.UUID
	// Scheme and Host of the handshake request, used to build absolute URLs.
	Scheme    string
	Host      string
	EventName string
	Payload   []byte
}

// ActionFunc handles one inbound frame.
type ActionFunc func(pctx *Cargo) error
