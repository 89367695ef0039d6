// Package testutil holds fakes shared by package tests.
package testutil

import (
	"sync"
	"time"

	"github.com/a-essam23/chatrelay/pkg/state"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// RecordingConn is a state.Conn that keeps every frame it is sent.
type RecordingConn struct {
	id        uuid.UUID
	userID    int64
	createdAt time.Time

	mu     sync.Mutex
	open   bool
	frames [][]byte
}

var _ state.Conn = (*RecordingConn)(nil)

func NewRecordingConn(userID int64) *RecordingConn {
	return &RecordingConn{id: uuid.New(), userID: userID, createdAt: time.Now(), open: true}
}

func (c *RecordingConn) ID() uuid.UUID        { return c.id }
func (c *RecordingConn) UserID() int64        { return c.userID }
func (c *RecordingConn) CreatedAt() time.Time { return c.createdAt }

func (c *RecordingConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *RecordingConn) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return false
	}
	c.frames = append(c.frames, append([]byte(nil), msg...))
	return true
}

func (c *RecordingConn) Close(error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
}

// Frames returns a copy of every frame received so far.
func (c *RecordingConn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// Events decodes every received frame as a generic JSON object.
func (c *RecordingConn) Events() []map[string]any {
	frames := c.Frames()
	out := make([]map[string]any, 0, len(frames))
	for _, f := range frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// EventsOfType filters Events by their "type" field.
func (c *RecordingConn) EventsOfType(typ string) []map[string]any {
	var out []map[string]any
	for _, e := range c.Events() {
		if e["type"] == typ {
			out = append(out, e)
		}
	}
	return out
}
