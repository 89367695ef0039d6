package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/a-essam23/chatrelay/internal/collab"
	"github.com/a-essam23/chatrelay/internal/models"
)

// Directory is an in-memory collab.Directory. Setting Fail makes every call
// return that error.
type Directory struct {
	mu       sync.Mutex
	users    map[int64]*models.User
	blocks   map[[2]int64]bool
	contacts map[[2]int64]bool
	groups   map[int64][]int64
	nextMsg  int64

	Fail          error
	MissedCallErr error
	MissedCalls   []*models.Message
}

var _ collab.Directory = (*Directory)(nil)

func NewDirectory() *Directory {
	return &Directory{
		users:    make(map[int64]*models.User),
		blocks:   make(map[[2]int64]bool),
		contacts: make(map[[2]int64]bool),
		groups:   make(map[int64][]int64),
	}
}

func (d *Directory) AddUser(id int64, displayName string) *models.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := &models.User{
		ID:          id,
		Username:    fmt.Sprintf("user%d", id),
		DisplayName: displayName,
		CallPrivacy: models.CallPrivacyEveryone,
	}
	d.users[id] = u
	return u
}

func (d *Directory) SetAvatar(id int64, url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[id]; ok {
		u.AvatarURL = url
	}
}

func (d *Directory) SetCallPrivacy(id int64, p models.CallPrivacy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[id]; ok {
		u.CallPrivacy = p
	}
}

// Block records that blocker has blocked blocked.
func (d *Directory) Block(blocker, blocked int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocks[[2]int64{blocker, blocked}] = true
}

// AddContact records that owner keeps contact in their contact list.
func (d *Directory) AddContact(owner, contact int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[[2]int64{owner, contact}] = true
}

func (d *Directory) AddGroup(groupID int64, members ...int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[groupID] = append([]int64(nil), members...)
}

func (d *Directory) GetUser(_ context.Context, id int64) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail != nil {
		return nil, d.Fail
	}
	u, ok := d.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, collab.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (d *Directory) IsBlocked(_ context.Context, a, b int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail != nil {
		return false, d.Fail
	}
	return d.blocks[[2]int64{a, b}] || d.blocks[[2]int64{b, a}], nil
}

func (d *Directory) CanCall(_ context.Context, caller, callee int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail != nil {
		return false, d.Fail
	}
	u, ok := d.users[callee]
	if !ok {
		return false, fmt.Errorf("user %d: %w", callee, collab.ErrNotFound)
	}
	switch u.CallPrivacy {
	case models.CallPrivacyNobody:
		return false, nil
	case models.CallPrivacyContacts:
		return d.contacts[[2]int64{callee, caller}], nil
	default:
		return true, nil
	}
}

func (d *Directory) IsMember(_ context.Context, userID, groupID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail != nil {
		return false, d.Fail
	}
	for _, m := range d.groups[groupID] {
		if m == userID {
			return true, nil
		}
	}
	return false, nil
}

func (d *Directory) MembersOf(_ context.Context, groupID int64) ([]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail != nil {
		return nil, d.Fail
	}
	members, ok := d.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("group %d: %w", groupID, collab.ErrNotFound)
	}
	return append([]int64(nil), members...), nil
}

func (d *Directory) InsertMissedCallMessage(_ context.Context, callerID, calleeID int64, isVideo bool) (*models.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail != nil {
		return nil, d.Fail
	}
	if d.MissedCallErr != nil {
		return nil, d.MissedCallErr
	}
	caller, ok := d.users[callerID]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", callerID, collab.ErrNotFound)
	}
	if _, ok := d.users[calleeID]; !ok {
		return nil, fmt.Errorf("user %d: %w", calleeID, collab.ErrNotFound)
	}
	d.nextMsg++
	content := "Missed call"
	if isVideo {
		content = "Missed video call"
	}
	msg := &models.Message{
		ID:                d.nextMsg,
		SenderID:          callerID,
		ReceiverID:        calleeID,
		Content:           content,
		MessageType:       models.MessageTypeMissedCall,
		SenderDisplayName: caller.Name(),
		SenderAvatarURL:   caller.AvatarURL,
		CreatedAt:         time.Now().UTC(),
	}
	d.MissedCalls = append(d.MissedCalls, msg)
	cp := *msg
	return &cp, nil
}

// MissedCallCount is safe to call while relays are running.
func (d *Directory) MissedCallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.MissedCalls)
}
