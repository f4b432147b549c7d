package domain

import (
	"fmt"
	"time"
)

type GuestStatus string

const (
	GuestPending  GuestStatus = "pending"
	GuestApproved GuestStatus = "approved"
	GuestRejected GuestStatus = "rejected"
	GuestKicked   GuestStatus = "kicked"
)

// Terminal statuses never transition again.
func (s GuestStatus) Terminal() bool {
	return s == GuestRejected || s == GuestKicked
}

type PermissionKey string

const (
	PermissionChat  PermissionKey = "can_chat"
	PermissionVoice PermissionKey = "can_voice"
)

func ParsePermissionKey(s string) (PermissionKey, error) {
	switch PermissionKey(s) {
	case PermissionChat, PermissionVoice:
		return PermissionKey(s), nil
	}
	return "", fmt.Errorf("unknown permission %q", s)
}

type Permissions struct {
	CanChat  bool `json:"can_chat"`
	CanVoice bool `json:"can_voice"`
}

// ViewerDefaults is what a freshly approved or demoted guest gets.
func ViewerDefaults() Permissions {
	return Permissions{CanChat: true, CanVoice: false}
}

// ControllerPermissions is forced on promotion and for the admin.
func ControllerPermissions() Permissions {
	return Permissions{CanChat: true, CanVoice: true}
}

func (p Permissions) Get(key PermissionKey) bool {
	switch key {
	case PermissionChat:
		return p.CanChat
	case PermissionVoice:
		return p.CanVoice
	}
	return false
}

func (p Permissions) With(key PermissionKey, value bool) Permissions {
	switch key {
	case PermissionChat:
		p.CanChat = value
	case PermissionVoice:
		p.CanVoice = value
	}
	return p
}

// Guest is the full record, including the fields persisted with room
// snapshots. Use View for anything sent to clients.
type Guest struct {
	ID           GuestID     `json:"id"`
	RoomID       RoomID      `json:"room_id"`
	Username     string      `json:"username"`
	Role         Role        `json:"role"`
	Permissions  Permissions `json:"permissions"`
	Status       GuestStatus `json:"status"`
	Online       bool        `json:"online"`
	OfflineSince *time.Time  `json:"offline_since,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`

	// SessionNonce is bound into every session token issued to the guest;
	// rotating it revokes them all.
	SessionNonce string `json:"session_nonce"`
	// NextRequestAt is the end of the guest's request cooldown.
	NextRequestAt time.Time `json:"next_request_at"`
}

// Effective returns the guest's permissions with the admin floor applied.
func (g Guest) Effective() Permissions {
	if g.Role == RoleAdmin {
		return ControllerPermissions()
	}
	return g.Permissions
}

func (g Guest) IsController() bool {
	return g.Status == GuestApproved && g.Role.IsController()
}

// GuestView is the client-facing projection of a guest.
type GuestView struct {
	ID           GuestID     `json:"id"`
	Username     string      `json:"username"`
	Role         Role        `json:"role"`
	Permissions  Permissions `json:"permissions"`
	Status       GuestStatus `json:"status"`
	Online       bool        `json:"online"`
	OfflineSince *time.Time  `json:"offline_since,omitempty"`
	Stale        bool        `json:"stale"`
}

// View projects g for clients. A guest offline for longer than staleAfter
// is flagged stale.
func (g Guest) View(now time.Time, staleAfter time.Duration) GuestView {
	v := GuestView{
		ID:           g.ID,
		Username:     g.Username,
		Role:         g.Role,
		Permissions:  g.Effective(),
		Status:       g.Status,
		Online:       g.Online,
		OfflineSince: g.OfflineSince,
	}
	if !g.Online && g.OfflineSince != nil && staleAfter > 0 {
		v.Stale = now.Sub(*g.OfflineSince) > staleAfter
	}
	return v
}
