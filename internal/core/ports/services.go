package ports

import (
	"context"
	"time"

	"echoframe/internal/core/domain"
)

// Session is a guest identity handed to a client.
type Session struct {
	Guest     domain.Guest
	Token     string
	ExpiresAt time.Time
}

type RoomService interface {
	OpenRoom(ctx context.Context, adminName string) (*domain.RoomSnapshot, Session, error)
	CloseRoom(ctx context.Context, roomID domain.RoomID, actorID domain.GuestID) error
	EndSession(ctx context.Context, roomID domain.RoomID, guestID domain.GuestID) error
	Status(ctx context.Context, roomID domain.RoomID) (domain.RoomStatus, error)
	Snapshot(ctx context.Context, roomID domain.RoomID) (*domain.RoomSnapshot, error)
}

type GuestService interface {
	RequestJoin(ctx context.Context, roomID domain.RoomID, username string) (Session, error)
	ResolveJoin(ctx context.Context, roomID domain.RoomID, actorID, guestID domain.GuestID, accept bool) error
	Kick(ctx context.Context, roomID domain.RoomID, actorID, targetID domain.GuestID) error
	Promote(ctx context.Context, roomID domain.RoomID, actorID, targetID domain.GuestID) error
	Demote(ctx context.Context, roomID domain.RoomID, actorID, targetID domain.GuestID) error
	MarkOnline(ctx context.Context, roomID domain.RoomID, guestID domain.GuestID) error
	MarkOffline(ctx context.Context, roomID domain.RoomID, guestID domain.GuestID) error
	Roster(ctx context.Context, roomID domain.RoomID) ([]domain.GuestView, error)
	Pending(ctx context.Context, roomID domain.RoomID, actorID domain.GuestID) ([]domain.GuestView, error)
	Guest(ctx context.Context, roomID domain.RoomID, guestID domain.GuestID) (domain.GuestView, error)
}

type PermissionService interface {
	Effective(guest domain.Guest) domain.Permissions
	SetPermission(ctx context.Context, roomID domain.RoomID, actorID, targetID domain.GuestID, key domain.PermissionKey, value bool) error
	Authorize(ctx context.Context, roomID domain.RoomID, guestID domain.GuestID, key domain.PermissionKey) error
}

type PlaybackService interface {
	ApplyControllerEvent(ctx context.Context, roomID domain.RoomID, actorID domain.GuestID, cmd domain.PlaybackCommand) (domain.PlaybackState, error)
	SwitchVideo(ctx context.Context, roomID domain.RoomID, actorID domain.GuestID, videoID string) (domain.PlaybackState, error)
	State(ctx context.Context, roomID domain.RoomID) (domain.PlaybackState, error)
	Reconcile(ctx context.Context, roomID domain.RoomID, guestID domain.GuestID, report domain.FollowerReport) (domain.SyncInstruction, error)
}

type RequestService interface {
	Submit(ctx context.Context, roomID domain.RoomID, guestID domain.GuestID, input domain.RequestInput) (domain.Request, error)
	Approve(ctx context.Context, roomID domain.RoomID, actorID domain.GuestID, requestID domain.RequestID) error
	Dismiss(ctx context.Context, roomID domain.RoomID, actorID domain.GuestID, requestID domain.RequestID) error
	ListOpen(ctx context.Context, roomID domain.RoomID, actorID domain.GuestID) ([]domain.Request, error)
}

type ChatService interface {
	Send(ctx context.Context, roomID domain.RoomID, guestID domain.GuestID, input domain.ChatInput) (domain.ChatMessage, error)
	History(ctx context.Context, roomID domain.RoomID, guestID domain.GuestID, limit int) ([]domain.ChatMessage, error)
}

type SessionService interface {
	Issue(guest domain.Guest) (Session, error)
	Authenticate(ctx context.Context, token string) (domain.Guest, error)
	Refresh(ctx context.Context, token string) (Session, error)
}

// Actor identifies who sent a command. GuestID is empty for a connection
// that has not joined yet.
type Actor struct {
	RoomID  domain.RoomID
	GuestID domain.GuestID
}

// Reply is an optional direct answer to the sender of a command.
type Reply struct {
	Type    domain.EventType
	Payload any
	// Session is set when the command created a new guest identity.
	Session *Session
}

type CommandDispatcher interface {
	Dispatch(ctx context.Context, actor Actor, cmd domain.Command) (*Reply, error)
}
