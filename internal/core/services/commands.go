package services

import (
	"context"
	"fmt"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	apperrors "echoframe/pkg/errors"

	"go.uber.org/zap"
)

// Dispatcher routes decoded commands to the room services. It is the only
// entry point the real-time gateway uses.
type Dispatcher struct {
	guests      ports.GuestService
	permissions ports.PermissionService
	playback    ports.PlaybackService
	requests    ports.RequestService
	chat        ports.ChatService
	logger      *zap.SugaredLogger
}

func NewDispatcher(
	guests ports.GuestService,
	permissions ports.PermissionService,
	playback ports.PlaybackService,
	requests ports.RequestService,
	chat ports.ChatService,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		guests:      guests,
		permissions: permissions,
		playback:    playback,
		requests:    requests,
		chat:        chat,
		logger:      logger.Sugar().Named("dispatcher"),
	}
}

var _ ports.CommandDispatcher = (*Dispatcher)(nil)

// Dispatch runs cmd for actor. Only a join is accepted from a connection
// without a guest.
func (d *Dispatcher) Dispatch(ctx context.Context, actor ports.Actor, cmd domain.Command) (*ports.Reply, error) {
	if join, ok := cmd.(domain.JoinRequest); ok {
		return d.join(ctx, actor, join)
	}
	if actor.GuestID == "" {
		return nil, domain.ErrNotMember
	}

	switch c := cmd.(type) {
	case domain.JoinResolve:
		return nil, d.idempotent(cmd, d.guests.ResolveJoin(ctx, actor.RoomID, actor.GuestID, c.GuestID, c.Accept))
	case domain.GuestKick:
		return nil, d.idempotent(cmd, d.guests.Kick(ctx, actor.RoomID, actor.GuestID, c.TargetID))
	case domain.GuestPromote:
		return nil, d.guests.Promote(ctx, actor.RoomID, actor.GuestID, c.TargetID)
	case domain.GuestDemote:
		return nil, d.guests.Demote(ctx, actor.RoomID, actor.GuestID, c.TargetID)
	case domain.PermissionSet:
		return nil, d.permissions.SetPermission(ctx, actor.RoomID, actor.GuestID, c.TargetID, c.Key, c.Value)
	case domain.PlaybackEvent:
		_, err := d.playback.ApplyControllerEvent(ctx, actor.RoomID, actor.GuestID, c.Command())
		return nil, err
	case domain.RequestSubmit:
		_, err := d.requests.Submit(ctx, actor.RoomID, actor.GuestID, c.Input())
		return nil, err
	case domain.RequestApprove:
		return nil, d.idempotent(cmd, d.requests.Approve(ctx, actor.RoomID, actor.GuestID, c.RequestID))
	case domain.RequestDismiss:
		return nil, d.idempotent(cmd, d.requests.Dismiss(ctx, actor.RoomID, actor.GuestID, c.RequestID))
	case domain.SyncReport:
		instr, err := d.playback.Reconcile(ctx, actor.RoomID, actor.GuestID, domain.FollowerReport(c))
		if err != nil {
			return nil, err
		}
		return &ports.Reply{Type: domain.EventSyncInstruction, Payload: instr}, nil
	case domain.ChatSend:
		_, err := d.chat.Send(ctx, actor.RoomID, actor.GuestID, domain.ChatInput(c))
		return nil, err
	case domain.ChatHistory:
		msgs, err := d.chat.History(ctx, actor.RoomID, actor.GuestID, c.Limit)
		if err != nil {
			return nil, err
		}
		return &ports.Reply{Type: domain.EventChatHistory, Payload: domain.ChatHistoryPayload{Messages: msgs}}, nil
	}
	return nil, domain.ErrUnknownCommand.WithContext("type", fmt.Sprintf("%T", cmd))
}

func (d *Dispatcher) join(ctx context.Context, actor ports.Actor, join domain.JoinRequest) (*ports.Reply, error) {
	if actor.GuestID != "" {
		return nil, apperrors.NewConflictError("connection already holds a guest session")
	}
	session, err := d.guests.RequestJoin(ctx, actor.RoomID, join.Username)
	if err != nil {
		return nil, err
	}
	view, err := d.guests.Guest(ctx, actor.RoomID, session.Guest.ID)
	if err != nil {
		return nil, err
	}
	return &ports.Reply{
		Type: domain.EventSessionIssued,
		Payload: domain.SessionPayload{
			Guest:     view,
			Token:     session.Token,
			ExpiresAt: session.ExpiresAt,
		},
		Session: &session,
	}, nil
}

// idempotent swallows the not-found and conflict outcomes of resolution
// commands; a duplicate or racing resolution is not an error for the
// sender.
func (d *Dispatcher) idempotent(cmd domain.Command, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.HasCode(err, apperrors.ErrCodeNotFound) || apperrors.HasCode(err, apperrors.ErrCodeConflict) {
		d.logger.Debugw("ignored stale command", "type", cmd.CommandType(), "error", err)
		return nil
	}
	return err
}
