package services

import (
	"context"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	"echoframe/pkg/utils"
	"echoframe/pkg/validation"
)

// ChatConfig bounds message size and how much history a room keeps.
type ChatConfig struct {
	MaxLength    int
	HistoryLimit int
}

// DefaultChatConfig returns the chat limits used when none are configured.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{MaxLength: 1000, HistoryLimit: 200}
}

type chatService struct {
	registry    *Registry
	permissions ports.PermissionService
	store       ports.ChatStore
	cfg         ChatConfig
}

// NewChatService keeps messages in store and broadcasts them through the
// registry's publisher.
func NewChatService(registry *Registry, permissions ports.PermissionService, store ports.ChatStore, cfg ChatConfig) ports.ChatService {
	return &chatService{
		registry:    registry,
		permissions: permissions,
		store:       store,
		cfg:         cfg,
	}
}

// Send stores a message and broadcasts it to the room. The sender's
// can_chat permission is checked as it is at the time of sending. A message
// whose id was already stored is returned again without a second broadcast.
func (s *chatService) Send(ctx context.Context, roomID domain.RoomID, guestID domain.GuestID, input domain.ChatInput) (domain.ChatMessage, error) {
	text, err := validation.NormalizeMessage(input.Message, s.cfg.MaxLength)
	if err != nil {
		return domain.ChatMessage{}, domain.InvalidInput(err)
	}
	if err := validation.ValidateMessageID(string(input.ID)); err != nil {
		return domain.ChatMessage{}, domain.InvalidInput(err)
	}
	if err := validation.ValidateMessageID(string(input.ReplyTo)); err != nil {
		return domain.ChatMessage{}, domain.InvalidInput(err)
	}

	if err := s.permissions.Authorize(ctx, roomID, guestID, domain.PermissionChat); err != nil {
		return domain.ChatMessage{}, err
	}
	snap, err := s.registry.Snapshot(roomID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	sender, ok := snap.Guest(guestID)
	if !ok {
		return domain.ChatMessage{}, domain.ErrNotMember
	}

	msg := domain.ChatMessage{
		ID:       input.ID,
		RoomID:   roomID,
		GuestID:  guestID,
		Username: sender.Username,
		Text:     text,
		ReplyTo:  input.ReplyTo,
		SentAt:   s.registry.now().UTC(),
	}
	if msg.ID == "" {
		msg.ID = domain.MessageID(utils.NewMessageID())
	}

	stored, err := s.store.Append(ctx, msg)
	if err != nil {
		return domain.ChatMessage{}, domain.ErrChatUnavailable.WithCause(err)
	}
	if !stored {
		s.registry.logger.Debugw("duplicate chat message", "room_id", roomID, "message_id", msg.ID)
		return msg, nil
	}

	s.registry.metrics.ChatMessageSent()
	s.registry.publisher.Publish(ctx, domain.NewEvent(domain.EventChatMessage, roomID, domain.AudienceRoom, msg, msg.SentAt))
	return msg, nil
}

// History returns the room's recent messages to an approved member. A
// limit outside 1..HistoryLimit returns the full kept history.
func (s *chatService) History(ctx context.Context, roomID domain.RoomID, guestID domain.GuestID, limit int) ([]domain.ChatMessage, error) {
	snap, err := s.registry.Snapshot(roomID)
	if err != nil {
		return nil, err
	}
	g, ok := snap.Guest(guestID)
	if !ok || g.Status != domain.GuestApproved {
		return nil, domain.ErrNotMember
	}

	if limit <= 0 || limit > s.cfg.HistoryLimit {
		limit = s.cfg.HistoryLimit
	}
	msgs, err := s.store.Recent(ctx, roomID, limit)
	if err != nil {
		return nil, domain.ErrChatUnavailable.WithCause(err)
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return msgs, nil
}
