package domain

import "time"

type MessageID string

// ChatMessage is one line of room chat.
type ChatMessage struct {
	ID       MessageID `json:"id"`
	RoomID   RoomID    `json:"room_id"`
	GuestID  GuestID   `json:"guest_id"`
	Username string    `json:"username"`
	Text     string    `json:"message"`
	ReplyTo  MessageID `json:"reply_to_id,omitempty"`
	SentAt   time.Time `json:"timestamp"`
}

// ChatInput is a message as sent by a guest. A client may pick ID itself so
// that a retried send is stored once.
type ChatInput struct {
	ID      MessageID `json:"message_id,omitempty"`
	Message string    `json:"message"`
	ReplyTo MessageID `json:"reply_to_id,omitempty"`
}

type ChatHistoryPayload struct {
	Messages []ChatMessage `json:"messages"`
}
