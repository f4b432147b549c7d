package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventRosterUpdate    EventType = "roster:update"
	EventPlaybackState   EventType = "playback:state"
	EventRequestNotify   EventType = "request:notify"
	EventRequestResolved EventType = "request:resolved"
	EventGuestKicked     EventType = "guest:kicked"
	EventGuestUpdated    EventType = "guest:updated"
	EventJoinPending     EventType = "join:pending"
	EventJoinResolved    EventType = "join:resolved"
	EventRoomClosed      EventType = "room:closed"
	EventSyncInstruction EventType = "sync:instruction"
	EventSessionIssued   EventType = "session:issued"
	EventChatMessage     EventType = "chat:message"
	EventChatHistory     EventType = "chat:history"
	EventError           EventType = "error"
)

// Audience selects which connections of a room receive an event.
type Audience string

const (
	AudienceRoom        Audience = "room"
	AudienceControllers Audience = "controllers"
	AudienceGuest       Audience = "guest"
)

// Event is an outbound envelope. The payload is encoded once so the same
// bytes can be fanned out to every transport.
type Event struct {
	Type      EventType       `json:"type"`
	RoomID    RoomID          `json:"room_id"`
	Audience  Audience        `json:"audience"`
	TargetID  GuestID         `json:"target_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	EmittedAt time.Time       `json:"emitted_at"`
}

func NewEvent(t EventType, roomID RoomID, audience Audience, payload any, now time.Time) Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("null")
	}
	return Event{
		Type:      t,
		RoomID:    roomID,
		Audience:  audience,
		Payload:   raw,
		EmittedAt: now,
	}
}

// To addresses the event to a single guest.
func (e Event) To(guestID GuestID) Event {
	e.Audience = AudienceGuest
	e.TargetID = guestID
	return e
}

type RosterPayload struct {
	Guests []GuestView `json:"guests"`
}

type GuestPayload struct {
	Guest GuestView `json:"guest"`
}

type RequestNotifyPayload struct {
	Request Request `json:"request"`
}

type RequestResolvedPayload struct {
	RequestID  RequestID `json:"request_id"`
	Outcome    Outcome   `json:"outcome"`
	ResolvedBy GuestID   `json:"resolved_by,omitempty"`
}

type GuestKickedPayload struct {
	TargetID GuestID `json:"target_id"`
	KickedBy GuestID `json:"kicked_by"`
}

type JoinResolvedPayload struct {
	GuestID  GuestID `json:"guest_id"`
	Accepted bool    `json:"accepted"`
}

type RoomClosedPayload struct {
	RoomID   RoomID    `json:"room_id"`
	ClosedAt time.Time `json:"closed_at"`
}

type SessionPayload struct {
	Guest     GuestView `json:"guest"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
