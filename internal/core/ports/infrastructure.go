package ports

import (
	"context"
	"time"

	"echoframe/internal/core/domain"
)

// EventPublisher accepts committed room events for delivery. It never
// blocks on the transports behind it.
type EventPublisher interface {
	Publish(ctx context.Context, events ...domain.Event)
}

// EventSink is one delivery transport behind the publisher.
type EventSink interface {
	Name() string
	Deliver(ctx context.Context, event domain.Event) error
}

// RoomOwnership grants one instance the writer role for a room. A room is
// only held by a registry whose instance owns it.
type RoomOwnership interface {
	// Claim takes or refreshes the claim and reports whether it is held.
	Claim(ctx context.Context, roomID domain.RoomID) (bool, error)
	Release(ctx context.Context, roomID domain.RoomID) error
}

// VideoCatalog validates video ids. It returns domain.ErrVideoNotFound
// for unknown videos.
type VideoCatalog interface {
	ValidateVideo(ctx context.Context, videoID string) error
}

type Metrics interface {
	RoomOpened()
	RoomClosed()
	SetRoomGauges(activeRooms, onlineGuests, openRequests int)
	GuestTransition(to domain.GuestStatus)
	PlaybackCommand(kind domain.PlaybackKind)
	RequestSubmitted(t domain.RequestType)
	RequestRejected(reason string)
	RequestResolved(outcome domain.Outcome)
	ChatMessageSent()
	DriftObserved(seconds float64)
	MutationObserved(op string, d time.Duration, err error)
	EventDelivered(sink string)
	EventDeliveryFailed(sink string)
	EventDropped()
	ConnectionOpened()
	ConnectionClosed()
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RoomOpened()                                  {}
func (NopMetrics) RoomClosed()                                  {}
func (NopMetrics) SetRoomGauges(int, int, int)                  {}
func (NopMetrics) GuestTransition(domain.GuestStatus)           {}
func (NopMetrics) PlaybackCommand(domain.PlaybackKind)          {}
func (NopMetrics) RequestSubmitted(domain.RequestType)          {}
func (NopMetrics) RequestRejected(string)                       {}
func (NopMetrics) RequestResolved(domain.Outcome)               {}
func (NopMetrics) ChatMessageSent()                             {}
func (NopMetrics) DriftObserved(float64)                        {}
func (NopMetrics) MutationObserved(string, time.Duration, error) {}
func (NopMetrics) EventDelivered(string)                        {}
func (NopMetrics) EventDeliveryFailed(string)                   {}
func (NopMetrics) EventDropped()                                {}
func (NopMetrics) ConnectionOpened()                            {}
func (NopMetrics) ConnectionClosed()                            {}
