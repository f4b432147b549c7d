package domain

import (
	"fmt"
	"time"
)

type RequestType string

const (
	RequestPause        RequestType = "pause"
	RequestRewind       RequestType = "rewind"
	RequestQuickMessage RequestType = "quick_message"
)

func ParseRequestType(s string) (RequestType, error) {
	switch RequestType(s) {
	case RequestPause, RequestRewind, RequestQuickMessage:
		return RequestType(s), nil
	}
	return "", fmt.Errorf("unknown request type %q", s)
}

// Replaceable types keep at most one open request per guest.
func (t RequestType) Replaceable() bool {
	return t == RequestPause || t == RequestRewind
}

type RequestStatus string

const (
	RequestOpen      RequestStatus = "open"
	RequestApproved  RequestStatus = "approved"
	RequestDismissed RequestStatus = "dismissed"
)

// Outcome is reported with request:resolved.
type Outcome string

const (
	OutcomeApproved   Outcome = "approved"
	OutcomeDismissed  Outcome = "dismissed"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeExpired    Outcome = "expired"
)

type Request struct {
	ID        RequestID     `json:"id"`
	Type      RequestType   `json:"type"`
	GuestID   GuestID       `json:"guest_id"`
	Username  string        `json:"username"`
	Seconds   float64       `json:"seconds,omitempty"`
	Message   string        `json:"message,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	Status    RequestStatus `json:"status"`
}

// RequestInput is what a viewer submits.
type RequestInput struct {
	Type    RequestType `json:"type"`
	Seconds float64     `json:"seconds,omitempty"`
	Message string      `json:"message,omitempty"`
}
