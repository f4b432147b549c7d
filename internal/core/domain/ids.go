package domain

type RoomID string
type GuestID string
type RequestID string
