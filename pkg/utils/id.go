package utils

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewRoomID returns a fresh room identifier.
func NewRoomID() string {
	return uuid.NewString()
}

// NewGuestID returns a fresh guest identifier.
func NewGuestID() string {
	return uuid.NewString()
}

// NewRequestID returns a fresh viewer request identifier.
func NewRequestID() string {
	return uuid.NewString()
}

// NewMessageID returns a fresh chat message identifier.
func NewMessageID() string {
	return uuid.NewString()
}

// NewInstanceID identifies this process on shared channels.
func NewInstanceID() string {
	return "instance-" + uuid.NewString()[:8]
}

// NewNonce returns 16 random bytes hex encoded. It is bound into session
// tokens so that a guest's tokens can be revoked as a set.
func NewNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(b)
}
