package http

import (
	"time"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	"echoframe/internal/infrastructure/middleware"
	apperrors "echoframe/pkg/errors"

	"github.com/gin-gonic/gin"
)

var errNoSession = apperrors.NewUnauthorizedError("session required")

// actor returns the authenticated caller of a room route.
func actor(c *gin.Context) (ports.Actor, bool) {
	guest, ok := middleware.GuestFromContext(c)
	if !ok {
		c.Error(errNoSession)
		return ports.Actor{}, false
	}
	return ports.Actor{RoomID: guest.RoomID, GuestID: guest.ID}, true
}

// member is actor for routes that only approved guests may read.
func member(c *gin.Context) (ports.Actor, bool) {
	guest, ok := middleware.GuestFromContext(c)
	if !ok {
		c.Error(errNoSession)
		return ports.Actor{}, false
	}
	if guest.Status != domain.GuestApproved {
		c.Error(domain.ErrNotMember)
		return ports.Actor{}, false
	}
	return ports.Actor{RoomID: guest.RoomID, GuestID: guest.ID}, true
}

// bind decodes the JSON body into v and records a 400 on failure.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format").WithCause(err))
		return false
	}
	return true
}

func sessionPayload(s ports.Session) domain.SessionPayload {
	return domain.SessionPayload{
		Guest:     s.Guest.View(time.Now(), 0),
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
	}
}
