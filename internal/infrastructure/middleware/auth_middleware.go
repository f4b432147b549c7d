package middleware

import (
	"crypto/subtle"
	"strings"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	apperrors "echoframe/pkg/errors"
	"echoframe/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	guestKey       = "guest"
	AdminKeyHeader = "X-Admin-Key"
)

var errMissingBearer = apperrors.NewUnauthorizedError("authorization header required")

// SessionMiddleware resolves the bearer session token to its guest. When
// the route has a :room_id parameter the token must belong to that room.
func SessionMiddleware(sessions ports.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Error(errMissingBearer)
			c.Abort()
			return
		}

		guest, err := sessions.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.Error(err)
			c.Abort()
			return
		}

		if roomID := c.Param("room_id"); roomID != "" && domain.RoomID(roomID) != guest.RoomID {
			c.Error(domain.ErrSessionInvalid.WithContext("room_id", roomID))
			c.Abort()
			return
		}

		c.Set(guestKey, guest)
		c.Request = c.Request.WithContext(logger.WithSession(c.Request.Context(), string(guest.RoomID), string(guest.ID)))
		c.Next()
	}
}

// AdminKeyMiddleware guards operator endpoints with a static key. An empty
// key leaves them open.
func AdminKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		got := c.GetHeader(AdminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
			c.Error(apperrors.NewUnauthorizedError("invalid admin key"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// GuestFromContext returns the guest set by SessionMiddleware.
func GuestFromContext(c *gin.Context) (domain.Guest, bool) {
	v, ok := c.Get(guestKey)
	if !ok {
		return domain.Guest{}, false
	}
	g, ok := v.(domain.Guest)
	return g, ok
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
