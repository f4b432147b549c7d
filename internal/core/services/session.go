package services

import (
	"context"
	"errors"
	"time"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
)

const sessionIssuer = "echoframe"

// SessionClaims bind a token to one guest of one room. The token id is the
// guest's session nonce.
type SessionClaims struct {
	RoomID domain.RoomID `json:"room_id"`
	jwt.RegisteredClaims
}

type sessionManager struct {
	secret   []byte
	ttl      time.Duration
	registry *Registry
}

// NewSessionManager signs session tokens with secret; they expire after ttl.
func NewSessionManager(registry *Registry, secret string, ttl time.Duration) ports.SessionService {
	return &sessionManager{
		secret:   []byte(secret),
		ttl:      ttl,
		registry: registry,
	}
}

// Issue signs a token bound to the guest's current session nonce.
func (m *sessionManager) Issue(guest domain.Guest) (ports.Session, error) {
	now := m.registry.now()
	expires := now.Add(m.ttl)
	claims := &SessionClaims{
		RoomID: guest.RoomID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   string(guest.ID),
			ID:        guest.SessionNonce,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return ports.Session{}, err
	}
	return ports.Session{Guest: guest, Token: token, ExpiresAt: expires}, nil
}

func (m *sessionManager) parse(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.registry.now),
	)
	if err != nil {
		return nil, domain.ErrSessionInvalid.WithCause(err)
	}
	if claims.RoomID == "" || claims.Subject == "" {
		return nil, domain.ErrSessionInvalid.WithCause(errors.New("missing room or guest"))
	}
	return claims, nil
}

// Authenticate resolves a token to the live guest it was issued to. Tokens
// of kicked or rejected guests, or tokens whose nonce was rotated, fail
// with ErrSessionRevoked.
func (m *sessionManager) Authenticate(ctx context.Context, tokenString string) (domain.Guest, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return domain.Guest{}, err
	}

	snap, err := m.registry.Snapshot(claims.RoomID)
	if err != nil {
		return domain.Guest{}, domain.ErrSessionInvalid.WithCause(err)
	}
	guest, ok := snap.Guest(domain.GuestID(claims.Subject))
	if !ok {
		return domain.Guest{}, domain.ErrSessionInvalid.WithCause(domain.ErrGuestNotFound)
	}
	if guest.Status.Terminal() || guest.SessionNonce != claims.ID {
		return domain.Guest{}, domain.ErrSessionRevoked
	}
	if !snap.Room.Active {
		return domain.Guest{}, domain.ErrRoomInactive
	}
	return guest, nil
}

// Refresh exchanges a valid token for one with a fresh expiry.
func (m *sessionManager) Refresh(ctx context.Context, tokenString string) (ports.Session, error) {
	guest, err := m.Authenticate(ctx, tokenString)
	if err != nil {
		return ports.Session{}, err
	}
	return m.Issue(guest)
}
