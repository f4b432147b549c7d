package http

import (
	"net/http"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	"echoframe/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
)

type RoomHandler struct {
	rooms      ports.RoomService
	guests     ports.GuestService
	sessions   ports.SessionService
	dispatcher ports.CommandDispatcher
	adminKey   string
}

// NewRoomHandler serves room and guest routes. Opening a room requires
// adminKey when it is set.
func NewRoomHandler(
	rooms ports.RoomService,
	guests ports.GuestService,
	sessions ports.SessionService,
	dispatcher ports.CommandDispatcher,
	adminKey string,
) *RoomHandler {
	return &RoomHandler{
		rooms:      rooms,
		guests:     guests,
		sessions:   sessions,
		dispatcher: dispatcher,
		adminKey:   adminKey,
	}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/rooms", middleware.AdminKeyMiddleware(h.adminKey), h.OpenRoom)
		api.GET("/rooms/:room_id", h.GetRoom)
		api.POST("/rooms/:room_id/join", h.Join)
		api.POST("/session/refresh", h.RefreshSession)
	}

	room := router.Group("/api/v1/rooms/:room_id", middleware.SessionMiddleware(h.sessions))
	{
		room.DELETE("", h.CloseRoom)
		room.POST("/leave", h.Leave)
		room.GET("/me", h.Me)
		room.GET("/guests", h.Roster)
		room.GET("/guests/pending", h.Pending)
		room.POST("/guests/:guest_id/accept", h.resolveJoin(true))
		room.POST("/guests/:guest_id/reject", h.resolveJoin(false))
		room.POST("/guests/:guest_id/kick", h.Kick)
		room.POST("/guests/:guest_id/promote", h.Promote)
		room.POST("/guests/:guest_id/demote", h.Demote)
		room.PUT("/guests/:guest_id/permissions/:key", h.SetPermission)
	}
}

type UsernameRequest struct {
	Username string `json:"username" binding:"required,max=200"`
}

type RefreshRequest struct {
	Token string `json:"token" binding:"required,max=4096"`
}

type PermissionRequest struct {
	Value *bool `json:"value" binding:"required"`
}

func (h *RoomHandler) OpenRoom(c *gin.Context) {
	var req UsernameRequest
	if !bind(c, &req) {
		return
	}

	snap, session, err := h.rooms.OpenRoom(c.Request.Context(), req.Username)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"room":    snap.Status(),
		"session": sessionPayload(session),
	})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	status, err := h.rooms.Status(c.Request.Context(), domain.RoomID(c.Param("room_id")))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": status})
}

func (h *RoomHandler) Join(c *gin.Context) {
	var req UsernameRequest
	if !bind(c, &req) {
		return
	}

	session, err := h.guests.RequestJoin(c.Request.Context(), domain.RoomID(c.Param("room_id")), req.Username)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": sessionPayload(session)})
}

func (h *RoomHandler) RefreshSession(c *gin.Context) {
	var req RefreshRequest
	if !bind(c, &req) {
		return
	}

	session, err := h.sessions.Refresh(c.Request.Context(), req.Token)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sessionPayload(session)})
}

func (h *RoomHandler) CloseRoom(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	if err := h.rooms.CloseRoom(c.Request.Context(), a.RoomID, a.GuestID); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) Leave(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	if err := h.rooms.EndSession(c.Request.Context(), a.RoomID, a.GuestID); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) Me(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	view, err := h.guests.Guest(c.Request.Context(), a.RoomID, a.GuestID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"guest": view})
}

func (h *RoomHandler) Roster(c *gin.Context) {
	a, ok := member(c)
	if !ok {
		return
	}
	roster, err := h.guests.Roster(c.Request.Context(), a.RoomID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"guests": roster})
}

func (h *RoomHandler) Pending(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	pending, err := h.guests.Pending(c.Request.Context(), a.RoomID, a.GuestID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"guests": pending})
}

func (h *RoomHandler) resolveJoin(accept bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.dispatch(c, domain.JoinResolve{GuestID: domain.GuestID(c.Param("guest_id")), Accept: accept})
	}
}

func (h *RoomHandler) Kick(c *gin.Context) {
	h.dispatch(c, domain.GuestKick{TargetID: domain.GuestID(c.Param("guest_id"))})
}

func (h *RoomHandler) Promote(c *gin.Context) {
	h.dispatch(c, domain.GuestPromote{TargetID: domain.GuestID(c.Param("guest_id"))})
}

func (h *RoomHandler) Demote(c *gin.Context) {
	h.dispatch(c, domain.GuestDemote{TargetID: domain.GuestID(c.Param("guest_id"))})
}

func (h *RoomHandler) SetPermission(c *gin.Context) {
	var req PermissionRequest
	if !bind(c, &req) {
		return
	}
	h.dispatch(c, domain.PermissionSet{
		TargetID: domain.GuestID(c.Param("guest_id")),
		Key:      domain.PermissionKey(c.Param("key")),
		Value:    *req.Value,
	})
}

// dispatch runs cmd with the same semantics as the websocket gateway,
// including the silent handling of stale resolutions.
func (h *RoomHandler) dispatch(c *gin.Context, cmd domain.Command) {
	a, ok := actor(c)
	if !ok {
		return
	}
	if _, err := h.dispatcher.Dispatch(c.Request.Context(), a, cmd); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
