package http

import (
	"net/http"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	"echoframe/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
)

// PlaybackHandler serves playback authority, guest requests and the voice
// permission check.
type PlaybackHandler struct {
	playback    ports.PlaybackService
	requests    ports.RequestService
	permissions ports.PermissionService
	sessions    ports.SessionService
	dispatcher  ports.CommandDispatcher
}

func NewPlaybackHandler(
	playback ports.PlaybackService,
	requests ports.RequestService,
	permissions ports.PermissionService,
	sessions ports.SessionService,
	dispatcher ports.CommandDispatcher,
) *PlaybackHandler {
	return &PlaybackHandler{
		playback:    playback,
		requests:    requests,
		permissions: permissions,
		sessions:    sessions,
		dispatcher:  dispatcher,
	}
}

func (h *PlaybackHandler) SetupRoutes(router *gin.Engine) {
	room := router.Group("/api/v1/rooms/:room_id", middleware.SessionMiddleware(h.sessions))
	{
		room.GET("/playback", h.GetState)
		room.POST("/playback", h.ApplyEvent)
		room.POST("/playback/sync", h.Sync)

		room.GET("/requests", h.ListRequests)
		room.POST("/requests", h.SubmitRequest)
		room.POST("/requests/:request_id/approve", h.Approve)
		room.POST("/requests/:request_id/dismiss", h.Dismiss)

		room.GET("/voice/authorize", h.AuthorizeVoice)
	}
}

type SubmitRequest struct {
	Type    domain.RequestType `json:"type" binding:"required"`
	Seconds float64            `json:"seconds"`
	Message string             `json:"message"`
}

func (h *PlaybackHandler) GetState(c *gin.Context) {
	a, ok := member(c)
	if !ok {
		return
	}
	state, err := h.playback.State(c.Request.Context(), a.RoomID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"playback": state})
}

func (h *PlaybackHandler) ApplyEvent(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var cmd domain.PlaybackCommand
	if !bind(c, &cmd) {
		return
	}

	state, err := h.playback.ApplyControllerEvent(c.Request.Context(), a.RoomID, a.GuestID, cmd)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"playback": state})
}

func (h *PlaybackHandler) Sync(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var report domain.FollowerReport
	if !bind(c, &report) {
		return
	}

	instr, err := h.playback.Reconcile(c.Request.Context(), a.RoomID, a.GuestID, report)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instruction": instr})
}

func (h *PlaybackHandler) ListRequests(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	open, err := h.requests.ListOpen(c.Request.Context(), a.RoomID, a.GuestID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": open})
}

func (h *PlaybackHandler) SubmitRequest(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req SubmitRequest
	if !bind(c, &req) {
		return
	}

	created, err := h.requests.Submit(c.Request.Context(), a.RoomID, a.GuestID, domain.RequestInput{
		Type:    req.Type,
		Seconds: req.Seconds,
		Message: req.Message,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request": created})
}

func (h *PlaybackHandler) Approve(c *gin.Context) {
	h.resolve(c, domain.RequestApprove{RequestID: domain.RequestID(c.Param("request_id"))})
}

func (h *PlaybackHandler) Dismiss(c *gin.Context) {
	h.resolve(c, domain.RequestDismiss{RequestID: domain.RequestID(c.Param("request_id"))})
}

func (h *PlaybackHandler) resolve(c *gin.Context, cmd domain.Command) {
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

// AuthorizeVoice answers the media service's question whether the caller
// may publish voice right now.
func (h *PlaybackHandler) AuthorizeVoice(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	if err := h.permissions.Authorize(c.Request.Context(), a.RoomID, a.GuestID, domain.PermissionVoice); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": true})
}
