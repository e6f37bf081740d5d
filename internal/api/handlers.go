package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"highwayhub/voice/internal/auth"
	"highwayhub/voice/internal/errors"
	"highwayhub/voice/internal/log"
	"highwayhub/voice/internal/types"
)

func (r *Router) createRoom(c *gin.Context) {
	var req types.RoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	candidate := r.deps.RoomPrefix + uuid.NewString()
	roomID, created, err := r.deps.Rooms.Assign(c.Request.Context(), req.UserID, candidate)
	if err != nil {
		r.logger.Error("Failed to assign room", log.String("user", req.UserID), log.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "room store unavailable"})
		return
	}
	if created {
		r.deps.Events.Append(roomID, "room_created", map[string]any{"user_id": req.UserID})
	}

	c.JSON(http.StatusOK, types.RoomResponse{RoomID: roomID})
}

func (r *Router) issueToken(c *gin.Context) {
	var req types.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !r.deps.Limiter.Allow(req.UserID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many token requests"})
		return
	}

	ctx := c.Request.Context()
	known, err := r.deps.Rooms.Known(ctx, req.RoomID)
	if err != nil {
		r.logger.Error("Failed to look up room", log.String("room", req.RoomID), log.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "room store unavailable"})
		return
	}
	if !known {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown room"})
		return
	}

	resp, err := r.deps.Provider.Credential(ctx, req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		r.logger.Error("Failed to issue credential",
			log.String("provider", r.deps.Provider.Name()),
			log.String("room", req.RoomID),
			log.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not issue credential"})
		return
	}

	metricTokens.WithLabelValues(r.deps.Provider.Name()).Inc()
	r.deps.Events.Append(req.RoomID, "token_issued", map[string]any{
		"user_id":  req.UserID,
		"is_owner": req.IsOwner,
	})
	c.JSON(http.StatusOK, resp)
}

func (r *Router) listParticipants(c *gin.Context) {
	roomID := c.Param("room")
	if r.deps.Hub == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "participants are only tracked for hub rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room_id":      roomID,
		"participants": r.deps.Hub.Members(roomID),
	})
}

func (r *Router) listEvents(c *gin.Context) {
	roomID := c.Param("room")
	c.JSON(http.StatusOK, gin.H{
		"room_id": roomID,
		"events":  r.deps.Events.List(roomID),
	})
}

func badRequest(c *gin.Context, err error) {
	body := gin.H{"error": "Validation failed"}
	if details := formatValidationError(err); len(details) > 0 {
		body["details"] = details
	} else {
		body["error"] = "invalid JSON body"
	}
	c.JSON(http.StatusBadRequest, body)
}
