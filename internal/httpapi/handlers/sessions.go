package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"codecollab/internal/collab"
	"codecollab/internal/httpapi"
)

type Sessions struct {
	svc      *collab.Service
	presence *collab.PresenceBroadcaster
}

func NewSessions(svc *collab.Service) *Sessions {
	return &Sessions{svc: svc}
}

// SetPresence attaches the presence cache so the roster can be annotated with
// liveness. Optional; without it every entry reads live=false.
func (h *Sessions) SetPresence(pb *collab.PresenceBroadcaster) { h.presence = pb }

type createSessionRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	Language        string `json:"language"`
	MaxParticipants int    `json:"maxParticipants"`
	AllowAnonymous  bool   `json:"allowAnonymous"`
}

func (h *Sessions) Create(c *gin.Context) {
	if c.GetBool("anonymous") {
		c.JSON(http.StatusForbidden, gin.H{"code": collab.ErrForbidden.Error(), "message": "anonymous users cannot create sessions"})
		return
	}
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": collab.ErrValidation.Error(), "message": err.Error()})
		return
	}
	info, err := h.svc.CreateSession(c.Request.Context(), c.GetString("userId"), collab.SessionConfig{
		Title:           req.Title,
		Description:     req.Description,
		Language:        req.Language,
		MaxParticipants: req.MaxParticipants,
		AllowAnonymous:  req.AllowAnonymous,
	})
	if err != nil {
		c.JSON(httpapi.Status(err), gin.H{"code": collab.Code(err)})
		return
	}
	c.JSON(http.StatusCreated, info)
}

type joinSessionRequest struct {
	Role string `json:"role"`
}

func (h *Sessions) Join(c *gin.Context) {
	var req joinSessionRequest
	_ = c.ShouldBindJSON(&req) // body optional, defaults to editor

	res, err := h.svc.JoinSession(
		c.Request.Context(),
		c.Param("id"),
		c.GetString("userId"),
		c.GetString("displayName"),
		collab.Role(req.Role),
		c.GetBool("anonymous"),
	)
	if err != nil {
		c.JSON(httpapi.Status(err), gin.H{"code": collab.Code(err)})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Sessions) Leave(c *gin.Context) {
	err := h.svc.LeaveSession(c.Request.Context(), c.Param("id"), c.GetString("userId"))
	if err != nil {
		c.JSON(httpapi.Status(err), gin.H{"code": collab.Code(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Sessions) Get(c *gin.Context) {
	info, err := h.svc.SessionInfo(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(httpapi.Status(err), gin.H{"code": collab.Code(err)})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Sessions) UpdateSettings(c *gin.Context) {
	var patch collab.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": collab.ErrValidation.Error(), "message": err.Error()})
		return
	}
	cfg, err := h.svc.UpdateSettings(c.Request.Context(), c.Param("id"), c.GetString("userId"), patch)
	if err != nil {
		c.JSON(httpapi.Status(err), gin.H{"code": collab.Code(err)})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *Sessions) Close(c *gin.Context) {
	err := h.svc.CloseSession(c.Request.Context(), c.Param("id"), c.GetString("userId"))
	if err != nil {
		c.JSON(httpapi.Status(err), gin.H{"code": collab.Code(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type participantEntry struct {
	collab.Participant
	Live bool `json:"live"`
}

// Participants returns the roster, with each entry flagged live when its
// presence heartbeat has not expired.
func (h *Sessions) Participants(c *gin.Context) {
	roster, err := h.svc.Participants(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(httpapi.Status(err), gin.H{"code": collab.Code(err)})
		return
	}
	alive := make(map[string]bool)
	if h.presence != nil {
		if members, err := h.presence.AliveMembers(c.Request.Context(), c.Param("id")); err == nil {
			for _, m := range members {
				alive[m.UserID] = true
			}
		}
	}
	out := make([]participantEntry, 0, len(roster))
	for _, p := range roster {
		out = append(out, participantEntry{Participant: p, Live: alive[p.UserID]})
	}
	c.JSON(http.StatusOK, gin.H{"participants": out})
}

func (h *Sessions) ChatHistory(c *gin.Context) {
	msgs, err := h.svc.ChatHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(httpapi.Status(err), gin.H{"code": collab.Code(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
