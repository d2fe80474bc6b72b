package ws

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"codecollab/internal/collab"
	"codecollab/internal/httpapi"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	for _, p := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

// Manager attaches authenticated websocket connections to session rooms.
type Manager struct {
	hub              *Hub
	svc              *collab.Service
	presence         *collab.PresenceBroadcaster
	heartbeatTimeout time.Duration
}

func NewManager(hub *Hub, svc *collab.Service, presence *collab.PresenceBroadcaster, heartbeatTimeout time.Duration) *Manager {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 10 * time.Second
	}
	return &Manager{hub: hub, svc: svc, presence: presence, heartbeatTimeout: heartbeatTimeout}
}

// Serve upgrades the request and runs the connection until it drops. The
// client must have joined the session over HTTP first.
func (m *Manager) Serve(c *gin.Context) {
	userID := c.GetString("userId")
	displayName := c.GetString("displayName")
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": collab.ErrValidation.Error(), "message": "missing sessionId"})
		return
	}

	participants, err := m.svc.Participants(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(httpapi.Status(err), gin.H{"code": collab.Code(err)})
		return
	}
	var me *collab.Participant
	for i := range participants {
		if participants[i].UserID == userID {
			me = &participants[i]
			break
		}
	}
	if me == nil {
		c.JSON(http.StatusForbidden, gin.H{"code": collab.ErrForbidden.Error(), "message": "join the session first"})
		return
	}

	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade failed session=%s user=%s err=%v", sessionID, userID, err)
		return
	}

	conn := NewConn(wsConn, m.hub, m.svc, m.presence, sessionID, userID, displayName, me.Role, m.heartbeatTimeout)
	m.hub.Join(sessionID, conn)
	m.svc.MarkConnected(sessionID, userID)
	_ = conn.transition(StateConnected)

	go conn.writeLoop()

	// hand the client its starting point; ?lastSeq resumes a reconnect
	lastSeq, _ := strconv.ParseUint(c.Query("lastSeq"), 10, 64)
	if res, err := m.svc.Resync(c.Request.Context(), sessionID, lastSeq); err == nil {
		conn.Enqueue(SessionStateMessage{
			Type:            TypeSessionState,
			DocumentVersion: res.DocumentVersion,
			DocumentText:    res.DocumentText,
			MissingOps:      res.MissingOps,
			Full:            res.Full,
		})
	}
	if err := m.presence.Heartbeat(c.Request.Context(), sessionID, userID, displayName); err != nil {
		log.Printf("initial heartbeat failed session=%s user=%s err=%v", sessionID, userID, err)
	}

	conn.readLoop(c.Request.Context())
	m.hub.Leave(sessionID, conn)
}
