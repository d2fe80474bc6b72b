package collab

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// PresenceCache is the soft-state store for liveness and cursors.
// Implemented on redis in internal/cache.
type PresenceCache interface {
	Heartbeat(ctx context.Context, sessionID, userID, displayName string, ttl time.Duration) error
	SetCursor(ctx context.Context, sessionID, userID string, data []byte, ttl time.Duration) error
	GetCursor(ctx context.Context, sessionID, userID string) ([]byte, error)
	AliveMembers(ctx context.Context, sessionID string) ([]Member, error)
	RemoveMember(ctx context.Context, sessionID, userID string) error
}

// Member is a presence-cache roster entry.
type Member struct {
	UserID      string
	DisplayName string
}

// PresenceBroadcaster propagates cursor/selection/typing state. Updates are
// fire-and-forget and last-write-wins: updates from the same user arriving
// within the coalesce window collapse into one downstream broadcast, bounding
// fan-out volume for fast typists. Cursor state carries a TTL; peers treat
// anything older as absent.
type PresenceBroadcaster struct {
	cache  PresenceCache
	bcast  Broadcaster
	window time.Duration
	ttl    time.Duration

	mu      sync.Mutex
	pending map[string]*pendingCursor // sessionID+userID
}

type pendingCursor struct {
	latest CursorState
	armed  bool
}

func NewPresenceBroadcaster(cache PresenceCache, bcast Broadcaster, window, ttl time.Duration) *PresenceBroadcaster {
	if window <= 0 {
		window = 50 * time.Millisecond
	}
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &PresenceBroadcaster{
		cache:   cache,
		bcast:   bcast,
		window:  window,
		ttl:     ttl,
		pending: make(map[string]*pendingCursor),
	}
}

// UpdateCursor records the user's latest cursor state and schedules a single
// coalesced broadcast. Stale intermediate updates are dropped silently.
func (pb *PresenceBroadcaster) UpdateCursor(ctx context.Context, sessionID, userID string, cur CursorState) {
	cur.UpdatedAt = time.Now()

	if pb.cache != nil {
		if data, err := json.Marshal(cur); err == nil {
			if err := pb.cache.SetCursor(ctx, sessionID, userID, data, pb.ttl); err != nil {
				log.Printf("cursor cache write failed session=%s user=%s err=%v", sessionID, userID, err)
			}
		}
	}

	key := sessionID + "\x00" + userID
	pb.mu.Lock()
	p, ok := pb.pending[key]
	if !ok {
		p = &pendingCursor{}
		pb.pending[key] = p
	}
	p.latest = cur
	if p.armed {
		pb.mu.Unlock()
		return
	}
	p.armed = true
	pb.mu.Unlock()

	time.AfterFunc(pb.window, func() {
		pb.mu.Lock()
		latest := p.latest
		p.armed = false
		pb.mu.Unlock()
		pb.bcast.BroadcastCursor(sessionID, userID, latest)
	})
}

// Heartbeat refreshes the user's liveness keys in the presence cache.
func (pb *PresenceBroadcaster) Heartbeat(ctx context.Context, sessionID, userID, displayName string) error {
	if pb.cache == nil {
		return nil
	}
	return pb.cache.Heartbeat(ctx, sessionID, userID, displayName, pb.ttl)
}

// Cursor returns a user's cached cursor, or ok=false when it expired.
func (pb *PresenceBroadcaster) Cursor(ctx context.Context, sessionID, userID string) (CursorState, bool) {
	if pb.cache == nil {
		return CursorState{}, false
	}
	data, err := pb.cache.GetCursor(ctx, sessionID, userID)
	if err != nil || len(data) == 0 {
		return CursorState{}, false
	}
	var cur CursorState
	if err := json.Unmarshal(data, &cur); err != nil {
		return CursorState{}, false
	}
	return cur, true
}

// AliveMembers lists users whose heartbeat key has not expired.
func (pb *PresenceBroadcaster) AliveMembers(ctx context.Context, sessionID string) ([]Member, error) {
	if pb.cache == nil {
		return nil, nil
	}
	return pb.cache.AliveMembers(ctx, sessionID)
}

// Remove clears a departing user's presence state.
func (pb *PresenceBroadcaster) Remove(ctx context.Context, sessionID, userID string) {
	if pb.cache == nil {
		return
	}
	if err := pb.cache.RemoveMember(ctx, sessionID, userID); err != nil {
		log.Printf("presence remove failed session=%s user=%s err=%v", sessionID, userID, err)
	}
}
