package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memPresence is an in-memory PresenceCache with real expiry, standing in for
// redis in tests.
type memPresence struct {
	mu      sync.Mutex
	cursors map[string][]byte
	expiry  map[string]time.Time
	members map[string]map[string]Member
	beats   map[string]time.Time
}

func newMemPresence() *memPresence {
	return &memPresence{
		cursors: make(map[string][]byte),
		expiry:  make(map[string]time.Time),
		members: make(map[string]map[string]Member),
		beats:   make(map[string]time.Time),
	}
}

func (m *memPresence) Heartbeat(ctx context.Context, sessionID, userID, displayName string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[sessionID] == nil {
		m.members[sessionID] = make(map[string]Member)
	}
	m.members[sessionID][userID] = Member{UserID: userID, DisplayName: displayName}
	m.beats[sessionID+"/"+userID] = time.Now().Add(ttl)
	return nil
}

func (m *memPresence) SetCursor(ctx context.Context, sessionID, userID string, data []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionID + "/" + userID
	m.cursors[key] = data
	m.expiry[key] = time.Now().Add(ttl)
	return nil
}

func (m *memPresence) GetCursor(ctx context.Context, sessionID, userID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionID + "/" + userID
	if time.Now().After(m.expiry[key]) {
		return nil, nil
	}
	return m.cursors[key], nil
}

func (m *memPresence) AliveMembers(ctx context.Context, sessionID string) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Member
	for userID, member := range m.members[sessionID] {
		if time.Now().After(m.beats[sessionID+"/"+userID]) {
			continue
		}
		out = append(out, member)
	}
	return out, nil
}

func (m *memPresence) RemoveMember(ctx context.Context, sessionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members[sessionID], userID)
	delete(m.beats, sessionID+"/"+userID)
	delete(m.cursors, sessionID+"/"+userID)
	return nil
}

func TestPresence_CoalescesBursts(t *testing.T) {
	rec := &recorderBroadcaster{}
	pb := NewPresenceBroadcaster(newMemPresence(), rec, 30*time.Millisecond, time.Second)
	ctx := context.Background()

	// a fast typist: ten updates inside one coalesce window
	for i := 0; i < 10; i++ {
		pb.UpdateCursor(ctx, "s1", "amy", CursorState{Position: i, Typing: true})
	}

	require.Eventually(t, func() bool { return rec.cursorCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 9, rec.lastCursor().Position, "only the latest state in the window goes out")

	// the window has fired; a later update schedules a fresh broadcast
	time.Sleep(40 * time.Millisecond)
	pb.UpdateCursor(ctx, "s1", "amy", CursorState{Position: 42})
	require.Eventually(t, func() bool { return rec.cursorCount() == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 42, rec.lastCursor().Position)
}

func TestPresence_PerUserCoalescing(t *testing.T) {
	rec := &recorderBroadcaster{}
	pb := NewPresenceBroadcaster(newMemPresence(), rec, 20*time.Millisecond, time.Second)
	ctx := context.Background()

	pb.UpdateCursor(ctx, "s1", "amy", CursorState{Position: 1})
	pb.UpdateCursor(ctx, "s1", "bob", CursorState{Position: 2})

	// different users never collapse into one broadcast
	require.Eventually(t, func() bool { return rec.cursorCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPresence_CursorExpiry(t *testing.T) {
	rec := &recorderBroadcaster{}
	pb := NewPresenceBroadcaster(newMemPresence(), rec, 10*time.Millisecond, 30*time.Millisecond)
	ctx := context.Background()

	pb.UpdateCursor(ctx, "s1", "amy", CursorState{Position: 7})
	cur, ok := pb.Cursor(ctx, "s1", "amy")
	require.True(t, ok)
	require.Equal(t, 7, cur.Position)
	require.False(t, cur.UpdatedAt.IsZero())

	time.Sleep(50 * time.Millisecond)
	_, ok = pb.Cursor(ctx, "s1", "amy")
	require.False(t, ok, "expired cursors read as absent")
}

func TestPresence_AliveMembers(t *testing.T) {
	cache := newMemPresence()
	pb := NewPresenceBroadcaster(cache, &recorderBroadcaster{}, 10*time.Millisecond, 30*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, pb.Heartbeat(ctx, "s1", "amy", "Amy"))
	require.NoError(t, pb.Heartbeat(ctx, "s1", "bob", "Bob"))

	members, err := pb.AliveMembers(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, members, 2)

	pb.Remove(ctx, "s1", "bob")
	members, err = pb.AliveMembers(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, "amy", members[0].UserID)

	// an unrefreshed heartbeat ages out
	time.Sleep(50 * time.Millisecond)
	members, err = pb.AliveMembers(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, members)
}
