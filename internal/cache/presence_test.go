package cache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func testClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	t.Cleanup(func() {
		rdb.FlushDB(context.Background())
		rdb.Close()
	})
	return rdb
}

func TestHeartbeatAndAliveMembers(t *testing.T) {
	rdb := testClient(t)
	p := NewRedisPresence(rdb)
	ctx := context.Background()

	if err := p.Heartbeat(ctx, "s1", "amy", "Amy", time.Minute); err != nil {
		t.Fatalf("Heartbeat error: %v", err)
	}
	if err := p.Heartbeat(ctx, "s1", "bob", "Bob", 50*time.Millisecond); err != nil {
		t.Fatalf("Heartbeat error: %v", err)
	}

	members, err := p.AliveMembers(ctx, "s1")
	if err != nil {
		t.Fatalf("AliveMembers error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("AliveMembers = %d members, want 2", len(members))
	}

	// bob's liveness key expires; the sweep also prunes him from the room set
	time.Sleep(80 * time.Millisecond)
	members, err = p.AliveMembers(ctx, "s1")
	if err != nil {
		t.Fatalf("AliveMembers error: %v", err)
	}
	if len(members) != 1 || members[0].UserID != "amy" || members[0].DisplayName != "Amy" {
		t.Fatalf("AliveMembers after expiry = %+v", members)
	}
	n, err := rdb.SCard(ctx, roomKey("s1")).Result()
	if err != nil {
		t.Fatalf("SCard error: %v", err)
	}
	if n != 1 {
		t.Fatalf("room set size = %d after prune, want 1", n)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	rdb := testClient(t)
	p := NewRedisPresence(rdb)
	ctx := context.Background()

	if got, err := p.GetCursor(ctx, "s1", "amy"); err != nil || got != nil {
		t.Fatalf("GetCursor(empty) = %q, %v", got, err)
	}

	payload := []byte(`{"position":12,"typing":true}`)
	if err := p.SetCursor(ctx, "s1", "amy", payload, 50*time.Millisecond); err != nil {
		t.Fatalf("SetCursor error: %v", err)
	}
	got, err := p.GetCursor(ctx, "s1", "amy")
	if err != nil {
		t.Fatalf("GetCursor error: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("GetCursor = %q, want %q", got, payload)
	}

	time.Sleep(80 * time.Millisecond)
	if got, err := p.GetCursor(ctx, "s1", "amy"); err != nil || got != nil {
		t.Fatalf("GetCursor after TTL = %q, %v, want nil", got, err)
	}
}

func TestRemoveMember(t *testing.T) {
	rdb := testClient(t)
	p := NewRedisPresence(rdb)
	ctx := context.Background()

	if err := p.Heartbeat(ctx, "s1", "amy", "Amy", time.Minute); err != nil {
		t.Fatalf("Heartbeat error: %v", err)
	}
	if err := p.SetCursor(ctx, "s1", "amy", []byte("{}"), time.Minute); err != nil {
		t.Fatalf("SetCursor error: %v", err)
	}

	if err := p.RemoveMember(ctx, "s1", "amy"); err != nil {
		t.Fatalf("RemoveMember error: %v", err)
	}
	members, err := p.AliveMembers(ctx, "s1")
	if err != nil {
		t.Fatalf("AliveMembers error: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("AliveMembers after remove = %+v, want none", members)
	}
	if got, err := p.GetCursor(ctx, "s1", "amy"); err != nil || got != nil {
		t.Fatalf("cursor should be gone, got %q, %v", got, err)
	}
}
