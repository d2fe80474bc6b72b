package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"codecollab/internal/collab"
)

// redisPresence implements collab.PresenceCache. Presence is soft state:
// everything here carries a TTL and is lost on restart by design.
type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) collab.PresenceCache {
	return &redisPresence{rdb: rdb}
}

func (p *redisPresence) Heartbeat(ctx context.Context, sessionID, userID, displayName string, ttl time.Duration) error {
	pipe := p.rdb.Pipeline()
	pipe.SAdd(ctx, roomKey(sessionID), userID)
	pipe.Set(ctx, memberKey(sessionID, userID), "1", ttl)
	pipe.HSet(ctx, namesKey(sessionID), userID, displayName)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *redisPresence) SetCursor(ctx context.Context, sessionID, userID string, data []byte, ttl time.Duration) error {
	return p.rdb.Set(ctx, cursorKey(sessionID, userID), data, ttl).Err()
}

func (p *redisPresence) GetCursor(ctx context.Context, sessionID, userID string) ([]byte, error) {
	data, err := p.rdb.Get(ctx, cursorKey(sessionID, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

// AliveMembers returns the members whose liveness key has not expired, with
// display names. Expired members are pruned from the room set as a side
// effect so the set does not grow without bound.
func (p *redisPresence) AliveMembers(ctx context.Context, sessionID string) ([]collab.Member, error) {
	userIDs, err := p.rdb.SMembers(ctx, roomKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	pipe := p.rdb.Pipeline()
	existsCmds := make([]*redis.IntCmd, len(userIDs))
	for i, uid := range userIDs {
		existsCmds[i] = pipe.Exists(ctx, memberKey(sessionID, uid))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	alive := make([]string, 0, len(userIDs))
	var stale []interface{}
	for i, cmd := range existsCmds {
		if cmd.Val() == 1 {
			alive = append(alive, userIDs[i])
		} else {
			stale = append(stale, userIDs[i])
		}
	}
	if len(stale) > 0 {
		_ = p.rdb.SRem(ctx, roomKey(sessionID), stale...).Err()
	}
	if len(alive) == 0 {
		return nil, nil
	}

	names, err := p.rdb.HMGet(ctx, namesKey(sessionID), alive...).Result()
	if err != nil {
		return nil, err
	}
	members := make([]collab.Member, 0, len(alive))
	for i, v := range names {
		name := ""
		if v != nil {
			name, _ = v.(string)
		}
		members = append(members, collab.Member{UserID: alive[i], DisplayName: name})
	}
	return members, nil
}

func (p *redisPresence) RemoveMember(ctx context.Context, sessionID, userID string) error {
	pipe := p.rdb.Pipeline()
	pipe.SRem(ctx, roomKey(sessionID), userID)
	pipe.Del(ctx, memberKey(sessionID, userID))
	pipe.HDel(ctx, namesKey(sessionID), userID)
	pipe.Del(ctx, cursorKey(sessionID, userID))
	_, err := pipe.Exec(ctx)
	return err
}
