package cache

import "fmt"

// Key layout:
// - roomKey(sessionID):          candidate member set (Set<userId>)
// - memberKey(sessionID,userID): liveness key ("1" with TTL); expiry means gone
// - namesKey(sessionID):         userId -> displayName map (Hash)
// - cursorKey(sessionID,userID): cursor/selection JSON (String with TTL)
const (
	keyRoomFmt   = "presence:session:%s"
	keyMemberFmt = "presence:member:%s:%s"
	keyNamesFmt  = "presence:session:names:%s"
	keyCursorFmt = "presence:cursor:%s:%s"
)

func roomKey(sessionID string) string           { return fmt.Sprintf(keyRoomFmt, sessionID) }
func memberKey(sessionID, userID string) string { return fmt.Sprintf(keyMemberFmt, sessionID, userID) }
func namesKey(sessionID string) string          { return fmt.Sprintf(keyNamesFmt, sessionID) }
func cursorKey(sessionID, userID string) string { return fmt.Sprintf(keyCursorFmt, sessionID, userID) }
