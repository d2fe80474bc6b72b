package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"codecollab/internal/ot"
)

// session is the serialization point for one collaborative document. Every
// mutation (ops, joins, settings, chat) runs as a closure on the mailbox
// goroutine, so sequencing and transforms never race. Broadcasts are emitted
// from inside the mailbox, which keeps all participants observing operations
// in identical sequence order.
type session struct {
	id        string
	ownerID   string
	cfg       SessionConfig
	createdAt time.Time

	version uint64
	buf     Buffer

	// recent ops for transform/resync; older entries are compacted once the
	// ring is full, at which point lagging clients get a full snapshot.
	ring    []ot.SequencedOp
	ringCap int

	byClientOp   map[string]SubmitResult
	participants map[string]*Participant
	chat         []ChatMessage

	closed       bool
	dirtyOps     int
	flushedAt    uint64
	lastActivity time.Time
	connected    int

	opts  Options
	bcast Broadcaster

	mailbox chan func()
	quit    chan struct{}
}

func newSession(id, ownerID string, cfg SessionConfig, initialText string, version uint64, opts Options, bcast Broadcaster) *session {
	s := &session{
		id:           id,
		ownerID:      ownerID,
		cfg:          cfg,
		createdAt:    time.Now(),
		version:      version,
		buf:          NewPieceTable(initialText),
		ringCap:      opts.RingSize,
		byClientOp:   make(map[string]SubmitResult),
		participants: make(map[string]*Participant),
		flushedAt:    version,
		lastActivity: time.Now(),
		opts:         opts,
		bcast:        bcast,
		mailbox:      make(chan func(), 256),
		quit:         make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *session) run() {
	for {
		select {
		case fn := <-s.mailbox:
			fn()
		case <-s.quit:
			return
		}
	}
}

func (s *session) stop() { close(s.quit) }

// do runs fn on the mailbox goroutine and waits for it to finish.
func (s *session) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case s.mailbox <- wrapped:
	case <-s.quit:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-s.quit:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue runs fn on the mailbox goroutine without waiting (timers, grace
// callbacks). Dropped silently if the session has been evicted.
func (s *session) enqueue(fn func()) {
	select {
	case s.mailbox <- fn:
	case <-s.quit:
	}
}

// ---- sequencing ----

// submit transforms, applies and sequences one client operation. Runs on the
// mailbox goroutine.
func (s *session) submit(authorID string, cop ClientOp) (SubmitResult, error) {
	if s.closed {
		return SubmitResult{}, ErrSessionClosed
	}
	if prev, ok := s.byClientOp[cop.ClientOpID]; ok {
		// duplicate delivery after reconnect: replay the original ack
		return prev, nil
	}
	if cop.ClientOpID == "" {
		return SubmitResult{}, fmt.Errorf("%w: missing clientOpId", ErrValidation)
	}
	if err := cop.Op.Validate(); err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if cop.BaseVersion > s.version {
		return SubmitResult{}, fmt.Errorf("%w: base version %d ahead of document %d", ErrConflict, cop.BaseVersion, s.version)
	}

	tail, ok := s.opsSince(cop.BaseVersion)
	if !ok {
		// base version older than the compacted log; client must resync
		return SubmitResult{}, fmt.Errorf("%w: base version %d compacted", ErrConflict, cop.BaseVersion)
	}
	transformed := ot.TransformAgainstLog(cop.Op, authorID, tail)

	if !transformed.IsNoop() {
		var err error
		switch transformed.Kind {
		case ot.KindInsert:
			err = s.buf.Insert(transformed.Position, transformed.Text)
		case ot.KindDelete:
			err = s.buf.Delete(transformed.Position, transformed.Length)
		}
		if err != nil {
			return SubmitResult{}, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
		}
	}

	s.version++
	res := SubmitResult{
		Seq:         s.version,
		Transformed: transformed,
		AuthorID:    authorID,
		ClientOpID:  cop.ClientOpID,
		AppliedAt:   time.Now(),
	}
	s.appendToRing(ot.SequencedOp{
		Seq:        res.Seq,
		AuthorID:   authorID,
		ClientOpID: cop.ClientOpID,
		Op:         transformed,
		AppliedAt:  res.AppliedAt,
	})
	s.byClientOp[cop.ClientOpID] = res
	s.dirtyOps++
	s.touch(authorID)

	s.bcast.BroadcastOp(s.id, res)
	return res, nil
}

func (s *session) appendToRing(entry ot.SequencedOp) {
	if s.ringCap > 0 && len(s.ring) == s.ringCap {
		dropped := s.ring[0]
		copy(s.ring, s.ring[1:])
		s.ring = s.ring[:len(s.ring)-1]
		// the dropped op's ack can no longer be replayed byte-for-byte, but
		// a client that far behind has to resync anyway
		delete(s.byClientOp, dropped.ClientOpID)
	}
	s.ring = append(s.ring, entry)
}

// opsSince returns the sequenced ops after version. ok is false when that
// range has been compacted out of the ring.
func (s *session) opsSince(version uint64) ([]ot.SequencedOp, bool) {
	if version >= s.version {
		return nil, true
	}
	if len(s.ring) == 0 || s.ring[0].Seq > version+1 {
		return nil, false
	}
	idx := len(s.ring) - int(s.version-version)
	return s.ring[idx:], true
}

func (s *session) resync(lastKnownSeq uint64) ResyncResult {
	if tail, ok := s.opsSince(lastKnownSeq); ok {
		ops := make([]ot.SequencedOp, len(tail))
		copy(ops, tail)
		return ResyncResult{DocumentVersion: s.version, MissingOps: ops}
	}
	return ResyncResult{DocumentVersion: s.version, DocumentText: s.buf.String(), Full: true}
}

// ---- participants ----

func (s *session) join(userID, displayName string, role Role) (JoinResult, error) {
	if s.closed {
		return JoinResult{}, ErrSessionClosed
	}
	if p, ok := s.participants[userID]; ok {
		// rejoin after a blip: same participant, refreshed liveness. A retried
		// join while still connected must not inflate the counter or idle
		// eviction never fires.
		if p.ConnectionState != StateConnected {
			s.connected++
		}
		p.ConnectionState = StateConnected
		p.LastSeenAt = time.Now()
		return s.joinResult(p), nil
	}

	if userID == s.ownerID {
		role = RoleOwner
	} else if role == "" || role == RoleOwner {
		role = RoleEditor
	}
	if role != RoleViewer || !s.opts.ViewersUnlimited {
		if s.activeCount() >= s.cfg.MaxParticipants {
			return JoinResult{}, ErrSessionFull
		}
	}

	now := time.Now()
	p := &Participant{
		SessionID:       s.id,
		UserID:          userID,
		DisplayName:     displayName,
		Role:            role,
		ConnectionState: StateConnected,
		JoinedAt:        now,
		LastSeenAt:      now,
	}
	s.participants[userID] = p
	s.connected++
	s.lastActivity = now
	s.bcast.BroadcastParticipantJoined(s.id, *p)
	return s.joinResult(p), nil
}

func (s *session) joinResult(p *Participant) JoinResult {
	return JoinResult{
		Session:         s.info(),
		Participant:     *p,
		Participants:    s.roster(),
		DocumentText:    s.buf.String(),
		DocumentVersion: s.version,
	}
}

// activeCount counts participants occupying an editor slot. Viewers are
// excluded when the unlimited-viewers policy is on.
func (s *session) activeCount() int {
	n := 0
	for _, p := range s.participants {
		if p.Role == RoleViewer && s.opts.ViewersUnlimited {
			continue
		}
		n++
	}
	return n
}

func (s *session) leave(userID string) error {
	p, ok := s.participants[userID]
	if !ok {
		return ErrNotFound
	}
	if p.ConnectionState == StateConnected {
		s.connected--
	}
	delete(s.participants, userID)
	s.lastActivity = time.Now()
	s.bcast.BroadcastParticipantLeft(s.id, userID)
	return nil
}

// markDisconnected flags a participant as reconnecting and schedules removal
// after the grace period. A network blip must not drop the participant.
func (s *session) markDisconnected(userID string) {
	p, ok := s.participants[userID]
	if !ok {
		return
	}
	if p.ConnectionState == StateConnected {
		s.connected--
	}
	p.ConnectionState = StateReconnecting
	p.LastSeenAt = time.Now()
	seen := p.LastSeenAt
	time.AfterFunc(s.opts.ReconnectGrace, func() {
		s.enqueue(func() {
			cur, ok := s.participants[userID]
			if !ok || cur.ConnectionState != StateReconnecting || !cur.LastSeenAt.Equal(seen) {
				return // reconnected, left, or blipped again since this timer was armed
			}
			delete(s.participants, userID)
			s.bcast.BroadcastParticipantLeft(s.id, userID)
		})
	})
}

func (s *session) markConnected(userID string) {
	p, ok := s.participants[userID]
	if !ok {
		return
	}
	if p.ConnectionState != StateConnected {
		s.connected++
	}
	p.ConnectionState = StateConnected
	p.LastSeenAt = time.Now()
}

func (s *session) touch(userID string) {
	s.lastActivity = time.Now()
	if p, ok := s.participants[userID]; ok {
		p.LastSeenAt = s.lastActivity
	}
}

func (s *session) roster() []Participant {
	out := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, *p)
	}
	return out
}

// ---- settings / lifecycle ----

func (s *session) updateSettings(requesterID string, patch SettingsPatch, ceiling int) (SessionConfig, error) {
	if s.closed {
		return SessionConfig{}, ErrSessionClosed
	}
	if requesterID != s.ownerID {
		return SessionConfig{}, ErrForbidden
	}
	next := s.cfg
	if patch.Title != nil {
		next.Title = *patch.Title
	}
	if patch.Description != nil {
		next.Description = *patch.Description
	}
	if patch.MaxParticipants != nil {
		if *patch.MaxParticipants < 1 || *patch.MaxParticipants > ceiling {
			return SessionConfig{}, fmt.Errorf("%w: maxParticipants must be 1-%d", ErrValidation, ceiling)
		}
		next.MaxParticipants = *patch.MaxParticipants
	}
	if patch.AllowAnonymous != nil {
		next.AllowAnonymous = *patch.AllowAnonymous
	}
	s.cfg = next
	s.lastActivity = time.Now()
	return next, nil
}

func (s *session) close(requesterID string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if requesterID != "" && requesterID != s.ownerID {
		return ErrForbidden
	}
	s.closed = true
	s.bcast.BroadcastSessionClosed(s.id)
	return nil
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		ID:              s.id,
		OwnerID:         s.ownerID,
		Title:           s.cfg.Title,
		Description:     s.cfg.Description,
		Language:        s.cfg.Language,
		MaxParticipants: s.cfg.MaxParticipants,
		AllowAnonymous:  s.cfg.AllowAnonymous,
		DocumentVersion: s.version,
		CreatedAt:       s.createdAt,
	}
}

// snapshot returns the current materialized state for the durability flush.
func (s *session) snapshot() (content string, version uint64, dirty bool) {
	return s.buf.String(), s.version, s.version > s.flushedAt
}

func (s *session) markFlushed(version uint64) {
	if version > s.flushedAt {
		s.flushedAt = version
		s.dirtyOps = 0
	}
}

// ---- chat ----

func (s *session) postMessage(authorID, text string) (ChatMessage, error) {
	if s.closed {
		return ChatMessage{}, ErrSessionClosed
	}
	if text == "" || len(text) > s.opts.ChatMessageLimit {
		return ChatMessage{}, fmt.Errorf("%w: message must be 1-%d bytes", ErrValidation, s.opts.ChatMessageLimit)
	}
	if _, ok := s.participants[authorID]; !ok {
		return ChatMessage{}, ErrForbidden
	}
	msg := ChatMessage{
		ID:        uuid.New().String(),
		SessionID: s.id,
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: time.Now(),
	}
	s.chat = append(s.chat, msg)
	if limit := s.opts.ChatHistoryLimit; limit > 0 && len(s.chat) > limit {
		s.chat = s.chat[len(s.chat)-limit:]
	}
	s.touch(authorID)
	s.bcast.BroadcastChat(s.id, msg)
	return msg, nil
}

func (s *session) addReaction(messageID, userID, emoji string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if emoji == "" {
		return fmt.Errorf("%w: empty emoji", ErrValidation)
	}
	for i := range s.chat {
		if s.chat[i].ID != messageID {
			continue
		}
		if s.chat[i].Reactions == nil {
			s.chat[i].Reactions = make(map[string][]string)
		}
		for _, uid := range s.chat[i].Reactions[emoji] {
			if uid == userID {
				return nil // already reacted, no-op
			}
		}
		s.chat[i].Reactions[emoji] = append(s.chat[i].Reactions[emoji], userID)
		s.bcast.BroadcastReaction(s.id, messageID, emoji, userID)
		return nil
	}
	return ErrNotFound
}

func (s *session) chatHistory() []ChatMessage {
	out := make([]ChatMessage, len(s.chat))
	copy(out, s.chat)
	return out
}
