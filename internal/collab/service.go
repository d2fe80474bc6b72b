package collab

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionStore persists session metadata. Implemented in internal/store.
type SessionStore interface {
	CreateSession(ctx context.Context, info SessionInfo) error
	GetSession(ctx context.Context, id string) (info SessionInfo, archived bool, err error)
	UpdateSettings(ctx context.Context, id string, cfg SessionConfig) error
	ArchiveSession(ctx context.Context, id string) error
}

// SnapshotStore persists the materialized document so reconnecting clients
// rehydrate without replaying the full log.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, sessionID string, version uint64, content string) error
	LoadSnapshot(ctx context.Context, sessionID string) (content string, version uint64, err error)
}

// ErrSnapshotNotFound is returned by SnapshotStore.LoadSnapshot for sessions
// that were never flushed.
var ErrSnapshotNotFound = errors.New("snapshot not found")

type Options struct {
	MaxParticipantsCeiling int
	ViewersUnlimited       bool
	MaxConcurrentSubmits   int
	RingSize               int
	FlushInterval          time.Duration
	FlushEveryOps          int
	FlushMaxRetry          int
	FlushBaseBackoff       time.Duration
	FlushMaxBackoff        time.Duration
	IdleTimeout            time.Duration
	ReconnectGrace         time.Duration
	ChatMessageLimit       int
	ChatHistoryLimit       int
}

func DefaultOptions() Options {
	return Options{
		MaxParticipantsCeiling: 50,
		ViewersUnlimited:       true,
		MaxConcurrentSubmits:   100,
		RingSize:               1024,
		FlushInterval:          15 * time.Second,
		FlushEveryOps:          200,
		FlushMaxRetry:          3,
		FlushBaseBackoff:       100 * time.Millisecond,
		FlushMaxBackoff:        2 * time.Second,
		IdleTimeout:            time.Hour,
		ReconnectGrace:         30 * time.Second,
		ChatMessageLimit:       2000,
		ChatHistoryLimit:       500,
	}
}

// Service is the session coordinator: it owns the registry of live session
// actors and routes every request to the right mailbox. Sessions are fully
// independent; there is no cross-session shared mutable state.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*session

	opts      Options
	store     SessionStore
	snapshots SnapshotStore
	events    *Dispatcher
	bcast     Broadcaster
	admission *Semaphore

	flushCh chan string
}

func NewService(store SessionStore, snapshots SnapshotStore, events *Dispatcher, opts Options) *Service {
	if opts.RingSize <= 0 {
		opts.RingSize = 1024
	}
	if opts.MaxParticipantsCeiling <= 0 {
		opts.MaxParticipantsCeiling = 50
	}
	return &Service{
		sessions:  make(map[string]*session),
		opts:      opts,
		store:     store,
		snapshots: snapshots,
		events:    events,
		bcast:     NopBroadcaster{},
		admission: NewSemaphore(opts.MaxConcurrentSubmits),
		flushCh:   make(chan string, 256),
	}
}

// SetBroadcaster attaches the fan-out sink (the ws hub). Must be called
// before any session is created.
func (svc *Service) SetBroadcaster(b Broadcaster) { svc.bcast = b }

func (svc *Service) CreateSession(ctx context.Context, ownerID string, cfg SessionConfig) (SessionInfo, error) {
	if ownerID == "" {
		return SessionInfo{}, fmt.Errorf("%w: missing owner", ErrValidation)
	}
	if cfg.MaxParticipants < 1 || cfg.MaxParticipants > svc.opts.MaxParticipantsCeiling {
		return SessionInfo{}, fmt.Errorf("%w: maxParticipants must be 1-%d", ErrValidation, svc.opts.MaxParticipantsCeiling)
	}
	if cfg.Title == "" {
		return SessionInfo{}, fmt.Errorf("%w: missing title", ErrValidation)
	}
	if cfg.Language == "" {
		cfg.Language = "solidity"
	}

	id := uuid.New().String()
	s := newSession(id, ownerID, cfg, "", 0, svc.opts, svc.bcast)
	info := s.info()
	if svc.store != nil {
		if err := svc.store.CreateSession(ctx, info); err != nil {
			s.stop()
			return SessionInfo{}, fmt.Errorf("%w: persist session: %v", ErrUnavailable, err)
		}
	}

	svc.mu.Lock()
	svc.sessions[id] = s
	svc.mu.Unlock()

	log.Printf("session created id=%s owner=%s max=%d", id, ownerID, cfg.MaxParticipants)
	return info, nil
}

// lookup returns the live actor, rehydrating it from the store when the
// session was evicted (or the server restarted) since the last join.
func (svc *Service) lookup(ctx context.Context, id string) (*session, error) {
	svc.mu.RLock()
	s := svc.sessions[id]
	svc.mu.RUnlock()
	if s != nil {
		return s, nil
	}
	if svc.store == nil {
		return nil, ErrNotFound
	}

	info, archived, err := svc.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: load session: %v", ErrUnavailable, err)
	}
	if archived {
		return nil, ErrSessionClosed
	}

	content, version := "", uint64(0)
	if svc.snapshots != nil {
		content, version, err = svc.snapshots.LoadSnapshot(ctx, id)
		if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
			return nil, fmt.Errorf("%w: load snapshot: %v", ErrUnavailable, err)
		}
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if existing := svc.sessions[id]; existing != nil {
		return existing, nil
	}
	cfg := SessionConfig{
		Title:           info.Title,
		Description:     info.Description,
		Language:        info.Language,
		MaxParticipants: info.MaxParticipants,
		AllowAnonymous:  info.AllowAnonymous,
	}
	s = newSession(id, info.OwnerID, cfg, content, version, svc.opts, svc.bcast)
	svc.sessions[id] = s
	log.Printf("session rehydrated id=%s version=%d", id, version)
	return s, nil
}

func (svc *Service) JoinSession(ctx context.Context, sessionID, userID, displayName string, role Role, anonymous bool) (JoinResult, error) {
	s, err := svc.lookup(ctx, sessionID)
	if err != nil {
		return JoinResult{}, err
	}
	var res JoinResult
	var jerr error
	err = s.do(ctx, func() {
		if anonymous && !s.cfg.AllowAnonymous {
			jerr = fmt.Errorf("%w: session does not allow anonymous participants", ErrForbidden)
			return
		}
		res, jerr = s.join(userID, displayName, role)
	})
	if err != nil {
		return JoinResult{}, err
	}
	return res, jerr
}

func (svc *Service) LeaveSession(ctx context.Context, sessionID, userID string) error {
	s, err := svc.lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	var lerr error
	if err := s.do(ctx, func() { lerr = s.leave(userID) }); err != nil {
		return err
	}
	return lerr
}

// SubmitOp sequences one document edit. The canonical transformed op is
// broadcast to the whole room (submitter included) from the session mailbox.
func (svc *Service) SubmitOp(ctx context.Context, sessionID, authorID string, cop ClientOp) (SubmitResult, error) {
	// admission gate: bounds concurrent submit work across all sessions
	if err := svc.admission.Acquire(ctx); err != nil {
		return SubmitResult{}, err
	}
	defer svc.admission.Release()

	s, err := svc.lookup(ctx, sessionID)
	if err != nil {
		return SubmitResult{}, err
	}
	var res SubmitResult
	var serr error
	var needFlush bool
	if err := s.do(ctx, func() {
		res, serr = s.submit(authorID, cop)
		needFlush = serr == nil && svc.opts.FlushEveryOps > 0 && s.dirtyOps >= svc.opts.FlushEveryOps
	}); err != nil {
		return SubmitResult{}, err
	}
	if serr != nil {
		return SubmitResult{}, serr
	}

	if needFlush {
		select {
		case svc.flushCh <- sessionID:
		default:
		}
	}
	if svc.events != nil {
		_ = svc.events.Enqueue(ctx, OpAppliedEvent{
			EventType:   eventOpApplied,
			SessionID:   sessionID,
			Seq:         res.Seq,
			AuthorID:    res.AuthorID,
			ClientOpID:  res.ClientOpID,
			BaseVersion: cop.BaseVersion,
			Op:          res.Transformed,
			AppliedAt:   res.AppliedAt,
		})
	}
	return res, nil
}

func (svc *Service) Resync(ctx context.Context, sessionID string, lastKnownSeq uint64) (ResyncResult, error) {
	s, err := svc.lookup(ctx, sessionID)
	if err != nil {
		return ResyncResult{}, err
	}
	var res ResyncResult
	if err := s.do(ctx, func() { res = s.resync(lastKnownSeq) }); err != nil {
		return ResyncResult{}, err
	}
	return res, nil
}

func (svc *Service) UpdateSettings(ctx context.Context, sessionID, requesterID string, patch SettingsPatch) (SessionConfig, error) {
	s, err := svc.lookup(ctx, sessionID)
	if err != nil {
		return SessionConfig{}, err
	}
	var cfg SessionConfig
	var uerr error
	if err := s.do(ctx, func() {
		cfg, uerr = s.updateSettings(requesterID, patch, svc.opts.MaxParticipantsCeiling)
	}); err != nil {
		return SessionConfig{}, err
	}
	if uerr != nil {
		return SessionConfig{}, uerr
	}
	if svc.store != nil {
		if err := svc.store.UpdateSettings(ctx, sessionID, cfg); err != nil {
			log.Printf("settings flush failed session=%s err=%v", sessionID, err)
		}
	}
	return cfg, nil
}

// CloseSession archives a session: terminal broadcast, final flush, eviction.
// Owner-only; the janitor passes requesterID "" to bypass the check.
func (svc *Service) CloseSession(ctx context.Context, sessionID, requesterID string) error {
	s, err := svc.lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	var cerr error
	if err := s.do(ctx, func() { cerr = s.close(requesterID) }); err != nil {
		return err
	}
	if cerr != nil {
		return cerr
	}

	svc.flushSession(ctx, s)
	if svc.store != nil {
		if err := svc.store.ArchiveSession(ctx, sessionID); err != nil {
			log.Printf("archive failed session=%s err=%v", sessionID, err)
		}
	}

	svc.mu.Lock()
	delete(svc.sessions, sessionID)
	svc.mu.Unlock()
	s.stop()
	log.Printf("session closed id=%s by=%s", sessionID, requesterID)
	return nil
}

func (svc *Service) SessionInfo(ctx context.Context, sessionID string) (SessionInfo, error) {
	s, err := svc.lookup(ctx, sessionID)
	if err != nil {
		return SessionInfo{}, err
	}
	var info SessionInfo
	if err := s.do(ctx, func() { info = s.info() }); err != nil {
		return SessionInfo{}, err
	}
	return info, nil
}

func (svc *Service) Participants(ctx context.Context, sessionID string) ([]Participant, error) {
	s, err := svc.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var out []Participant
	if err := s.do(ctx, func() { out = s.roster() }); err != nil {
		return nil, err
	}
	return out, nil
}

func (svc *Service) ChatHistory(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	s, err := svc.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var out []ChatMessage
	if err := s.do(ctx, func() { out = s.chatHistory() }); err != nil {
		return nil, err
	}
	return out, nil
}

func (svc *Service) PostMessage(ctx context.Context, sessionID, authorID, text string) (ChatMessage, error) {
	s, err := svc.lookup(ctx, sessionID)
	if err != nil {
		return ChatMessage{}, err
	}
	var msg ChatMessage
	var perr error
	if err := s.do(ctx, func() { msg, perr = s.postMessage(authorID, text) }); err != nil {
		return ChatMessage{}, err
	}
	return msg, perr
}

func (svc *Service) AddReaction(ctx context.Context, sessionID, messageID, userID, emoji string) error {
	s, err := svc.lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	var rerr error
	if err := s.do(ctx, func() { rerr = s.addReaction(messageID, userID, emoji) }); err != nil {
		return err
	}
	return rerr
}

// MarkDisconnected is called by the connection manager when a heartbeat is
// missed; the participant survives until the reconnect grace expires.
func (svc *Service) MarkDisconnected(sessionID, userID string) {
	svc.mu.RLock()
	s := svc.sessions[sessionID]
	svc.mu.RUnlock()
	if s == nil {
		return
	}
	s.enqueue(func() { s.markDisconnected(userID) })
}

func (svc *Service) MarkConnected(sessionID, userID string) {
	svc.mu.RLock()
	s := svc.sessions[sessionID]
	svc.mu.RUnlock()
	if s == nil {
		return
	}
	s.enqueue(func() { s.markConnected(userID) })
}

// Run drives the background durability flush and idle eviction until ctx is
// cancelled. Flush failures never block live collaboration: the in-memory
// log stays authoritative and the flush is retried with backoff.
func (svc *Service) Run(ctx context.Context) error {
	flushTick := time.NewTicker(svc.opts.FlushInterval)
	defer flushTick.Stop()
	idleTick := time.NewTicker(svc.opts.IdleTimeout / 4)
	defer idleTick.Stop()

	for {
		select {
		case <-ctx.Done():
			svc.flushAll(context.Background())
			return ctx.Err()
		case id := <-svc.flushCh:
			svc.mu.RLock()
			s := svc.sessions[id]
			svc.mu.RUnlock()
			if s != nil {
				svc.flushSession(ctx, s)
			}
		case <-flushTick.C:
			svc.flushAll(ctx)
		case <-idleTick.C:
			svc.evictIdle(ctx)
		}
	}
}

func (svc *Service) flushAll(ctx context.Context) {
	svc.mu.RLock()
	all := make([]*session, 0, len(svc.sessions))
	for _, s := range svc.sessions {
		all = append(all, s)
	}
	svc.mu.RUnlock()
	for _, s := range all {
		svc.flushSession(ctx, s)
	}
}

func (svc *Service) flushSession(ctx context.Context, s *session) {
	if svc.snapshots == nil {
		return
	}
	var content string
	var version uint64
	var dirty bool
	if err := s.do(ctx, func() { content, version, dirty = s.snapshot() }); err != nil || !dirty {
		return
	}

	backoff := svc.opts.FlushBaseBackoff
	for attempt := 0; ; attempt++ {
		err := svc.snapshots.SaveSnapshot(ctx, s.id, version, content)
		if err == nil {
			s.enqueue(func() { s.markFlushed(version) })
			return
		}
		if attempt >= svc.opts.FlushMaxRetry {
			log.Printf("snapshot flush failed session=%s version=%d attempts=%d err=%v", s.id, version, attempt+1, err)
			return
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > svc.opts.FlushMaxBackoff {
			backoff = svc.opts.FlushMaxBackoff
		}
	}
}

// evictIdle flushes and drops sessions with no connected participants past
// the idle timeout. The session record stays in the store; a later join
// rehydrates it.
func (svc *Service) evictIdle(ctx context.Context) {
	svc.mu.RLock()
	all := make([]*session, 0, len(svc.sessions))
	for _, s := range svc.sessions {
		all = append(all, s)
	}
	svc.mu.RUnlock()

	cutoff := time.Now().Add(-svc.opts.IdleTimeout)
	for _, s := range all {
		var idle bool
		if err := s.do(ctx, func() {
			idle = s.connected == 0 && s.lastActivity.Before(cutoff)
		}); err != nil {
			continue
		}
		if !idle {
			continue
		}
		svc.flushSession(ctx, s)
		svc.mu.Lock()
		delete(svc.sessions, s.id)
		svc.mu.Unlock()
		s.stop()
		log.Printf("idle session evicted id=%s", s.id)
	}
}
