package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"codecollab/internal/collab"
)

// SessionRecord is the durable session metadata. Sessions are archived, not
// hard-deleted.
type SessionRecord struct {
	ID              string `gorm:"primaryKey;size:64"`
	Title           string `gorm:"size:255"`
	Description     string `gorm:"size:1024"`
	Language        string `gorm:"size:32"`
	OwnerID         string `gorm:"size:64;index"`
	MaxParticipants int
	AllowAnonymous  bool
	Archived        bool `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SnapshotRecord is the materialized document at a flushed version, keyed by
// session: one row per session, upserted by the background flusher.
type SnapshotRecord struct {
	SessionID string `gorm:"primaryKey;size:64"`
	Version   uint64
	Content   string `gorm:"type:longtext"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Store struct {
	db *gorm.DB
}

func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return New(db)
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&SessionRecord{}, &SnapshotRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) CreateSession(ctx context.Context, info collab.SessionInfo) error {
	rec := SessionRecord{
		ID:              info.ID,
		Title:           info.Title,
		Description:     info.Description,
		Language:        info.Language,
		OwnerID:         info.OwnerID,
		MaxParticipants: info.MaxParticipants,
		AllowAnonymous:  info.AllowAnonymous,
		CreatedAt:       info.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *Store) GetSession(ctx context.Context, id string) (collab.SessionInfo, bool, error) {
	var rec SessionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return collab.SessionInfo{}, false, collab.ErrNotFound
	}
	if err != nil {
		return collab.SessionInfo{}, false, err
	}
	info := collab.SessionInfo{
		ID:              rec.ID,
		OwnerID:         rec.OwnerID,
		Title:           rec.Title,
		Description:     rec.Description,
		Language:        rec.Language,
		MaxParticipants: rec.MaxParticipants,
		AllowAnonymous:  rec.AllowAnonymous,
		CreatedAt:       rec.CreatedAt,
	}
	return info, rec.Archived, nil
}

func (s *Store) UpdateSettings(ctx context.Context, id string, cfg collab.SessionConfig) error {
	res := s.db.WithContext(ctx).Model(&SessionRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"title":            cfg.Title,
		"description":      cfg.Description,
		"max_participants": cfg.MaxParticipants,
		"allow_anonymous":  cfg.AllowAnonymous,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return collab.ErrNotFound
	}
	return nil
}

func (s *Store) ArchiveSession(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&SessionRecord{}).Where("id = ?", id).Update("archived", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return collab.ErrNotFound
	}
	return nil
}

// SaveSnapshot upserts the snapshot row, never moving the version backwards:
// a slow retry must not clobber a newer flush.
func (s *Store) SaveSnapshot(ctx context.Context, sessionID string, version uint64, content string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec SnapshotRecord
		err := tx.First(&rec, "session_id = ?", sessionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&SnapshotRecord{SessionID: sessionID, Version: version, Content: content}).Error
		}
		if err != nil {
			return err
		}
		if rec.Version >= version {
			return nil
		}
		return tx.Model(&SnapshotRecord{}).Where("session_id = ?", sessionID).Updates(map[string]interface{}{
			"version": version,
			"content": content,
		}).Error
	})
}

func (s *Store) LoadSnapshot(ctx context.Context, sessionID string) (string, uint64, error) {
	var rec SnapshotRecord
	err := s.db.WithContext(ctx).First(&rec, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", 0, collab.ErrSnapshotNotFound
	}
	if err != nil {
		return "", 0, err
	}
	return rec.Content, rec.Version, nil
}
