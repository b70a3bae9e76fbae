package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/graphrepair/graph"
)

// WorkflowVersion is the SQL row of one checkpoint. The schema is owned by
// internal/migration; AutoMigrate is only used for embedded sqlite setups.
type WorkflowVersion struct {
	ID             uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID      string    `gorm:"column:session_id;type:varchar(255);not null;index:idx_workflow_version_session"`
	WorkflowData   string    `gorm:"column:workflow_data;type:text;not null"`
	WorkflowDataUI *string   `gorm:"column:workflow_data_ui;type:text"`
	Attributes     string    `gorm:"column:attributes;type:text"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
}

// TableName implements gorm's tabler.
func (WorkflowVersion) TableName() string {
	return "workflow_version"
}

func (v *WorkflowVersion) record() *record {
	rec := &record{
		ID:         v.ID,
		SessionID:  v.SessionID,
		Graph:      json.RawMessage(v.WorkflowData),
		Attributes: json.RawMessage(v.Attributes),
		CreatedAt:  v.CreatedAt,
	}
	if v.WorkflowDataUI != nil && *v.WorkflowDataUI != "" {
		rec.Mirror = json.RawMessage(*v.WorkflowDataUI)
	}
	return rec
}

// GormStore is a SQL implementation of Store on top of gorm.
type GormStore struct {
	db       *gorm.DB
	transact TransactFunc
	now      func() time.Time
}

// TransactFunc runs fn inside a transaction. Implementations may retry
// transient failures such as deadlocks.
type TransactFunc func(ctx context.Context, fn func(tx *gorm.DB) error) error

// GormOptions configures NewGormStore.
type GormOptions struct {
	// AutoMigrate creates the table when it does not exist.
	AutoMigrate bool

	// Transact overrides the plain gorm transaction used by UpdateMirror.
	Transact TransactFunc
}

// NewGormStore wraps an open database.
func NewGormStore(db *gorm.DB, opts GormOptions) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: nil database", ErrInvalidInput)
	}
	if opts.AutoMigrate {
		if err := db.AutoMigrate(&WorkflowVersion{}); err != nil {
			return nil, fmt.Errorf("auto migrate workflow_version: %w", err)
		}
	}
	transact := opts.Transact
	if transact == nil {
		transact = func(ctx context.Context, fn func(tx *gorm.DB) error) error {
			return db.WithContext(ctx).Transaction(fn)
		}
	}
	return &GormStore{db: db, transact: transact, now: time.Now}, nil
}

// Save implements Store.
func (s *GormStore) Save(ctx context.Context, sessionID string, g graph.Graph, mirror json.RawMessage, attrs Attributes) (uint64, error) {
	rec, err := newRecord(sessionID, g, mirror, attrs, s.now())
	if err != nil {
		return 0, err
	}

	row := WorkflowVersion{
		SessionID:    rec.SessionID,
		WorkflowData: string(rec.Graph),
		Attributes:   string(rec.Attributes),
		CreatedAt:    rec.CreatedAt,
	}
	if len(rec.Mirror) > 0 {
		ui := string(rec.Mirror)
		row.WorkflowDataUI = &ui
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, unavailable("insert workflow_version", err)
	}
	return row.ID, nil
}

// GetLatest implements Store.
func (s *GormStore) GetLatest(ctx context.Context, sessionID string) (graph.Graph, error) {
	cp, err := s.GetLatestCheckpoint(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return cp.Graph, nil
}

// GetLatestCheckpoint implements Store.
func (s *GormStore) GetLatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	var row WorkflowVersion
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		First(&row).Error
	if err != nil {
		return nil, mapGormError(err)
	}
	return row.record().checkpoint()
}

// GetByID implements Store.
func (s *GormStore) GetByID(ctx context.Context, id uint64) (*Checkpoint, error) {
	var row WorkflowVersion
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, mapGormError(err)
	}
	return row.record().checkpoint()
}

// UpdateMirror implements Store.
func (s *GormStore) UpdateMirror(ctx context.Context, id uint64, mirror json.RawMessage) (bool, error) {
	if len(mirror) > 0 && !json.Valid(mirror) {
		return false, ErrInvalidInput
	}

	var value any = gorm.Expr("NULL")
	if len(mirror) > 0 {
		value = string(mirror)
	}

	err := s.transact(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&WorkflowVersion{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return tx.Model(&WorkflowVersion{}).Where("id = ?", id).Update("workflow_data_ui", value).Error
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("update workflow_data_ui", err)
	}
	return true, nil
}

// List implements Store.
func (s *GormStore) List(ctx context.Context, sessionID string) ([]Meta, error) {
	var rows []WorkflowVersion
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, unavailable("list workflow_version", err)
	}
	out := make([]Meta, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].record().meta())
	}
	return out, nil
}

// Ping implements Store.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close implements Store. The database handle is owned by the caller.
func (s *GormStore) Close() error {
	return nil
}

func mapGormError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return unavailable("query workflow_version", err)
}
