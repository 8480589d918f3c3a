// Package audit keeps a structured trail of every record store
// mutation in a SQLite database, separate from the document itself.
// Recording is best-effort: a failed audit write is logged and the
// mutation proceeds regardless.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Event is one recorded mutation.
type Event struct {
	ID         string          `gorm:"primaryKey" json:"id"`
	Action     string          `json:"action"` // add, update, update-task
	Collection string          `gorm:"index:idx_collection_record" json:"collection"`
	RecordID   string          `gorm:"index:idx_collection_record" json:"record_id"`
	Actor      string          `json:"actor,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty" gorm:"type:text"`
	CreatedAt  time.Time       `gorm:"index" json:"created_at"`
}

// Recorder writes and queries audit events.
type Recorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenDB opens the audit SQLite database at path with the same tuning
// the main store uses.
func OpenDB(path string) (*gorm.DB, error) {
	sqliteDB, err := sql.Open("sqlite", path+"?_journal=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit db: %w", err)
	}

	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit db: %w", err)
	}
	return db, nil
}

// NewRecorder migrates the events table and returns a recorder.
func NewRecorder(db *gorm.DB, log *zap.Logger) (*Recorder, error) {
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit schema: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{db: db, logger: log}, nil
}

// Record appends an event. Satisfies the store's Auditor interface.
func (r *Recorder) Record(action, collection, recordID string, detail any) {
	raw, err := json.Marshal(detail)
	if err != nil {
		r.logger.Warn("Failed to encode audit detail", zap.Error(err))
		raw = nil
	}

	event := &Event{
		ID:         uuid.NewString(),
		Action:     action,
		Collection: collection,
		RecordID:   recordID,
		Detail:     raw,
		CreatedAt:  time.Now(),
	}
	if err := r.db.Create(event).Error; err != nil {
		r.logger.Warn("Failed to record audit event",
			zap.String("action", action),
			zap.String("collection", collection),
			zap.String("record_id", recordID),
			zap.Error(err))
	}
}

// Events returns events newest first, optionally filtered by collection
// and record id.
func (r *Recorder) Events(collection, recordID string, limit int) ([]Event, error) {
	query := r.db.Order("created_at DESC")
	if collection != "" {
		query = query.Where("collection = ?", collection)
	}
	if recordID != "" {
		query = query.Where("record_id = ?", recordID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var events []Event
	err := query.Find(&events).Error
	return events, err
}
