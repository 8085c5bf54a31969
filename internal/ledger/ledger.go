// Package ledger keeps an append-only audit trail of machine transitions and
// counter resets in a SQLite database.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sweeney/coin-relay/internal/logic"
)

// Kind classifies a ledger entry.
type Kind string

const (
	KindTransition Kind = "transition"
	KindReset      Kind = "reset"
)

// Entry is one ledger row.
type Entry struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	EventID   string    `gorm:"size:36;uniqueIndex"`
	At        time.Time `gorm:"index"`
	Kind      Kind      `gorm:"size:16;index"`
	Cause     string    `gorm:"size:16"`
	FromOn    bool
	ToOn      bool
	FromTotal float64
	ToTotal   float64
	Reason    string `gorm:"size:255"`
	CreatedAt time.Time
}

// TableName pins the table name.
func (Entry) TableName() string {
	return "ledger_entries"
}

// Ledger appends and reads entries.
type Ledger struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

// Open opens (and migrates) the ledger database at dsn.
func Open(dsn string, log *zap.Logger) (*Ledger, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ledger")

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 newGormLogger(log, gormlogger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	log.Info("ledger opened", zap.String("dsn", dsn))
	return &Ledger{db: db, log: log, now: time.Now}, nil
}

// Record appends a committed transition.
func (l *Ledger) Record(tr logic.Transition) error {
	e := Entry{
		EventID:   uuid.NewString(),
		At:        tr.Time,
		Kind:      KindTransition,
		Cause:     string(tr.Cause),
		FromOn:    tr.From.On,
		ToOn:      tr.To.On,
		FromTotal: tr.From.Counter,
		ToTotal:   tr.To.Counter,
	}
	if err := l.db.Create(&e).Error; err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// RecordReset appends a counter reset from prev to zero.
func (l *Ledger) RecordReset(prev logic.MachineState, reason string) error {
	if reason == "" {
		return errors.New("record reset: reason is required")
	}
	e := Entry{
		EventID:   uuid.NewString(),
		At:        l.now(),
		Kind:      KindReset,
		FromOn:    prev.On,
		ToOn:      prev.On,
		FromTotal: prev.Counter,
		ToTotal:   0,
		Reason:    reason,
	}
	if err := l.db.Create(&e).Error; err != nil {
		return fmt.Errorf("record reset: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *Ledger) Recent(limit int) ([]Entry, error) {
	var entries []Entry
	if err := l.db.Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return entries, nil
}

// Observer returns a transition observer that records into the ledger.
// Failures are logged; the ledger never blocks a transition.
func (l *Ledger) Observer() func(logic.Transition) {
	return func(tr logic.Transition) {
		if err := l.Record(tr); err != nil {
			l.log.Error("ledger write failed", zap.Error(err))
		}
	}
}

// Close closes the database.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
