// Package store is the gorm+mysql persistence layer: the durable,
// append-only signed-order log the Venue Gateway writes to before
// dispatch, closed-trade history, and persisted system events for
// Blocked/Fatal error kinds. Adapted from
// internal/db/transaction_recorder.go's MySQLRecorder: gorm.Open +
// AutoMigrate at construction, one exported method per query shape, no
// ORM-magic query builders beyond gorm's Where/Order/Find. Event-sourcing
// beyond this append-only log is explicitly out of scope (spec.md §1).
package store

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kaelstrom/tradecore/internal/signal"
)

// OrderRecord is the durable row the gateway writes before dispatching an
// order, and resolves once the adapter acknowledges it.
type OrderRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	ClientOrderID  string    `gorm:"uniqueIndex;not null"`
	Symbol         string    `gorm:"index;not null"`
	Side           string    `gorm:"not null"`
	SizeUnits      float64   `gorm:"not null"`
	LimitPrice     float64
	SubmittedAt    time.Time `gorm:"index;not null"`
	Resolved       bool      `gorm:"index;not null"`
	ResolvedAt     *time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (OrderRecord) TableName() string { return "signed_orders" }

// TradeRecordRow is the durable row for a single closed TradeRecord.
type TradeRecordRow struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	Symbol     string    `gorm:"index;not null"`
	Direction  string    `gorm:"not null"`
	EntryPrice float64   `gorm:"not null"`
	ExitPrice  float64   `gorm:"not null"`
	PnLUSD     float64   `gorm:"not null"`
	PnLPct     float64   `gorm:"not null"`
	DurationMs int64     `gorm:"not null"`
	ExitReason string    `gorm:"not null"`
	ClosedAt   time.Time `gorm:"index;not null"`
}

func (TradeRecordRow) TableName() string { return "closed_trades" }

// SystemEventRecord is a persisted Blocked/Fatal error-kind event, per
// spec.md §7: "for Blocked/Fatal, a structured event is persisted."
type SystemEventRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Kind      string    `gorm:"index;not null"` // "Blocked" | "Fatal"
	Reason    string    `gorm:"not null"`
	Detail    string    `gorm:"type:text"`
	OccurredAt time.Time `gorm:"index;not null"`
}

func (SystemEventRecord) TableName() string { return "system_events" }

// Store is the gorm-backed persistence layer.
type Store struct {
	db *gorm.DB
}

// Open connects to MySQL via dsn and migrates the schema. dsn format:
// "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local".
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return OpenWithDB(db)
}

// OpenWithDB wraps an already-constructed *gorm.DB and migrates the schema.
func OpenWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&OrderRecord{}, &TradeRecordRow{}, &SystemEventRecord{}); err != nil {
		return nil, fmt.Errorf("store: migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("store: underlying DB: %w", err)
	}
	return sqlDB.Close()
}

// RecordSubmission implements gateway.OrderLog: it durably persists an
// order before the gateway dispatches it to the adapter.
func (s *Store) RecordSubmission(clientOrderID, symbol, side string, size, limitPrice float64, submittedAt time.Time) error {
	record := OrderRecord{
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		SizeUnits:     size,
		LimitPrice:    limitPrice,
		SubmittedAt:   submittedAt,
	}
	if err := s.db.Create(&record).Error; err != nil {
		return fmt.Errorf("store: record submission: %w", err)
	}
	return nil
}

// OpenOrderIDs implements gateway.OrderLog: the client_order_ids not yet
// marked resolved, used by Gateway.Reconcile on restart.
func (s *Store) OpenOrderIDs() ([]string, error) {
	var ids []string
	err := s.db.Model(&OrderRecord{}).Where("resolved = ?", false).Pluck("client_order_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("store: open order ids: %w", err)
	}
	return ids, nil
}

// MarkResolved implements gateway.OrderLog.
func (s *Store) MarkResolved(clientOrderID string) error {
	now := time.Now()
	err := s.db.Model(&OrderRecord{}).Where("client_order_id = ?", clientOrderID).
		Updates(map[string]any{"resolved": true, "resolved_at": &now}).Error
	if err != nil {
		return fmt.Errorf("store: mark resolved: %w", err)
	}
	return nil
}

// RecordTrade persists a closed TradeRecord.
func (s *Store) RecordTrade(trade signal.TradeRecord) error {
	row := TradeRecordRow{
		Symbol:     trade.Symbol,
		Direction:  string(trade.Direction),
		EntryPrice: trade.EntryPrice,
		ExitPrice:  trade.ExitPrice,
		PnLUSD:     trade.PnLUSD,
		PnLPct:     trade.PnLPct,
		DurationMs: trade.DurationMs,
		ExitReason: string(trade.ExitReason),
		ClosedAt:   trade.ClosedAt,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("store: record trade: %w", err)
	}
	return nil
}

// TradesByTimeRange mirrors MySQLRecorder.GetSnapshotsByTimeRange's shape.
func (s *Store) TradesByTimeRange(start, end time.Time) ([]TradeRecordRow, error) {
	var rows []TradeRecordRow
	err := s.db.Where("closed_at BETWEEN ? AND ?", start, end).Order("closed_at ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: trades by time range: %w", err)
	}
	return rows, nil
}

// RecordSystemEvent persists a Blocked/Fatal error-kind event.
func (s *Store) RecordSystemEvent(kind, reason, detail string, occurredAt time.Time) error {
	event := SystemEventRecord{Kind: kind, Reason: reason, Detail: detail, OccurredAt: occurredAt}
	if err := s.db.Create(&event).Error; err != nil {
		return fmt.Errorf("store: record system event: %w", err)
	}
	return nil
}

// UnresolvedSystemEvents returns events newer than since, for startup
// diagnostics.
func (s *Store) UnresolvedSystemEvents(since time.Time) ([]SystemEventRecord, error) {
	var rows []SystemEventRecord
	err := s.db.Where("occurred_at >= ?", since).Order("occurred_at ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: unresolved system events: %w", err)
	}
	return rows, nil
}
