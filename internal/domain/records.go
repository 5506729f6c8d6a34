// Package domain defines the core persistence models for the engine. These
// types are used by GORM for database schema mapping and are shared across
// the repository and service layers.
package domain

import (
	"strconv"
	"time"
)

// CatalogCache is the single stored copy of the last successful catalog
// fetch together with its validation token (ETag) and fetch time. Exactly
// one row exists at a time; a row older than the configured TTL is treated
// as absent and evicted when read.
type CatalogCache struct {
	ID        int       `gorm:"type:INTEGER NOT NULL;primaryKey"`
	Token     string    `gorm:"type:TEXT NOT NULL"`
	Body      []byte    `gorm:"type:BLOB NOT NULL"`
	FetchedAt time.Time `gorm:"type:DATETIME NOT NULL"`
}

// TableName implements the GORM tabler interface.
func (CatalogCache) TableName() string { return "catalog_cache" }

// DisplayRecord marks a message as having been shown, keyed by message ID.
// Presence of a row is the membership test for "never show again"; rows are
// written the instant a display is attempted and pruned opportunistically
// once older than the retention window.
type DisplayRecord struct {
	MessageID string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	ShownAt   time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (DisplayRecord) TableName() string { return "display_history" }

// Event kinds recorded in the pending-event queue.
const (
	EventShow  = "show"
	EventClose = "close"
	EventCTA   = "cta"
)

// PendingEvent is a durable lifecycle-event queue entry. SentAt is set only
// after a confirmed backend acknowledgment; acknowledged rows are kept for a
// retention window after SentAt and then purged, and unacknowledged rows are
// re-dispatched on engine start.
type PendingEvent struct {
	ID        string     `gorm:"type:TEXT NOT NULL;primaryKey"`
	Kind      string     `gorm:"type:TEXT NOT NULL"`
	MessageID string     `gorm:"type:TEXT NOT NULL;index"`
	CTAIndex  int        `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time  `gorm:"type:DATETIME NOT NULL"`
	SentAt    *time.Time `gorm:"type:DATETIME;index"`
}

// TableName implements the GORM tabler interface.
func (PendingEvent) TableName() string { return "pending_events" }

// Action returns the wire-format action name reported to the backend. CTA
// indexes are 0-based in memory and 1-based on the wire.
func (e PendingEvent) Action() string {
	switch e.Kind {
	case EventShow:
		return "inapp.show"
	case EventClose:
		return "inapp.close"
	case EventCTA:
		return "inapp.cta." + strconv.Itoa(e.CTAIndex+1)
	default:
		return ""
	}
}
