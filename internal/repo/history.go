// Package repo implements the data persistence layer for the engine, backed
// by GORM. This file provides the display history: one row per message that
// has ever been shown, keyed by message ID.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-inapp-engine/internal/domain"
)

// MarkShown records (or refreshes) the shown timestamp for a message. The
// write happens the instant a display is attempted; render confirmation is
// deliberately not part of the contract.
func MarkShown(ctx context.Context, db *gorm.DB, messageID string, now time.Time) error {
	rec := domain.DisplayRecord{MessageID: messageID, ShownAt: now}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"shown_at"}),
		}).
		Create(&rec).Error
}

// HistorySnapshot returns the full display history as a map from message ID
// to last-shown time, pruning entries older than the retention window first.
// The snapshot is what the eligibility filter consumes.
func HistorySnapshot(ctx context.Context, db *gorm.DB, now time.Time, retention time.Duration) (map[string]time.Time, error) {
	if err := PruneHistory(ctx, db, now, retention); err != nil {
		return nil, err
	}
	var rows []domain.DisplayRecord
	if err := db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		out[r.MessageID] = r.ShownAt
	}
	return out, nil
}

// PruneHistory deletes history rows older than the retention window.
func PruneHistory(ctx context.Context, db *gorm.DB, now time.Time, retention time.Duration) error {
	cutoff := now.Add(-retention)
	return db.WithContext(ctx).
		Where("shown_at < ?", cutoff).
		Delete(&domain.DisplayRecord{}).Error
}

// ClearHistory removes all display history.
func ClearHistory(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Where("1 = 1").Delete(&domain.DisplayRecord{}).Error
}
