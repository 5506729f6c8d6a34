// Package repo implements the data persistence layer for the engine, backed
// by GORM. This file provides the durable pending-event queue used for
// lifecycle event delivery with at-least-once semantics.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-inapp-engine/internal/domain"
)

// EnqueueEvent inserts a new pending event and returns it. SentAt starts
// nil; it is set only after the backend acknowledges delivery.
func EnqueueEvent(ctx context.Context, db *gorm.DB, kind, messageID string, ctaIndex int, now time.Time) (*domain.PendingEvent, error) {
	ev := &domain.PendingEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		MessageID: messageID,
		CTAIndex:  ctaIndex,
		CreatedAt: now,
	}
	return ev, db.WithContext(ctx).Create(ev).Error
}

// MarkEventSent stamps a confirmed delivery time onto the event.
func MarkEventSent(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.PendingEvent{}).
		Where("id = ?", id).
		Update("sent_at", now).Error
}

// ListUnsentEvents returns events that never received an acknowledgment,
// oldest first, for re-dispatch on engine start.
func ListUnsentEvents(ctx context.Context, db *gorm.DB) ([]domain.PendingEvent, error) {
	var rows []domain.PendingEvent
	err := db.WithContext(ctx).
		Where("sent_at IS NULL").
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// PurgeDeliveredEvents deletes acknowledged events whose SentAt is older
// than the retention window. Unacknowledged events are never purged here.
func PurgeDeliveredEvents(ctx context.Context, db *gorm.DB, now time.Time, retention time.Duration) error {
	cutoff := now.Add(-retention)
	return db.WithContext(ctx).
		Where("sent_at IS NOT NULL AND sent_at < ?", cutoff).
		Delete(&domain.PendingEvent{}).Error
}
