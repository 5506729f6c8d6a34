// Package repo implements the data persistence layer for the engine, backed
// by GORM. This file provides the catalog cache: a single row holding the
// last fetched catalog, its validation token, and the fetch time.
//
// Expiry is enforced on read, not only on write: reading an entry older than
// the TTL evicts it and reports absence, so a stale token can never leak
// into a conditional request. Corrupt cache bodies are likewise evicted
// silently rather than surfaced to callers.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-inapp-engine/internal/domain"
)

// cacheRowID pins the catalog cache to a single row.
const cacheRowID = 1

// ReadValidToken returns the stored validation token if the cache entry is
// still within ttl of its fetch time. An expired entry is evicted as a side
// effect and ErrNotFound is returned.
func ReadValidToken(ctx context.Context, db *gorm.DB, now time.Time, ttl time.Duration) (string, error) {
	var row domain.CatalogCache
	err := db.WithContext(ctx).Where("id = ?", cacheRowID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if now.Sub(row.FetchedAt) > ttl {
		_ = EvictCatalog(ctx, db)
		return "", ErrNotFound
	}
	if row.Token == "" {
		return "", ErrNotFound
	}
	return row.Token, nil
}

// ReadCatalog returns the cached catalog if present and fresh. Expired or
// undecodable entries are evicted and reported as ErrNotFound; decoding
// failures never propagate to the caller.
func ReadCatalog(ctx context.Context, db *gorm.DB, now time.Time, ttl time.Duration) (domain.Catalog, error) {
	var row domain.CatalogCache
	err := db.WithContext(ctx).Where("id = ?", cacheRowID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if now.Sub(row.FetchedAt) > ttl {
		_ = EvictCatalog(ctx, db)
		return nil, ErrNotFound
	}
	var catalog domain.Catalog
	if err := json.Unmarshal(row.Body, &catalog); err != nil {
		_ = EvictCatalog(ctx, db)
		return nil, ErrNotFound
	}
	return catalog, nil
}

// WriteCatalog atomically replaces the cache entry with the given token,
// catalog, and a fetch time of now.
func WriteCatalog(ctx context.Context, db *gorm.DB, token string, catalog domain.Catalog, now time.Time) error {
	body, err := json.Marshal(catalog)
	if err != nil {
		return err
	}
	row := domain.CatalogCache{
		ID:        cacheRowID,
		Token:     token,
		Body:      body,
		FetchedAt: now,
	}
	return db.WithContext(ctx).Save(&row).Error
}

// EvictCatalog clears the cache entry. Evicting an absent entry is not an
// error.
func EvictCatalog(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Delete(&domain.CatalogCache{}, "id = ?", cacheRowID).Error
}
