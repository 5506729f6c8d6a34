// Package services – MessageService
//
// This file implements the MessageService, which owns the fetch/cache policy
// for the message catalog and the durable delivery of lifecycle events.
//
// Fetching is conditional: when a fresh validation token exists it is sent
// as If-None-Match, and a 304 answer is satisfied entirely from the cache.
// Any other fetch failure falls back to the cached catalog when one exists
// (stale-but-available), and only surfaces an error when there is nothing
// to fall back on.
//
// Event delivery is at-least-once: every event is recorded in a durable
// queue before the first send attempt, retried a bounded number of times
// with a fixed delay, marked sent only on a confirmed acknowledgment, and
// re-dispatched by FlushPending after a crash.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-inapp-engine/internal/api"
	"github.com/tbourn/go-inapp-engine/internal/domain"
	"github.com/tbourn/go-inapp-engine/internal/observability"
)

// tracer instruments the service entry points.
var tracer = otel.Tracer("github.com/tbourn/go-inapp-engine/internal/services")

// Backend defines the HTTP client contract required by MessageService.
type Backend interface {
	// FetchCatalog performs the conditional catalog GET.
	FetchCatalog(ctx context.Context, etag string) (*api.CatalogResult, error)

	// PostEvent reports one lifecycle action for a message.
	PostEvent(ctx context.Context, action, messageID string) error
}

// Store defines the persistence contract required by MessageService.
// Implementations adapt the repo package free functions (see the engine
// composition root).
type Store interface {
	ReadValidToken(ctx context.Context, db *gorm.DB, now time.Time, ttl time.Duration) (string, error)
	ReadCatalog(ctx context.Context, db *gorm.DB, now time.Time, ttl time.Duration) (domain.Catalog, error)
	WriteCatalog(ctx context.Context, db *gorm.DB, token string, catalog domain.Catalog, now time.Time) error
	EvictCatalog(ctx context.Context, db *gorm.DB) error

	EnqueueEvent(ctx context.Context, db *gorm.DB, kind, messageID string, ctaIndex int, now time.Time) (*domain.PendingEvent, error)
	MarkEventSent(ctx context.Context, db *gorm.DB, id string, now time.Time) error
	ListUnsentEvents(ctx context.Context, db *gorm.DB) ([]domain.PendingEvent, error)
	PurgeDeliveredEvents(ctx context.Context, db *gorm.DB, now time.Time, retention time.Duration) error
}

// MessageService coordinates catalog retrieval with the local cache and
// delivers lifecycle events with bounded retry.
type MessageService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Client is the backend HTTP client.
	Client Backend
	// Repo is the persistence adapter.
	Repo Store

	// CacheTTL is the catalog cache hard expiry.
	CacheTTL time.Duration
	// EventRetention keeps delivered events around before purging.
	EventRetention time.Duration
	// RetryDelay is the fixed wait between delivery attempts.
	RetryDelay time.Duration
	// Retries is the number of additional attempts after the first.
	Retries int

	// Log is the service logger.
	Log zerolog.Logger

	// now is a clock seam for tests.
	now func() time.Time
}

// NewMessageService constructs a MessageService with the given policies.
func NewMessageService(db *gorm.DB, client Backend, repo Store, cacheTTL, eventRetention, retryDelay time.Duration, retries int, log zerolog.Logger) *MessageService {
	return &MessageService{
		DB:             db,
		Client:         client,
		Repo:           repo,
		CacheTTL:       cacheTTL,
		EventRetention: eventRetention,
		RetryDelay:     retryDelay,
		Retries:        retries,
		Log:            log,
		now:            time.Now,
	}
}

// GetMessages returns the current catalog, preferring a conditional fetch
// and degrading to the cached copy on failure. userID identifies the client
// in logs only; the backend scopes the catalog by API token.
//
// Outcomes:
//   - 200: cache updated (when a token is present) and fresh data returned.
//   - 304: cached catalog returned unchanged; an empty catalog (not an
//     error) if the cache has meanwhile been evicted.
//   - other failures: cached catalog when present, otherwise the transport
//     error wrapped with ErrNoCatalog.
func (s *MessageService) GetMessages(ctx context.Context, userID string) (domain.Catalog, error) {
	ctx, span := tracer.Start(ctx, "MessageService.GetMessages")
	defer span.End()
	start := s.now()

	token, err := s.Repo.ReadValidToken(ctx, s.DB, start, s.CacheTTL)
	if err != nil {
		token = ""
	}

	res, err := s.Client.FetchCatalog(ctx, token)
	if err != nil {
		cached, cerr := s.Repo.ReadCatalog(ctx, s.DB, s.now(), s.CacheTTL)
		if cerr == nil {
			s.Log.Warn().Err(err).Str("user_id", userID).
				Int("cached", len(cached)).Msg("catalog fetch failed, serving cached copy")
			observability.ObserveFetch(observability.FetchStaleFallback, s.now().Sub(start))
			return cached, nil
		}
		observability.ObserveFetch(observability.FetchError, s.now().Sub(start))
		span.SetAttributes(attribute.Bool("inapp.fetch_failed", true))
		return nil, errors.Join(ErrNoCatalog, err)
	}

	if res.NotModified {
		cached, cerr := s.Repo.ReadCatalog(ctx, s.DB, s.now(), s.CacheTTL)
		if cerr != nil {
			// 304 against a cache we no longer hold: clear the stored token
			// so the next fetch is unconditional, and report an empty
			// catalog rather than an error.
			_ = s.Repo.EvictCatalog(ctx, s.DB)
			observability.ObserveFetch(observability.FetchNotModified, s.now().Sub(start))
			return domain.Catalog{}, nil
		}
		observability.ObserveFetch(observability.FetchNotModified, s.now().Sub(start))
		return cached, nil
	}

	if res.Token != "" {
		if werr := s.Repo.WriteCatalog(ctx, s.DB, res.Token, res.Messages, s.now()); werr != nil {
			s.Log.Error().Err(werr).Msg("failed to persist catalog cache")
		}
	}
	observability.ObserveFetch(observability.FetchFresh, s.now().Sub(start))
	span.SetAttributes(attribute.Int("inapp.catalog_size", len(res.Messages)))
	return res.Messages, nil
}

// Dispatch records a lifecycle event durably and attempts delivery with the
// configured retry budget. The event is marked sent only on a confirmed
// acknowledgment; on exhaustion it stays queued for FlushPending and
// ErrDispatchExhausted is returned to the logging caller.
func (s *MessageService) Dispatch(ctx context.Context, kind, messageID string, ctaIndex int) error {
	switch kind {
	case domain.EventShow, domain.EventClose, domain.EventCTA:
	default:
		return ErrUnknownEventKind
	}

	ctx, span := tracer.Start(ctx, "MessageService.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("inapp.event_kind", kind))

	ev, err := s.Repo.EnqueueEvent(ctx, s.DB, kind, messageID, ctaIndex, s.now())
	if err != nil {
		return err
	}
	return s.deliver(ctx, ev)
}

// FlushPending re-dispatches events that never got an acknowledgment (for
// example because the process died mid-retry) and purges delivered events
// past the retention window. Individual delivery failures are logged and do
// not stop the flush.
func (s *MessageService) FlushPending(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "MessageService.FlushPending")
	defer span.End()

	rows, err := s.Repo.ListUnsentEvents(ctx, s.DB)
	if err != nil {
		return err
	}
	for i := range rows {
		if err := s.deliver(ctx, &rows[i]); err != nil {
			s.Log.Warn().Err(err).Str("event_id", rows[i].ID).Msg("pending event still undeliverable")
		}
	}
	return s.Repo.PurgeDeliveredEvents(ctx, s.DB, s.now(), s.EventRetention)
}

// ClearCache evicts the catalog cache entirely.
func (s *MessageService) ClearCache(ctx context.Context) error {
	return s.Repo.EvictCatalog(ctx, s.DB)
}

// deliver attempts one event's delivery sequentially: first try plus
// Retries retries separated by RetryDelay. Delivery of one event never
// blocks another; callers run deliver per event.
func (s *MessageService) deliver(ctx context.Context, ev *domain.PendingEvent) error {
	action := ev.Action()
	if action == "" {
		return ErrUnknownEventKind
	}

	var lastErr error
	for attempt := 0; attempt <= s.Retries; attempt++ {
		if attempt > 0 {
			observability.ObserveDispatchRetry()
			select {
			case <-ctx.Done():
				observability.ObserveDispatch(ev.Kind, false)
				return ctx.Err()
			case <-time.After(s.RetryDelay):
			}
		}
		lastErr = s.Client.PostEvent(ctx, action, ev.MessageID)
		if lastErr == nil {
			if err := s.Repo.MarkEventSent(ctx, s.DB, ev.ID, s.now()); err != nil {
				s.Log.Error().Err(err).Str("event_id", ev.ID).Msg("delivered event not marked sent")
			}
			observability.ObserveDispatch(ev.Kind, true)
			return nil
		}
		s.Log.Debug().Err(lastErr).Str("action", action).Int("attempt", attempt+1).Msg("event delivery attempt failed")
	}

	observability.ObserveDispatch(ev.Kind, false)
	s.Log.Error().Err(lastErr).Str("action", action).Str("message_id", ev.MessageID).
		Msg("event delivery failed after retries")
	return errors.Join(ErrDispatchExhausted, lastErr)
}
