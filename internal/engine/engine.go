// Package engine assembles the in-app message engine into one long-lived
// session object. Hosts construct it once at app start with their
// collaborators (renderer, audience provider, subscription requester) and
// feed it lifecycle stimuli; there is no package-level singleton.
package engine

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-inapp-engine/internal/api"
	"github.com/tbourn/go-inapp-engine/internal/config"
	"github.com/tbourn/go-inapp-engine/internal/display"
	"github.com/tbourn/go-inapp-engine/internal/domain"
	"github.com/tbourn/go-inapp-engine/internal/eligibility"
	"github.com/tbourn/go-inapp-engine/internal/observability"
	"github.com/tbourn/go-inapp-engine/internal/repo"
	"github.com/tbourn/go-inapp-engine/internal/scheduler"
	"github.com/tbourn/go-inapp-engine/internal/services"
	"github.com/tbourn/go-inapp-engine/internal/sysutil"
)

// Options carries the host-provided collaborators.
type Options struct {
	// Renderer presents messages; required for anything to display.
	Renderer display.Renderer
	// Audience exposes live subscription state; nil means "not subscribed,
	// notifications allowed".
	Audience display.AudienceProvider
	// Subscription runs the external subscribe flow for subscribe CTAs;
	// optional.
	Subscription display.SubscriptionRequester
	// UserID identifies the client in logs.
	UserID string
	// Logger overrides the default stderr logger.
	Logger *zerolog.Logger
}

// Engine is the explicit session object owning every engine component.
type Engine struct {
	cfg   config.Config
	db    *gorm.DB
	svc   *services.MessageService
	coord *display.Coordinator
	sched *scheduler.Scheduler
	subs  display.SubscriptionRequester

	userID       string
	log          zerolog.Logger
	shutdownOTel func(context.Context) error
}

// New wires the engine from configuration and host collaborators. It opens
// the local database, runs migrations, and configures logging and tracing,
// but starts no background work; call Start for that.
func New(ctx context.Context, cfg config.Config, opts Options) (*Engine, error) {
	sysutil.SetLogLevel(cfg.LogLevel)
	var log zerolog.Logger
	if opts.Logger != nil {
		log = *opts.Logger
	} else {
		log = sysutil.NewLogger(os.Stderr, cfg.LogPretty)
	}

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, Version)
	if err != nil {
		return nil, err
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, err
	}

	client := api.New(cfg.BaseURL, cfg.APIKey, cfg.CatalogLimit,
		&http.Client{Timeout: cfg.HTTPTimeout}, log)

	svc := services.NewMessageService(db, client, storeShim{},
		cfg.CacheTTL, cfg.EventRetention, cfg.DispatchRetryDelay, cfg.DispatchRetries, log)

	identity := eligibility.AudienceState{
		Device:    cfg.Device,
		OS:        cfg.OS,
		UserAgent: cfg.UserAgent,
	}
	if cfg.Locale != "" {
		if tag, perr := language.Parse(cfg.Locale); perr == nil {
			identity.Locale = tag
		} else {
			log.Warn().Str("locale", cfg.Locale).Msg("unparseable locale, ignoring")
		}
	}

	coord := display.New(opts.Renderer, svc,
		historyShim{db: db, retention: cfg.HistoryRetention},
		opts.Audience, identity, cfg.SubscribeTimeout, log)

	e := &Engine{
		cfg:          cfg,
		db:           db,
		svc:          svc,
		coord:        coord,
		subs:         opts.Subscription,
		userID:       opts.UserID,
		log:          log,
		shutdownOTel: shutdownOTel,
	}
	e.sched = scheduler.New(cfg.RefreshInterval, cfg.RouteRPS, cfg.RouteBurst, e.refresh, log)
	return e, nil
}

// Start flushes events left over from a previous run and launches the
// periodic scheduler. The scheduler stays paused until HandleForeground.
func (e *Engine) Start(ctx context.Context) {
	if err := e.svc.FlushPending(ctx); err != nil {
		e.log.Warn().Err(err).Msg("pending event flush failed")
	}
	e.sched.Start(ctx)
}

// Close stops background work and releases the database and tracer.
func (e *Engine) Close(ctx context.Context) error {
	e.sched.Stop()
	if sqlDB, err := e.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if e.shutdownOTel != nil {
		return e.shutdownOTel(ctx)
	}
	return nil
}

// refresh is the scheduler's refresh cycle: fetch (or fall back to cache)
// and evaluate.
func (e *Engine) refresh(ctx context.Context, trig eligibility.TriggerContext) {
	catalog, err := e.svc.GetMessages(ctx, e.userID)
	if err != nil {
		e.log.Warn().Err(err).Msg("refresh skipped, no catalog available")
		return
	}
	e.coord.ProcessMessages(ctx, catalog, trig)
}

// HandleForeground tells the engine the app became visible. The periodic
// timer resumes and an immediate re-evaluation runs.
func (e *Engine) HandleForeground(ctx context.Context) { e.sched.OnForeground(ctx) }

// HandleBackground suspends periodic refreshes.
func (e *Engine) HandleBackground() { e.sched.OnBackground() }

// HandleRouteChange requests a re-evaluation after navigation.
func (e *Engine) HandleRouteChange(ctx context.Context) bool {
	return e.sched.OnRouteChange(ctx)
}

// HandleCustomTrigger requests a re-evaluation for a named custom event.
func (e *Engine) HandleCustomTrigger(ctx context.Context, key string) bool {
	return e.sched.OnCustomTrigger(ctx, key)
}

// HandleClose reports an explicit close interaction on the visible message.
func (e *Engine) HandleClose(ctx context.Context) bool { return e.coord.HandleClose(ctx) }

// HandleCTA reports a CTA click on the visible message. subscribe routes the
// action through the external subscription flow before dismissal.
func (e *Engine) HandleCTA(ctx context.Context, ctaIndex int, subscribe bool) bool {
	return e.coord.HandleCTA(ctx, ctaIndex, subscribe, e.subs)
}

// DismissMessage dismisses the visible message without a user interaction
// (for example when the host tears the surface down).
func (e *Engine) DismissMessage(ctx context.Context) bool { return e.coord.Dismiss(ctx, false) }

// CurrentMessage returns the visible message, or nil when none is showing.
func (e *Engine) CurrentMessage() *domain.Message {
	if s := e.coord.Current(); s != nil {
		m := s.Message
		return &m
	}
	return nil
}

// ClearCache drops the catalog cache; the next refresh fetches
// unconditionally.
func (e *Engine) ClearCache(ctx context.Context) error { return e.svc.ClearCache(ctx) }

// ClearHistory forgets every recorded display, re-arming never/once
// messages.
func (e *Engine) ClearHistory(ctx context.Context) error {
	return repo.ClearHistory(ctx, e.db)
}

// storeShim adapts the repository free functions to the services.Store
// interface.
type storeShim struct{}

func (storeShim) ReadValidToken(ctx context.Context, db *gorm.DB, now time.Time, ttl time.Duration) (string, error) {
	return repo.ReadValidToken(ctx, db, now, ttl)
}

func (storeShim) ReadCatalog(ctx context.Context, db *gorm.DB, now time.Time, ttl time.Duration) (domain.Catalog, error) {
	return repo.ReadCatalog(ctx, db, now, ttl)
}

func (storeShim) WriteCatalog(ctx context.Context, db *gorm.DB, token string, catalog domain.Catalog, now time.Time) error {
	return repo.WriteCatalog(ctx, db, token, catalog, now)
}

func (storeShim) EvictCatalog(ctx context.Context, db *gorm.DB) error {
	return repo.EvictCatalog(ctx, db)
}

func (storeShim) EnqueueEvent(ctx context.Context, db *gorm.DB, kind, messageID string, ctaIndex int, now time.Time) (*domain.PendingEvent, error) {
	return repo.EnqueueEvent(ctx, db, kind, messageID, ctaIndex, now)
}

func (storeShim) MarkEventSent(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return repo.MarkEventSent(ctx, db, id, now)
}

func (storeShim) ListUnsentEvents(ctx context.Context, db *gorm.DB) ([]domain.PendingEvent, error) {
	return repo.ListUnsentEvents(ctx, db)
}

func (storeShim) PurgeDeliveredEvents(ctx context.Context, db *gorm.DB, now time.Time, retention time.Duration) error {
	return repo.PurgeDeliveredEvents(ctx, db, now, retention)
}

// historyShim adapts the repository history functions to display.History.
type historyShim struct {
	db        *gorm.DB
	retention time.Duration
}

func (h historyShim) Snapshot(ctx context.Context) (map[string]time.Time, error) {
	return repo.HistorySnapshot(ctx, h.db, time.Now(), h.retention)
}

func (h historyShim) MarkShown(ctx context.Context, messageID string) error {
	return repo.MarkShown(ctx, h.db, messageID, time.Now())
}
