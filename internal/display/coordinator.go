// Package display owns the single-message display state machine.
//
// A Coordinator serializes every state transition behind one mutex: at most
// one message is on screen at a time, a second ProcessMessages while a
// message is showing is a no-op (never a queued retry), and dismissal is the
// only path back to Idle. Rendering itself is delegated to a host-provided
// Renderer; the coordinator only decides what to show and records lifecycle
// facts (history write-through, event dispatch).
package display

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-inapp-engine/internal/domain"
	"github.com/tbourn/go-inapp-engine/internal/eligibility"
	"github.com/tbourn/go-inapp-engine/internal/observability"
)

// State is the coordinator's display state.
type State int

// Coordinator states. Dismissing is transient within a Dismiss call; it is
// observable only from concurrent goroutines.
const (
	StateIdle State = iota
	StateDisplaying
	StateDismissing
)

// String implements fmt.Stringer for log fields.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDisplaying:
		return "displaying"
	case StateDismissing:
		return "dismissing"
	default:
		return "unknown"
	}
}

// Renderer presents a message to the user. Implementations belong to the
// host application; a render error means nothing was shown.
type Renderer interface {
	Render(ctx context.Context, msg domain.Message) error
}

// SubscriptionRequester runs the external subscription flow for
// subscribe-type CTA actions. The call blocks until the flow completes or
// the supplied context expires.
type SubscriptionRequester interface {
	RequestSubscription(ctx context.Context) error
}

// Dispatcher delivers lifecycle events (see services.MessageService).
type Dispatcher interface {
	Dispatch(ctx context.Context, kind, messageID string, ctaIndex int) error
}

// History exposes the display history the coordinator reads and writes.
type History interface {
	// Snapshot returns message ID -> last shown time.
	Snapshot(ctx context.Context) (map[string]time.Time, error)
	// MarkShown records a display attempt for the message.
	MarkShown(ctx context.Context, messageID string) error
}

// AudienceProvider exposes externally-owned audience state.
type AudienceProvider interface {
	IsSubscribed() bool
	NotificationsBlocked() bool
}

// Session is the in-memory record of the currently visible message. It is
// exclusively owned by the Coordinator.
type Session struct {
	Message     domain.Message
	PresentedAt time.Time
}

// Coordinator is the display state machine. Construct with New; the zero
// value is not usable.
type Coordinator struct {
	mu          sync.Mutex
	state       State
	session     *Session
	subscribing bool

	renderer   Renderer
	dispatcher Dispatcher
	history    History
	audience   AudienceProvider
	identity   eligibility.AudienceState

	subscribeTimeout time.Duration
	log              zerolog.Logger
	now              func() time.Time
}

// New constructs a Coordinator. identity carries the static client
// attributes (device, OS, user agent, locale) merged into every audience
// snapshot; subscription state is read live from audience.
func New(renderer Renderer, dispatcher Dispatcher, history History, audience AudienceProvider,
	identity eligibility.AudienceState, subscribeTimeout time.Duration, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		state:            StateIdle,
		renderer:         renderer,
		dispatcher:       dispatcher,
		history:          history,
		audience:         audience,
		identity:         identity,
		subscribeTimeout: subscribeTimeout,
		log:              log,
		now:              time.Now,
	}
}

// State returns the current display state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns a copy of the active session, or nil when idle.
func (c *Coordinator) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	cp := *c.session
	return &cp
}

// ProcessMessages evaluates the catalog against the trigger context and, if
// the coordinator is idle and a message is eligible, shows the first one.
// The message is written to history the instant display is attempted, a
// show event is dispatched, and the renderer is invoked outside the state
// lock. Invalid input or a missing renderer degrades to "nothing shown";
// the method never returns an error to its caller.
//
// The return value reports whether a display transition happened.
func (c *Coordinator) ProcessMessages(ctx context.Context, catalog domain.Catalog, trig eligibility.TriggerContext) bool {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return false
	}
	if c.renderer == nil {
		c.mu.Unlock()
		c.log.Warn().Msg("no renderer configured, skipping display")
		return false
	}
	if len(catalog) == 0 {
		c.mu.Unlock()
		return false
	}

	history, err := c.history.Snapshot(ctx)
	if err != nil {
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("display history unavailable, skipping display")
		return false
	}

	eligible := eligibility.Filter(catalog, eligibility.Context{
		History:  history,
		Audience: c.audienceState(),
		Trigger:  trig,
	})
	if len(eligible) == 0 {
		c.mu.Unlock()
		return false
	}

	msg := eligible[0]
	if err := c.history.MarkShown(ctx, msg.ID); err != nil {
		// History write-through is part of the display contract; without it
		// a never-show-again message could repeat forever.
		c.mu.Unlock()
		c.log.Error().Err(err).Str("message_id", msg.ID).Msg("history write failed, skipping display")
		return false
	}

	c.session = &Session{Message: msg, PresentedAt: c.now()}
	c.state = StateDisplaying
	c.mu.Unlock()

	observability.ObserveDisplay()
	c.dispatchAsync(domain.EventShow, msg.ID, 0)
	c.log.Info().Str("message_id", msg.ID).Str("trigger", string(trig.Kind)).Msg("displaying message")

	if err := c.renderer.Render(ctx, msg); err != nil {
		// The message still counts as shown; only the session is torn down.
		c.log.Error().Err(err).Str("message_id", msg.ID).Msg("render failed")
		c.reset(msg.ID)
		return false
	}
	return true
}

// Dismiss tears the active display down and returns to Idle, optionally
// dispatching a close event. It is a no-op unless a message is displaying,
// and is refused while a subscribe flow is in flight so that the deferred
// dismissal stays the only one.
func (c *Coordinator) Dismiss(ctx context.Context, sendCloseEvent bool) bool {
	c.mu.Lock()
	if c.state != StateDisplaying || c.subscribing {
		c.mu.Unlock()
		return false
	}
	c.state = StateDismissing
	msgID := c.session.Message.ID
	c.session = nil
	c.state = StateIdle
	c.mu.Unlock()

	if sendCloseEvent {
		c.dispatchAsync(domain.EventClose, msgID, 0)
	}
	observability.ObserveDismissal()
	c.log.Info().Str("message_id", msgID).Bool("close_event", sendCloseEvent).Msg("message dismissed")
	return true
}

// HandleClose reports an explicit user close (close button or outside tap)
// and dismisses.
func (c *Coordinator) HandleClose(ctx context.Context) bool {
	return c.Dismiss(ctx, true)
}

// HandleCTA reports a CTA click. For subscribe-type actions the dismissal is
// deferred until the external subscription flow completes or times out, so
// exactly one dismissal happens regardless of async completion order. Other
// CTA actions dismiss immediately (without a close event; the click event
// already tells the story).
func (c *Coordinator) HandleCTA(ctx context.Context, ctaIndex int, subscribe bool, subs SubscriptionRequester) bool {
	c.mu.Lock()
	if c.state != StateDisplaying || c.subscribing {
		c.mu.Unlock()
		return false
	}
	msgID := c.session.Message.ID
	if subscribe && subs != nil {
		c.subscribing = true
	}
	c.mu.Unlock()

	c.dispatchAsync(domain.EventCTA, msgID, ctaIndex)

	if subscribe && subs != nil {
		subCtx, cancel := context.WithTimeout(ctx, c.subscribeTimeout)
		err := subs.RequestSubscription(subCtx)
		cancel()
		if err != nil {
			c.log.Warn().Err(err).Str("message_id", msgID).Msg("subscription flow did not complete")
		}
		c.mu.Lock()
		c.subscribing = false
		c.mu.Unlock()
	}
	return c.Dismiss(ctx, false)
}

// dispatchAsync hands an event to the dispatcher without blocking the
// display path. Delivery errors are already retried and logged downstream.
func (c *Coordinator) dispatchAsync(kind, messageID string, ctaIndex int) {
	if c.dispatcher == nil {
		return
	}
	go func() {
		if err := c.dispatcher.Dispatch(context.Background(), kind, messageID, ctaIndex); err != nil {
			c.log.Warn().Err(err).Str("kind", kind).Str("message_id", messageID).Msg("event dispatch failed")
		}
	}()
}

// reset clears the session after a failed render, but only if it still
// belongs to the given message.
func (c *Coordinator) reset(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.session.Message.ID == messageID {
		c.session = nil
		c.state = StateIdle
	}
}

// audienceState merges the static client identity with live subscription
// state.
func (c *Coordinator) audienceState() eligibility.AudienceState {
	s := c.identity
	if c.audience != nil {
		s.Subscribed = c.audience.IsSubscribed()
		s.NotificationsBlocked = c.audience.NotificationsBlocked()
	}
	return s
}
