package display

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-inapp-engine/internal/domain"
	"github.com/tbourn/go-inapp-engine/internal/eligibility"
)

// ----- Fakes -----

type fakeRenderer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *fakeRenderer) Render(ctx context.Context, msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, msg.ID)
	return r.err
}

func (r *fakeRenderer) renderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type dispatchCall struct {
	kind      string
	messageID string
	ctaIndex  int
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, kind, messageID string, ctaIndex int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatchCall{kind, messageID, ctaIndex})
	return nil
}

func (d *fakeDispatcher) kinds() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	for i, c := range d.calls {
		out[i] = c.kind
	}
	return out
}

func (d *fakeDispatcher) has(kind string) bool {
	for _, k := range d.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

type fakeHistory struct {
	mu      sync.Mutex
	shown   map[string]time.Time
	snapErr error
	markErr error
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{shown: map[string]time.Time{}}
}

func (h *fakeHistory) Snapshot(ctx context.Context) (map[string]time.Time, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.snapErr != nil {
		return nil, h.snapErr
	}
	cp := make(map[string]time.Time, len(h.shown))
	for k, v := range h.shown {
		cp[k] = v
	}
	return cp, nil
}

func (h *fakeHistory) MarkShown(ctx context.Context, messageID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.markErr != nil {
		return h.markErr
	}
	h.shown[messageID] = time.Now()
	return nil
}

func (h *fakeHistory) marked(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.shown[id]
	return ok
}

type fakeAudience struct{ subscribed, blocked bool }

func (a fakeAudience) IsSubscribed() bool         { return a.subscribed }
func (a fakeAudience) NotificationsBlocked() bool { return a.blocked }

type fakeSubs struct {
	started chan struct{}
	release chan struct{}
	err     error
}

func newFakeSubs() *fakeSubs {
	return &fakeSubs{started: make(chan struct{}), release: make(chan struct{})}
}

func (s *fakeSubs) RequestSubscription(ctx context.Context) error {
	close(s.started)
	select {
	case <-s.release:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ----- Helpers -----

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testMsg(id string) domain.Message {
	return domain.Message{
		ID:      id,
		Enabled: true,
		Audience: domain.Audience{
			UserType: domain.UserTypeAll,
			Platform: domain.PlatformAll,
		},
		Trigger: domain.Trigger{Type: domain.TriggerEnter},
		Display: domain.DisplayPolicy{ShowAgain: domain.ShowAlways},
	}
}

func newTestCoordinator(r Renderer, d Dispatcher, h History) *Coordinator {
	return New(r, d, h, fakeAudience{}, eligibility.AudienceState{}, time.Second, zerolog.Nop())
}

// ----- Tests -----

func TestProcessMessages_DisplaysFirstEligible(t *testing.T) {
	r := &fakeRenderer{}
	d := &fakeDispatcher{}
	h := newFakeHistory()
	c := newTestCoordinator(r, d, h)

	catalog := domain.Catalog{testMsg("m1")}
	if !c.ProcessMessages(context.Background(), catalog, eligibility.RouteChange()) {
		t.Fatalf("expected a display transition")
	}
	if c.State() != StateDisplaying {
		t.Fatalf("state = %v, want displaying", c.State())
	}
	if s := c.Current(); s == nil || s.Message.ID != "m1" {
		t.Fatalf("session = %+v, want m1", s)
	}
	if !h.marked("m1") {
		t.Fatalf("history must be marked write-through at display attempt")
	}
	waitFor(t, "show event", func() bool { return d.has(domain.EventShow) })
}

func TestProcessMessages_SecondCallIsNoOp(t *testing.T) {
	r := &fakeRenderer{}
	c := newTestCoordinator(r, &fakeDispatcher{}, newFakeHistory())

	catalog := domain.Catalog{testMsg("m1"), testMsg("m2")}
	first := c.ProcessMessages(context.Background(), catalog, eligibility.RouteChange())
	second := c.ProcessMessages(context.Background(), catalog, eligibility.RouteChange())

	if !first || second {
		t.Fatalf("transitions = (%v, %v), want (true, false)", first, second)
	}
	if r.renderCount() != 1 {
		t.Fatalf("renderer calls = %d, want exactly 1", r.renderCount())
	}
}

func TestProcessMessages_NoEligibleMessage(t *testing.T) {
	c := newTestCoordinator(&fakeRenderer{}, &fakeDispatcher{}, newFakeHistory())

	m := testMsg("m1")
	m.Enabled = false
	if c.ProcessMessages(context.Background(), domain.Catalog{m}, eligibility.RouteChange()) {
		t.Fatalf("nothing eligible, no transition expected")
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %v, want idle", c.State())
	}
}

func TestProcessMessages_NilRendererDegrades(t *testing.T) {
	c := newTestCoordinator(nil, &fakeDispatcher{}, newFakeHistory())
	if c.ProcessMessages(context.Background(), domain.Catalog{testMsg("m1")}, eligibility.RouteChange()) {
		t.Fatalf("no renderer: no transition expected")
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %v, want idle", c.State())
	}
}

func TestProcessMessages_HistoryErrorDegrades(t *testing.T) {
	h := newFakeHistory()
	h.snapErr = errors.New("disk gone")
	c := newTestCoordinator(&fakeRenderer{}, &fakeDispatcher{}, h)

	if c.ProcessMessages(context.Background(), domain.Catalog{testMsg("m1")}, eligibility.RouteChange()) {
		t.Fatalf("history unavailable: no transition expected")
	}
}

func TestProcessMessages_RenderFailureStillCountsAsShown(t *testing.T) {
	r := &fakeRenderer{err: errors.New("surface gone")}
	h := newFakeHistory()
	c := newTestCoordinator(r, &fakeDispatcher{}, h)

	if c.ProcessMessages(context.Background(), domain.Catalog{testMsg("m1")}, eligibility.RouteChange()) {
		t.Fatalf("failed render must not report a display")
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %v, want idle after failed render", c.State())
	}
	// The attempt was made, so the message stays recorded as shown.
	if !h.marked("m1") {
		t.Fatalf("history must keep the display attempt")
	}
}

func TestDismiss_SendsCloseEventOnce(t *testing.T) {
	d := &fakeDispatcher{}
	c := newTestCoordinator(&fakeRenderer{}, d, newFakeHistory())

	c.ProcessMessages(context.Background(), domain.Catalog{testMsg("m1")}, eligibility.RouteChange())
	if !c.Dismiss(context.Background(), true) {
		t.Fatalf("expected dismissal")
	}
	if c.State() != StateIdle || c.Current() != nil {
		t.Fatalf("dismissal must clear the session")
	}
	if c.Dismiss(context.Background(), true) {
		t.Fatalf("second dismissal must be a no-op")
	}
	waitFor(t, "close event", func() bool { return d.has(domain.EventClose) })
}

func TestDismiss_NoOpWhileIdle(t *testing.T) {
	c := newTestCoordinator(&fakeRenderer{}, &fakeDispatcher{}, newFakeHistory())
	if c.Dismiss(context.Background(), true) {
		t.Fatalf("idle dismissal must be a no-op")
	}
}

func TestHandleCTA_DismissesWithoutCloseEvent(t *testing.T) {
	d := &fakeDispatcher{}
	c := newTestCoordinator(&fakeRenderer{}, d, newFakeHistory())

	c.ProcessMessages(context.Background(), domain.Catalog{testMsg("m1")}, eligibility.RouteChange())
	if !c.HandleCTA(context.Background(), 1, false, nil) {
		t.Fatalf("expected CTA handling to dismiss")
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %v, want idle", c.State())
	}
	waitFor(t, "cta event", func() bool { return d.has(domain.EventCTA) })
	if d.has(domain.EventClose) {
		t.Fatalf("CTA dismissal must not emit a close event")
	}
}

func TestHandleCTA_SubscribeDefersDismissal(t *testing.T) {
	d := &fakeDispatcher{}
	c := newTestCoordinator(&fakeRenderer{}, d, newFakeHistory())
	subs := newFakeSubs()

	c.ProcessMessages(context.Background(), domain.Catalog{testMsg("m1")}, eligibility.RouteChange())

	done := make(chan bool, 1)
	go func() { done <- c.HandleCTA(context.Background(), 0, true, subs) }()

	<-subs.started
	// While the subscription flow runs, dismissal is refused.
	if c.Dismiss(context.Background(), true) {
		t.Fatalf("dismissal must be blocked during the subscribe wait")
	}
	if c.State() != StateDisplaying {
		t.Fatalf("message must stay visible during the subscribe wait")
	}

	close(subs.release)
	if !<-done {
		t.Fatalf("deferred dismissal must complete")
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %v, want idle after the flow", c.State())
	}
}

func TestHandleCTA_SubscribeTimeoutStillDismissesOnce(t *testing.T) {
	c := New(&fakeRenderer{}, &fakeDispatcher{}, newFakeHistory(), fakeAudience{},
		eligibility.AudienceState{}, 20*time.Millisecond, zerolog.Nop())
	subs := newFakeSubs() // never released; the context deadline fires

	c.ProcessMessages(context.Background(), domain.Catalog{testMsg("m1")}, eligibility.RouteChange())
	if !c.HandleCTA(context.Background(), 0, true, subs) {
		t.Fatalf("timed-out subscribe flow must still dismiss")
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %v, want idle after timeout", c.State())
	}
}

func TestHandleClose_ReportsAndDismisses(t *testing.T) {
	d := &fakeDispatcher{}
	c := newTestCoordinator(&fakeRenderer{}, d, newFakeHistory())

	c.ProcessMessages(context.Background(), domain.Catalog{testMsg("m1")}, eligibility.RouteChange())
	if !c.HandleClose(context.Background()) {
		t.Fatalf("expected close handling to dismiss")
	}
	waitFor(t, "close event", func() bool { return d.has(domain.EventClose) })
}

func TestAudienceState_MergesLiveSubscription(t *testing.T) {
	h := newFakeHistory()
	c := New(&fakeRenderer{}, &fakeDispatcher{}, h, fakeAudience{subscribed: true},
		eligibility.AudienceState{Device: "pixel-9"}, time.Second, zerolog.Nop())

	m := testMsg("m1")
	m.Audience.UserType = domain.UserTypeSubscriber
	if !c.ProcessMessages(context.Background(), domain.Catalog{m}, eligibility.RouteChange()) {
		t.Fatalf("subscriber message must display for a subscribed audience")
	}
}
