// Package eligibility decides which messages from a catalog may be shown
// right now. It is a pure filter: no logging, no I/O, no clock access; every
// input it needs (display history, audience state, trigger context) comes in
// through the Context value, which keeps it trivially testable and safe for
// concurrent use.
//
// Filtering runs each message through independent predicates (enabled,
// audience, platform, show-again policy, trigger match) and then sorts the
// survivors by priority. Priority 1 is the highest and larger values are
// lower; 0 means "no priority" and sorts after every explicit value. Ties
// preserve the relative catalog order (stable sort), so backend ordering
// acts as the final tie-break.
package eligibility

import (
	"sort"
	"time"

	"golang.org/x/text/language"

	"github.com/tbourn/go-inapp-engine/internal/domain"
)

// TriggerKind discriminates the reason a re-evaluation is happening.
type TriggerKind string

// Trigger context kinds.
const (
	// KindRoute marks a route change (or periodic/foreground re-evaluation
	// of the current route).
	KindRoute TriggerKind = "route"
	// KindCustom marks a named custom event fired by the host.
	KindCustom TriggerKind = "custom"
)

// TriggerContext is the stimulus being evaluated against message triggers.
type TriggerContext struct {
	Kind TriggerKind
	// Key is the fired event name for KindCustom; unused for KindRoute.
	Key string
}

// RouteChange returns the trigger context for a route-change re-evaluation.
func RouteChange() TriggerContext { return TriggerContext{Kind: KindRoute} }

// CustomEvent returns the trigger context for a named custom event.
func CustomEvent(key string) TriggerContext {
	return TriggerContext{Kind: KindCustom, Key: key}
}

// AudienceState is the client-side audience snapshot messages are matched
// against. Zero values for Device/OS/UserAgent/Locale mean "unknown", which
// passes every corresponding filter list.
type AudienceState struct {
	Subscribed           bool
	NotificationsBlocked bool
	Device               string
	OS                   string
	UserAgent            string
	Locale               language.Tag
}

// Context bundles everything the filter consults besides the catalog.
type Context struct {
	// History maps message ID to the time it was last shown.
	History map[string]time.Time
	// Audience is the current client audience snapshot.
	Audience AudienceState
	// Trigger is the stimulus being evaluated.
	Trigger TriggerContext
}

// Filter returns the messages eligible for the given context, ordered by
// priority. Callers display only the first element; the rest are returned
// for debuggability.
func Filter(catalog domain.Catalog, ctx Context) []domain.Message {
	out := make([]domain.Message, 0, len(catalog))
	for _, m := range catalog {
		if eligible(m, ctx) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Trigger.PriorityRank() < out[j].Trigger.PriorityRank()
	})
	return out
}

// eligible runs all predicates for one message. Predicates are independent;
// the order here is for readability, not correctness.
func eligible(m domain.Message, ctx Context) bool {
	if !m.Enabled {
		return false
	}
	if !audienceMatch(m.Audience, ctx.Audience) {
		return false
	}
	if !platformMatch(m.Audience.Platform) {
		return false
	}
	if !showAgainAllows(m, ctx.History) {
		return false
	}
	return triggerMatch(m.Trigger, ctx.Trigger)
}

// audienceMatch checks the user-type segment plus the device/OS/user-agent
// and language filter lists.
func audienceMatch(a domain.Audience, s AudienceState) bool {
	switch a.UserType {
	case domain.UserTypeAll, "":
		// empty user type on legacy entries targets everyone
	case domain.UserTypeSubscriber:
		if !(s.Subscribed && !s.NotificationsBlocked) {
			return false
		}
	case domain.UserTypeNonSubscriber:
		if s.Subscribed && !s.NotificationsBlocked {
			return false
		}
	case domain.UserTypeNotificationsBlocked:
		if !s.NotificationsBlocked {
			return false
		}
	default:
		return false
	}

	if !listMatch(a.Devices, s.Device) {
		return false
	}
	if !listMatch(a.OSes, s.OS) {
		return false
	}
	if !listMatch(a.UserAgents, s.UserAgent) {
		return false
	}
	return localeMatch(a.Languages, s.Locale)
}

// listMatch passes when the filter list is empty or the attribute is
// unknown; otherwise the attribute must appear in the list.
func listMatch(filter []string, attr string) bool {
	if len(filter) == 0 || attr == "" {
		return true
	}
	for _, f := range filter {
		if f == attr {
			return true
		}
	}
	return false
}

// localeMatch passes when the message has no language targeting or the
// client locale is unknown; otherwise the locale must match one of the
// configured languages at better-than-No confidence.
func localeMatch(langs []string, locale language.Tag) bool {
	if len(langs) == 0 || locale == language.Und {
		return true
	}
	tags := make([]language.Tag, 0, len(langs))
	for _, l := range langs {
		if t, err := language.Parse(l); err == nil {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		return true
	}
	_, _, conf := language.NewMatcher(tags).Match(locale)
	return conf > language.No
}

// platformMatch passes ALL and MOBILE for this (mobile) client; web-only
// messages are excluded. An absent platform on legacy entries passes.
func platformMatch(p domain.Platform) bool {
	switch p {
	case domain.PlatformAll, domain.PlatformMobile, "":
		return true
	default:
		return false
	}
}

// showAgainAllows enforces the repetition policy against display history.
// "never" and "once" both exclude a message whose ID is present in history;
// "always" re-shows freely.
func showAgainAllows(m domain.Message, history map[string]time.Time) bool {
	switch m.Display.ShowAgain {
	case domain.ShowNever, domain.ShowOnce:
		_, shown := history[m.ID]
		return !shown
	default:
		return true
	}
}

// triggerMatch branches on the context kind. Route-change contexts match
// ENTER triggers only. Custom contexts match CUSTOM triggers whose
// configured key OR configured value equals the fired event name; when
// neither custom field is set, the legacy single-string event field is
// compared instead. The key-or-value disjunction mirrors observed caller
// behavior and is kept intentionally.
func triggerMatch(t domain.Trigger, ctx TriggerContext) bool {
	switch ctx.Kind {
	case KindRoute:
		return t.Type == domain.TriggerEnter
	case KindCustom:
		if t.Type != domain.TriggerCustom {
			return false
		}
		if t.CustomKey == "" && t.CustomValue == "" {
			return t.LegacyEvent != "" && t.LegacyEvent == ctx.Key
		}
		return t.CustomKey == ctx.Key || t.CustomValue == ctx.Key
	default:
		return false
	}
}
