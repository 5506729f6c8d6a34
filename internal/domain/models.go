// Package domain defines the data model for the in-app message engine: the
// wire-level catalog types received from the backend and the persistence
// models used by the local cache, display history, and pending-event queue.
package domain

import (
	"math"

	"github.com/go-playground/validator/v10"
)

// UserType narrows a message to a segment of the audience.
type UserType string

// Audience user-type values as sent by the backend.
const (
	UserTypeAll                  UserType = "ALL"
	UserTypeSubscriber           UserType = "SUBSCRIBER"
	UserTypeNonSubscriber        UserType = "NON_SUBSCRIBER"
	UserTypeNotificationsBlocked UserType = "NOTIFICATIONS_BLOCKED"
)

// Platform narrows a message to a delivery platform.
type Platform string

// Audience platform values as sent by the backend.
const (
	PlatformAll    Platform = "ALL"
	PlatformWeb    Platform = "WEB"
	PlatformMobile Platform = "MOBILE"
)

// TriggerType identifies the stimulus a message reacts to.
type TriggerType string

// Trigger types as sent by the backend.
const (
	TriggerEnter      TriggerType = "ENTER"
	TriggerCustom     TriggerType = "CUSTOM"
	TriggerScroll     TriggerType = "SCROLL"
	TriggerExitIntent TriggerType = "EXIT_INTENT"
)

// ShowAgainPolicy controls whether an already-shown message may be re-shown.
type ShowAgainPolicy string

// Show-again policies as sent by the backend.
const (
	ShowAlways ShowAgainPolicy = "always"
	ShowOnce   ShowAgainPolicy = "once"
	ShowNever  ShowAgainPolicy = "never"
)

// Audience describes who a message targets. Empty filter lists match
// everything; a populated list requires the corresponding client attribute
// to be present in it.
type Audience struct {
	UserType   UserType `json:"userType"`
	Platform   Platform `json:"platform"`
	Devices    []string `json:"devices,omitempty"`
	OSes       []string `json:"oses,omitempty"`
	UserAgents []string `json:"userAgents,omitempty"`
	Languages  []string `json:"languages,omitempty"`
}

// Trigger describes when a message fires.
//
// CustomKey/CustomValue configure CUSTOM triggers; either one matching the
// fired event name counts as a match. LegacyEvent carries the pre-CUSTOM
// single-string event field still emitted by older catalog entries; it is
// consulted only when both custom fields are empty.
type Trigger struct {
	Type        TriggerType `json:"type"`
	CustomKey   string      `json:"customTriggerKey,omitempty"`
	CustomValue string      `json:"customTriggerValue,omitempty"`
	LegacyEvent string      `json:"display,omitempty"`
	Priority    int         `json:"priority"`
}

// DisplayPolicy controls repetition and host-side presentation delays.
type DisplayPolicy struct {
	ShowAgain             ShowAgainPolicy `json:"showAgain"`
	ShowAfterDelaySeconds int             `json:"showAfterDelaySeconds,omitempty"`
	ShowAfterTimeSeconds  int             `json:"showAfterTimeSeconds,omitempty"`
}

// Message is one in-app message definition as fetched from the backend. It
// is an immutable value; ID is stable across fetches and is the join key for
// all history and cache operations. Payload carries the presentation blob
// (layout, styling, actions, content) untouched; the engine never interprets
// it, the host renderer does.
type Message struct {
	ID       string         `json:"id" validate:"required"`
	Enabled  bool           `json:"enabled"`
	Audience Audience       `json:"audience"`
	Trigger  Trigger        `json:"trigger"`
	Display  DisplayPolicy  `json:"display"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Catalog is the full set of message definitions returned by one fetch.
// Backend ordering is not significant; the eligibility filter re-sorts by
// priority.
type Catalog []Message

// PriorityRank maps the backend priority encoding onto a plain ascending
// sort key. Priority 1 is the highest, larger values are lower, and 0 means
// "no priority" and must sort after every explicit value.
func (t Trigger) PriorityRank() int {
	if t.Priority == 0 {
		return math.MaxInt
	}
	return t.Priority
}

// validate is shared across all Message validations; validator instances
// cache struct metadata and are safe for concurrent use.
var validate = validator.New()

// Validate reports whether the message satisfies the minimal structural
// contract (currently: a non-empty ID). Malformed catalog entries are
// dropped at decode time rather than poisoning the cache.
func (m Message) Validate() error {
	return validate.Struct(m)
}
