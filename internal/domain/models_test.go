package domain

import (
	"encoding/json"
	"math"
	"testing"
)

func TestPriorityRank_ZeroSortsLast(t *testing.T) {
	cases := map[int]int{
		0: math.MaxInt,
		1: 1,
		2: 2,
		9: 9,
	}
	for in, want := range cases {
		tr := Trigger{Priority: in}
		if got := tr.PriorityRank(); got != want {
			t.Errorf("PriorityRank(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestMessage_ValidateRequiresID(t *testing.T) {
	m := Message{ID: "m1"}
	if err := m.Validate(); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}
	if err := (Message{}).Validate(); err == nil {
		t.Fatalf("empty ID must fail validation")
	}
}

func TestMessage_DecodesBackendShape(t *testing.T) {
	raw := `{
		"id": "m1",
		"enabled": true,
		"audience": {"userType": "SUBSCRIBER", "platform": "MOBILE", "devices": ["pixel-9"]},
		"trigger": {"type": "CUSTOM", "customTriggerKey": "buy", "priority": 1},
		"display": {"showAgain": "never", "showAfterDelaySeconds": 5},
		"payload": {"layout": "modal"}
	}`
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Audience.UserType != UserTypeSubscriber || m.Audience.Platform != PlatformMobile {
		t.Errorf("audience = %+v", m.Audience)
	}
	if m.Trigger.Type != TriggerCustom || m.Trigger.CustomKey != "buy" || m.Trigger.Priority != 1 {
		t.Errorf("trigger = %+v", m.Trigger)
	}
	if m.Display.ShowAgain != ShowNever || m.Display.ShowAfterDelaySeconds != 5 {
		t.Errorf("display = %+v", m.Display)
	}
	if m.Payload["layout"] != "modal" {
		t.Errorf("payload must pass through opaquely, got %+v", m.Payload)
	}
}

func TestTrigger_LegacyEventUsesDisplayKey(t *testing.T) {
	raw := `{"type": "CUSTOM", "display": "promo"}`
	var tr Trigger
	if err := json.Unmarshal([]byte(raw), &tr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tr.LegacyEvent != "promo" {
		t.Fatalf("LegacyEvent = %q, want promo", tr.LegacyEvent)
	}
}

func TestPendingEvent_ActionWireNames(t *testing.T) {
	cases := []struct {
		ev   PendingEvent
		want string
	}{
		{PendingEvent{Kind: EventShow}, "inapp.show"},
		{PendingEvent{Kind: EventClose}, "inapp.close"},
		{PendingEvent{Kind: EventCTA, CTAIndex: 0}, "inapp.cta.1"},
		{PendingEvent{Kind: EventCTA, CTAIndex: 2}, "inapp.cta.3"},
		{PendingEvent{Kind: "bogus"}, ""},
	}
	for _, tc := range cases {
		if got := tc.ev.Action(); got != tc.want {
			t.Errorf("Action(%s/%d) = %q, want %q", tc.ev.Kind, tc.ev.CTAIndex, got, tc.want)
		}
	}
}
