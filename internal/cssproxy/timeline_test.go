package cssproxy

import (
	"testing"

	"github.com/bbc-rd/css-proxy/internal/dvbcss/ts"
)

func TestTimelineSelectorNeededIsIdempotent(t *testing.T) {
	p := NewProxyTimelineSource()
	var calls int
	var lastAdded []string
	p.SetOnRequestedTimelinesChanged(func(all, added, removed []string) {
		calls++
		lastAdded = added
	})

	p.TimelineSelectorNeeded("urn:dvb:css:timeline:pts")
	p.TimelineSelectorNeeded("urn:dvb:css:timeline:pts")

	if calls != 1 {
		t.Fatalf("onChanged calls = %d, want exactly 1", calls)
	}
	if len(lastAdded) != 1 || lastAdded[0] != "urn:dvb:css:timeline:pts" {
		t.Errorf("added = %v, want [pts]", lastAdded)
	}
}

func TestRemoveThenNeedForgetsState(t *testing.T) {
	p := NewProxyTimelineSource()
	p.SetOnRequestedTimelinesChanged(func(all, added, removed []string) {})

	p.TimelineSelectorNeeded("pts")
	ctv := int64(99)
	p.TimelinesUpdate(map[string]ts.ControlTimestamp{"pts": {ContentTime: &ctv, WallClockTime: 1}})

	if _, ok := p.GetControlTimestamp("pts"); !ok {
		t.Fatal("expected a stored CT before removal")
	}

	p.TimelineSelectorNotNeeded("pts")
	p.TimelineSelectorNeeded("pts")

	if _, ok := p.GetControlTimestamp("pts"); ok {
		t.Error("expected none after interest churn, got a stored CT")
	}
}

func TestControlTimestampIsolation(t *testing.T) {
	p := NewProxyTimelineSource()
	p.SetOnRequestedTimelinesChanged(func(all, added, removed []string) {})

	p.TimelineSelectorNeeded("temi")
	p.TimelineSelectorNeeded("pts")

	ctv := int64(55)
	p.TimelinesUpdate(map[string]ts.ControlTimestamp{
		"pts": {ContentTime: &ctv, WallClockTime: 1234, SpeedMultiplier: 1.0},
	})

	got, ok := p.GetControlTimestamp("pts")
	if !ok || got.WallClockTime != 1234 || *got.ContentTime != 55 {
		t.Errorf("pts CT = %+v, ok=%v, want (55,1234,1.0)", got, ok)
	}
	if _, ok := p.GetControlTimestamp("temi"); ok {
		t.Error("expected temi to remain none")
	}
}

func TestTimelinesUpdateDropsUnknownSelectors(t *testing.T) {
	p := NewProxyTimelineSource()
	p.SetOnRequestedTimelinesChanged(func(all, added, removed []string) {})

	ctv := int64(1)
	p.TimelinesUpdate(map[string]ts.ControlTimestamp{"never-needed": {ContentTime: &ctv, WallClockTime: 2}})

	if p.RecognisesTimelineSelector("never-needed") {
		t.Error("expected an unneeded selector to never be tracked")
	}
}
