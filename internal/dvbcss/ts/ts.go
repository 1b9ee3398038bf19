// Package ts implements the CSS-TS library server: pushing Control
// Timestamps for timeline selectors CSAs have asked for.
package ts

import "encoding/json"

// ControlTimestamp binds a point on a media timeline to a point on the
// wall clock, plus a speed (spec.md §3). ContentTime nil means the
// timeline is currently unavailable.
type ControlTimestamp struct {
	ContentTime     *int64
	WallClockTime   int64
	SpeedMultiplier float64
}

func (ct ControlTimestamp) MarshalJSON() ([]byte, error) {
	out := struct {
		ContentTime             *int64  `json:"contentTime"`
		WallClockTime           int64   `json:"wallClockTime"`
		TimelineSpeedMultiplier float64 `json:"timelineSpeedMultiplier"`
	}{ct.ContentTime, ct.WallClockTime, ct.SpeedMultiplier}
	return json.Marshal(out)
}

// TimelineSource is the contract a TS Server requires of whatever
// supplies it with Control Timestamps (spec.md §4.1). ProxyTimelineSource
// is the implementation this repo provides.
type TimelineSource interface {
	TimelineSelectorNeeded(selector string)
	TimelineSelectorNotNeeded(selector string)
	RecognisesTimelineSelector(selector string) bool
	GetControlTimestamp(selector string) (ControlTimestamp, bool)
}
