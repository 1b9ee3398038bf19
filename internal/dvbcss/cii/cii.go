// Package cii implements the CSS-CII message type: the Content
// Identification and other Information record a DVB CSS TV (here, the
// proxy standing in for one) serves to Companion Screen Applications.
package cii

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
)

// fieldState tracks whether a Field carries a real value, is explicitly
// marked OMIT (meaning "do not touch the stored value"), or was never
// mentioned at all.
type fieldState uint8

const (
	stateUndefined fieldState = iota
	stateOmit
	stateSet
)

// Field is an optional CII property. The zero value is undefined (absent).
type Field[T any] struct {
	state fieldState
	val   T
}

// Set returns a Field carrying a concrete value.
func Set[T any](v T) Field[T] { return Field[T]{state: stateSet, val: v} }

// Omit returns the OMIT sentinel: present in a delta, but meaning "leave
// the stored value unchanged."
func Omit[T any]() Field[T] { return Field[T]{state: stateOmit} }

func (f Field[T]) IsDefined() bool { return f.state == stateSet }
func (f Field[T]) IsOmit() bool    { return f.state == stateOmit }
func (f Field[T]) IsPresent() bool { return f.state != stateUndefined }
func (f Field[T]) Value() T        { return f.val }

// TimelineProperties describes the tick rate of an advertised timeline.
type TimelineProperties struct {
	UnitsPerTick   int      `json:"unitsPerTick"`
	UnitsPerSecond int      `json:"unitsPerSecond"`
	Accuracy       *float64 `json:"accuracy,omitempty"`
}

// Timeline is one entry of CII's "timelines" array.
type Timeline struct {
	TimelineSelector   string             `json:"timelineSelector"`
	TimelineProperties TimelineProperties `json:"timelineProperties"`
}

// CII is the record from spec.md §3: a set of independently
// present-or-absent named fields.
type CII struct {
	ProtocolVersion    Field[string]
	ContentId          Field[string]
	ContentIdStatus    Field[string]
	PresentationStatus Field[[]string]
	MrsUrl             Field[string]
	TsUrl              Field[string]
	WcUrl              Field[string]
	TeUrl              Field[string]
	Timelines          Field[[]Timeline]
	Private            Field[[]any]
}

// New returns a CII with protocolVersion defaulted to "1.1", matching
// pydvbcss's default.
func New() CII {
	return CII{ProtocolVersion: Set("1.1")}
}

// DefinedProperties returns the names of fields currently holding a
// concrete value (not absent, not OMIT).
func (c CII) DefinedProperties() []string {
	var names []string
	add := func(name string, present bool) {
		if present {
			names = append(names, name)
		}
	}
	add("protocolVersion", c.ProtocolVersion.IsDefined())
	add("contentId", c.ContentId.IsDefined())
	add("contentIdStatus", c.ContentIdStatus.IsDefined())
	add("presentationStatus", c.PresentationStatus.IsDefined())
	add("mrsUrl", c.MrsUrl.IsDefined())
	add("tsUrl", c.TsUrl.IsDefined())
	add("wcUrl", c.WcUrl.IsDefined())
	add("teUrl", c.TeUrl.IsDefined())
	add("timelines", c.Timelines.IsDefined())
	add("private", c.Private.IsDefined())
	return names
}

// Merge applies delta onto c per spec.md §3: for each field present in
// delta, overwrite c's field unless delta's field is OMIT.
func (c *CII) Merge(delta CII) {
	mergeField(&c.ProtocolVersion, delta.ProtocolVersion)
	mergeField(&c.ContentId, delta.ContentId)
	mergeField(&c.ContentIdStatus, delta.ContentIdStatus)
	mergeField(&c.PresentationStatus, delta.PresentationStatus)
	mergeField(&c.MrsUrl, delta.MrsUrl)
	mergeField(&c.TsUrl, delta.TsUrl)
	mergeField(&c.WcUrl, delta.WcUrl)
	mergeField(&c.TeUrl, delta.TeUrl)
	mergeField(&c.Timelines, delta.Timelines)
	mergeField(&c.Private, delta.Private)
}

func mergeField[T any](dst *Field[T], src Field[T]) {
	if !src.IsPresent() || src.IsOmit() {
		return
	}
	*dst = src
}

// Clone returns a deep-enough copy for diff-snapshot purposes (the
// slice-valued fields are never mutated in place, only replaced, so a
// shallow copy of the struct is sufficient).
func (c CII) Clone() CII { return c }

// Diff returns the subset of fields in c that differ from prev, each
// copied by value; fields unchanged from prev are left undefined so
// they are omitted entirely from the delta. Used for "send only diff."
func (c CII) Diff(prev CII) CII {
	var d CII
	diffField(&d.ProtocolVersion, prev.ProtocolVersion, c.ProtocolVersion)
	diffField(&d.ContentId, prev.ContentId, c.ContentId)
	diffField(&d.ContentIdStatus, prev.ContentIdStatus, c.ContentIdStatus)
	diffField(&d.PresentationStatus, prev.PresentationStatus, c.PresentationStatus)
	diffField(&d.MrsUrl, prev.MrsUrl, c.MrsUrl)
	diffField(&d.TsUrl, prev.TsUrl, c.TsUrl)
	diffField(&d.WcUrl, prev.WcUrl, c.WcUrl)
	diffField(&d.TeUrl, prev.TeUrl, c.TeUrl)
	diffField(&d.Timelines, prev.Timelines, c.Timelines)
	diffField(&d.Private, prev.Private, c.Private)
	return d
}

func diffField[T any](dst *Field[T], prev, cur Field[T]) {
	if !cur.IsDefined() {
		return
	}
	if prev.IsDefined() && reflect.DeepEqual(prev.val, cur.val) {
		return
	}
	*dst = cur
}

// Empty reports whether every field is undefined (used to decide whether
// a diff/push is worth sending at all).
func (c CII) Empty() bool { return len(c.DefinedProperties()) == 0 }

// MarshalJSON emits only the defined fields, e.g. for pushing a full
// snapshot or a diff to a connected CSA.
func (c CII) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 10)
	if c.ProtocolVersion.IsDefined() {
		m["protocolVersion"] = c.ProtocolVersion.Value()
	}
	if c.ContentId.IsDefined() {
		m["contentId"] = c.ContentId.Value()
	}
	if c.ContentIdStatus.IsDefined() {
		m["contentIdStatus"] = c.ContentIdStatus.Value()
	}
	if c.PresentationStatus.IsDefined() {
		m["presentationStatus"] = strings.Join(c.PresentationStatus.Value(), " ")
	}
	if c.MrsUrl.IsDefined() {
		m["mrsUrl"] = c.MrsUrl.Value()
	}
	if c.TsUrl.IsDefined() {
		m["tsUrl"] = c.TsUrl.Value()
	}
	if c.WcUrl.IsDefined() {
		m["wcUrl"] = c.WcUrl.Value()
	}
	if c.TeUrl.IsDefined() {
		m["teUrl"] = c.TeUrl.Value()
	}
	if c.Timelines.IsDefined() {
		m["timelines"] = c.Timelines.Value()
	}
	if c.Private.IsDefined() {
		m["private"] = c.Private.Value()
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes a CII delta as received from the controller.
// presentationStatus arrives as a single space-separated string and is
// split into tokens (spec.md §9/§8 scenario 2).
func (c *CII) UnmarshalJSON(data []byte) error {
	*c = CII{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if v, ok := raw["protocolVersion"]; ok {
		if err := unmarshalStringField(&c.ProtocolVersion, v); err != nil {
			return err
		}
	}
	if v, ok := raw["contentId"]; ok {
		if err := unmarshalStringField(&c.ContentId, v); err != nil {
			return err
		}
	}
	if v, ok := raw["contentIdStatus"]; ok {
		if err := unmarshalStringField(&c.ContentIdStatus, v); err != nil {
			return err
		}
	}
	if v, ok := raw["presentationStatus"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		c.PresentationStatus = Set(strings.Fields(s))
	}
	if v, ok := raw["mrsUrl"]; ok {
		if err := unmarshalStringField(&c.MrsUrl, v); err != nil {
			return err
		}
	}
	if v, ok := raw["tsUrl"]; ok {
		if err := unmarshalStringField(&c.TsUrl, v); err != nil {
			return err
		}
	}
	if v, ok := raw["wcUrl"]; ok {
		if err := unmarshalStringField(&c.WcUrl, v); err != nil {
			return err
		}
	}
	if v, ok := raw["teUrl"]; ok {
		if err := unmarshalStringField(&c.TeUrl, v); err != nil {
			return err
		}
	}
	if v, ok := raw["timelines"]; ok {
		var tl []Timeline
		if err := json.Unmarshal(v, &tl); err != nil {
			return err
		}
		c.Timelines = Set(tl)
	}
	if v, ok := raw["private"]; ok {
		var p []any
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		c.Private = Set(p)
	}
	return nil
}

func unmarshalStringField(f *Field[string], raw json.RawMessage) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	*f = Set(s)
	return nil
}
