package cssproxy

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bbc-rd/css-proxy/internal/dvbcss/cii"
	"github.com/bbc-rd/css-proxy/internal/dvbcss/ts"
)

// controllerMessage is an inbound message parsed off the /server
// WebSocket (spec.md §6): every field optional, missing ones default to
// empty.
type controllerMessage struct {
	CII               cii.CII
	ControlTimestamps map[string]ts.ControlTimestamp
	BlockCii          *bool
}

type wireControllerMessage struct {
	CII               json.RawMessage            `json:"cii"`
	ControlTimestamps map[string]json.RawMessage `json:"controlTimestamps"`
	Options           struct {
		BlockCii *bool `json:"blockCii"`
	} `json:"options"`
}

// wireControlTimestamp mirrors the controller's duck-typed encoding
// (spec.md §9): contentTime/wallClockTime arrive as decimal strings,
// only the speed multiplier is a real JSON number. contentTime absent
// or null means the timeline is unavailable.
type wireControlTimestamp struct {
	ContentTime             *string `json:"contentTime"`
	WallClockTime           string  `json:"wallClockTime"`
	TimelineSpeedMultiplier float64 `json:"timelineSpeedMultiplier"`
}

func parseControllerMessage(data []byte) (controllerMessage, error) {
	var raw wireControllerMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return controllerMessage{}, &MalformedControllerMessage{Err: err}
	}

	var msg controllerMessage
	if len(raw.CII) > 0 {
		if err := json.Unmarshal(raw.CII, &msg.CII); err != nil {
			return controllerMessage{}, &MalformedControllerMessage{Err: fmt.Errorf("cii: %w", err)}
		}
	}
	if len(raw.ControlTimestamps) > 0 {
		msg.ControlTimestamps = make(map[string]ts.ControlTimestamp, len(raw.ControlTimestamps))
		for selector, ctRaw := range raw.ControlTimestamps {
			ct, err := parseControlTimestamp(ctRaw)
			if err != nil {
				return controllerMessage{}, &MalformedControllerMessage{Err: fmt.Errorf("controlTimestamps[%s]: %w", selector, err)}
			}
			msg.ControlTimestamps[selector] = ct
		}
	}
	msg.BlockCii = raw.Options.BlockCii
	return msg, nil
}

func parseControlTimestamp(raw json.RawMessage) (ts.ControlTimestamp, error) {
	var w wireControlTimestamp
	if err := json.Unmarshal(raw, &w); err != nil {
		return ts.ControlTimestamp{}, err
	}

	var contentTime *int64
	if w.ContentTime != nil {
		v, err := strconv.ParseInt(*w.ContentTime, 10, 64)
		if err != nil {
			return ts.ControlTimestamp{}, fmt.Errorf("contentTime: %w", err)
		}
		contentTime = &v
	}

	wallClockTime, err := strconv.ParseInt(w.WallClockTime, 10, 64)
	if err != nil {
		return ts.ControlTimestamp{}, fmt.Errorf("wallClockTime: %w", err)
	}

	return ts.ControlTimestamp{
		ContentTime:     contentTime,
		WallClockTime:   wallClockTime,
		SpeedMultiplier: w.TimelineSpeedMultiplier,
	}, nil
}

type timelinesRequestMessage struct {
	Add    []string `json:"add_timelineSelectors"`
	Remove []string `json:"remove_timelineSelectors"`
}

type numberOfSlavesMessage struct {
	NrOfSlaves int `json:"nrOfSlaves"`
}
