package wc

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fixedClock struct{ nanos int64 }

func (c fixedClock) Nanos() int64 { return c.nanos }

func TestWebSocketServerStampsFieldsAndPreservesOriginal(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewWebSocketServer(fixedClock{nanos: 5_000_000_000}, 0.001, 2.5, log)

	ts := httptest.NewServer(s)
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	req, _ := json.Marshal(map[string]any{"t": 1})
	if err := ws.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatalf("write: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var resp map[string]any
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["t"] != float64(1) {
		t.Errorf("t = %v, want original 1 preserved", resp["t"])
	}
	if resp["rt"] != float64(5) {
		t.Errorf("rt = %v, want 5 (seconds, not nanoseconds)", resp["rt"])
	}
	if resp["tt"] != float64(5) {
		t.Errorf("tt = %v, want 5 (seconds, not nanoseconds)", resp["tt"])
	}
	if resp["p"] != 0.001 {
		t.Errorf("p = %v, want 0.001", resp["p"])
	}
	if resp["mfe"] != 2.5 {
		t.Errorf("mfe = %v, want 2.5", resp["mfe"])
	}
	if resp["remoteReceiveTime"] != float64(5) {
		t.Errorf("remoteReceiveTime = %v, want 5", resp["remoteReceiveTime"])
	}
	if resp["remoteSendTime"] != float64(5) {
		t.Errorf("remoteSendTime = %v, want 5", resp["remoteSendTime"])
	}
	if resp["precision"] != 0.001 {
		t.Errorf("precision = %v, want 0.001", resp["precision"])
	}
	if resp["maxFrequencyError"] != 2.5 {
		t.Errorf("maxFrequencyError = %v, want 2.5", resp["maxFrequencyError"])
	}
}

func TestWebSocketServerDefaultsMissingT(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewWebSocketServer(fixedClock{nanos: 1_000_000_000}, 0.001, 2.5, log)

	ts := httptest.NewServer(s)
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	req, _ := json.Marshal(map[string]any{})
	if err := ws.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatalf("write: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var resp map[string]any
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["t"] != float64(1) {
		t.Errorf("t = %v, want defaulted to 1", resp["t"])
	}
}
