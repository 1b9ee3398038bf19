package cii

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialTestServer(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestServerSendsFullCIIOnConnect(t *testing.T) {
	s := NewServer(testLogger(), false)
	s.SetEnabled(true)
	s.MutateCII(func(c *CII) { c.ContentId = Set("abc") })

	ts := httptest.NewServer(s)
	defer ts.Close()

	ws := dialTestServer(t, ts)
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(data), `"contentId":"abc"`) {
		t.Errorf("first message = %s, want contentId abc", data)
	}
}

func TestServerDisabledRejectsUpgrade(t *testing.T) {
	s := NewServer(testLogger(), false)

	ts := httptest.NewServer(s)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail while disabled")
	}
	if resp == nil || resp.StatusCode != 503 {
		t.Errorf("status = %v, want 503", resp)
	}
}

func TestUpdateClientsSendsDiffOnly(t *testing.T) {
	s := NewServer(testLogger(), false)
	s.SetEnabled(true)
	s.MutateCII(func(c *CII) { c.ContentId = Set("first") })

	ts := httptest.NewServer(s)
	defer ts.Close()

	ws := dialTestServer(t, ts)
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err != nil {
		t.Fatalf("initial ReadMessage: %v", err)
	}

	s.MutateCII(func(c *CII) { c.ContentId = Set("second") })
	s.UpdateClients(true)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("diff ReadMessage: %v", err)
	}
	if string(data) != `{"contentId":"second"}` {
		t.Errorf("diff = %s, want only contentId", data)
	}
}

func TestDisablingClosesConnections(t *testing.T) {
	s := NewServer(testLogger(), false)
	s.SetEnabled(true)

	ts := httptest.NewServer(s)
	defer ts.Close()

	ws := dialTestServer(t, ts)
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	ws.ReadMessage() // drain initial push

	s.SetEnabled(false)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("expected connection to be closed after disable")
	}
	if s.NumClients() != 0 {
		t.Errorf("NumClients = %d, want 0", s.NumClients())
	}
}

func TestOnNumClientsChange(t *testing.T) {
	s := NewServer(testLogger(), false)
	s.SetEnabled(true)

	counts := make(chan int, 4)
	s.SetOnNumClientsChange(func(n int) { counts <- n })

	ts := httptest.NewServer(s)
	defer ts.Close()

	ws := dialTestServer(t, ts)

	select {
	case n := <-counts:
		if n != 1 {
			t.Errorf("count on connect = %d, want 1", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connect callback")
	}

	ws.Close()

	select {
	case n := <-counts:
		if n != 0 {
			t.Errorf("count on disconnect = %d, want 0", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect callback")
	}
}
