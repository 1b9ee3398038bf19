package cii

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBlockingSuppressesUpdateClients(t *testing.T) {
	b := NewBlockableServer(testLogger(), false)
	b.SetEnabled(true)
	b.MutateCII(func(c *CII) { c.ContentId = Set("first") })

	ts := httptest.NewServer(b)
	defer ts.Close()

	ws := dialTestServer(t, ts)
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err != nil {
		t.Fatalf("initial ReadMessage: %v", err)
	}

	b.SetBlocking(true)
	b.MutateCII(func(c *CII) { c.ContentId = Set("second") })
	b.UpdateClients(true)

	ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("expected no message while blocking")
	}
}

func TestUnblockingFlushesFullState(t *testing.T) {
	b := NewBlockableServer(testLogger(), false)
	b.SetEnabled(true)
	b.SetBlocking(true)
	b.MutateCII(func(c *CII) {
		c.ContentId = Set("boingboing")
		c.ContentIdStatus = Set("final")
	})

	ts := httptest.NewServer(b)
	defer ts.Close()

	ws := dialTestServer(t, ts)

	// New connection while blocking gets nothing immediately.
	ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("expected no message to a CSA connecting while blocking")
	}

	b.SetBlocking(false)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage after unblock: %v", err)
	}
	if !strings.Contains(string(data), `"contentId":"boingboing"`) || !strings.Contains(string(data), `"contentIdStatus":"final"`) {
		t.Errorf("flushed message = %s, want full CII", data)
	}
}

func TestBlockingIdempotent(t *testing.T) {
	b := NewBlockableServer(testLogger(), false)
	b.SetBlocking(true)
	b.SetBlocking(true)
	if !b.Blocking() {
		t.Fatal("expected still blocking")
	}
	b.SetBlocking(false)
	b.SetBlocking(false)
	if b.Blocking() {
		t.Fatal("expected unblocked")
	}
}
