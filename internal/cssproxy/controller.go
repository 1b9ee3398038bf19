package cssproxy

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/bbc-rd/css-proxy/internal/dvbcss/cii"
	"github.com/bbc-rd/css-proxy/internal/dvbcss/ts"
	"github.com/gorilla/websocket"
)

// ControllerEndpoint is the single-connection WebSocket server for path
// "/server" (spec.md §4.2). At most one controller may be connected at
// a time; a second connection attempt is refused at the transport
// level, and only addresses in allowList may connect at all.
type ControllerEndpoint struct {
	mu              sync.Mutex
	writeMu         sync.Mutex
	ws              *websocket.Conn
	initialMessage  string
	cachedSelectors []string
	connected       bool

	allowList *AllowList
	upgrader  websocket.Upgrader
	log       *slog.Logger

	onConnected    func()
	onDisconnected func()
	onUpdate       func(delta cii.CII, ctMap map[string]ts.ControlTimestamp, blockCii *bool)
}

func NewControllerEndpoint(log *slog.Logger, initialMessage string, allowList *AllowList) *ControllerEndpoint {
	return &ControllerEndpoint{
		initialMessage:  initialMessage,
		cachedSelectors: []string{},
		allowList:       allowList,
		upgrader:        websocket.Upgrader{ReadBufferSize: 2048, WriteBufferSize: 2048},
		log:             log,
	}
}

func (e *ControllerEndpoint) SetOnServerConnected(fn func())    { e.onConnected = fn }
func (e *ControllerEndpoint) SetOnServerDisconnected(fn func()) { e.onDisconnected = fn }
func (e *ControllerEndpoint) SetOnUpdate(fn func(delta cii.CII, ctMap map[string]ts.ControlTimestamp, blockCii *bool)) {
	e.onUpdate = fn
}

func (e *ControllerEndpoint) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// ServeHTTP enforces the remote-IP allow-list and the single-connection
// restriction, then upgrades and runs the read loop until disconnect.
func (e *ControllerEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	remoteIP := remoteHost(r.RemoteAddr)
	if !e.allowList.Allowed(remoteIP) {
		err := &ControllerACLReject{RemoteAddr: remoteIP}
		e.log.Debug("controller: rejected by allow-list", "error", err)
		http.NotFound(w, r)
		return
	}

	e.mu.Lock()
	if e.ws != nil {
		e.mu.Unlock()
		http.Error(w, "controller already connected", http.StatusServiceUnavailable)
		return
	}
	e.mu.Unlock()

	ws, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.log.Debug("controller: upgrade failed", "error", err)
		return
	}

	e.mu.Lock()
	if e.ws != nil {
		e.mu.Unlock()
		ws.Close()
		return
	}
	e.ws = ws
	e.connected = true
	initialMessage := e.initialMessage
	selectors := append([]string(nil), e.cachedSelectors...)
	onConnected := e.onConnected
	e.mu.Unlock()

	if initialMessage != "" {
		e.writeRaw(ws, []byte(initialMessage))
	}
	e.SendTimelinesRequest(selectors, selectors, []string{})

	if onConnected != nil {
		onConnected()
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			e.disconnect(ws)
			return
		}
		msg, err := parseControllerMessage(data)
		if err != nil {
			e.log.Warn("controller: malformed message, dropping", "error", err)
			continue
		}
		if onUpdate := e.onUpdate; onUpdate != nil {
			onUpdate(msg.CII, msg.ControlTimestamps, msg.BlockCii)
		}
	}
}

func (e *ControllerEndpoint) disconnect(ws *websocket.Conn) {
	e.mu.Lock()
	if e.ws != ws {
		e.mu.Unlock()
		return
	}
	e.ws = nil
	e.connected = false
	onDisconnected := e.onDisconnected
	e.mu.Unlock()

	ws.Close()
	if onDisconnected != nil {
		onDisconnected()
	}
}

// SendTimelinesRequest replaces cachedSelectors with all (a snapshot
// copy) and sends the add/remove delta, per spec.md §4.2. A no-op while
// disconnected.
func (e *ControllerEndpoint) SendTimelinesRequest(all, added, removed []string) error {
	e.mu.Lock()
	if !e.connected {
		e.mu.Unlock()
		return nil
	}
	e.cachedSelectors = append([]string(nil), all...)
	ws := e.ws
	e.mu.Unlock()

	if added == nil {
		added = []string{}
	}
	if removed == nil {
		removed = []string{}
	}
	data, err := json.Marshal(timelinesRequestMessage{Add: added, Remove: removed})
	if err != nil {
		return err
	}
	return e.writeRaw(ws, data)
}

// UpdateNumberOfSlaves sends the current CSA count to the controller. A
// no-op while disconnected.
func (e *ControllerEndpoint) UpdateNumberOfSlaves(n int) error {
	e.mu.Lock()
	if !e.connected {
		e.mu.Unlock()
		return nil
	}
	ws := e.ws
	e.mu.Unlock()

	data, err := json.Marshal(numberOfSlavesMessage{NrOfSlaves: n})
	if err != nil {
		return err
	}
	return e.writeRaw(ws, data)
}

func (e *ControllerEndpoint) writeRaw(ws *websocket.Conn, data []byte) error {
	e.writeMu.Lock()
	err := ws.WriteMessage(websocket.TextMessage, data)
	e.writeMu.Unlock()

	if err != nil {
		e.disconnect(ws)
		return &ControllerTransportError{Err: err}
	}
	return nil
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
