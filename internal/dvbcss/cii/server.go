package cii

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// connectHandler is the observer interface a Server notifies about
// client lifecycle. The default behaviour lives on Server itself;
// BlockableServer substitutes its own implementation at construction
// time, per the "explicit observer interfaces" redesign (no cyclic
// who-assigns-whom callback wiring).
type connectHandler interface {
	handleConnect(c *clientConn)
	handleDisconnect(c *clientConn)
}

type clientConn struct {
	ws       *websocket.Conn
	writeMu  sync.Mutex
	prevSent CII
}

func (c *clientConn) send(msg CII) error {
	data, err := msg.MarshalJSON()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Server is the CSS-CII library server: a WebSocket endpoint (path
// "/cii" by convention) any number of CSAs can connect to. It pushes
// the current CII on connect and delta-updates thereafter.
//
// rewriteHostOnConnect reproduces the original's behaviour of
// substituting {{host}} in wcUrl/tsUrl with the address the client
// actually connected through, when no fixed advertise address was
// configured (SPEC_FULL.md §6, Open Question 1).
type Server struct {
	mu                   sync.Mutex
	cii                  CII
	conns                map[*clientConn]struct{}
	enabled              bool
	upgrader             websocket.Upgrader
	handler              connectHandler
	onNumClientsChange   func(int)
	rewriteHostOnConnect bool
	log                  *slog.Logger
}

// NewServer constructs a disabled CII server seeded with New() (only
// protocolVersion defined).
func NewServer(log *slog.Logger, rewriteHostOnConnect bool) *Server {
	s := &Server{
		cii:                  New(),
		conns:                make(map[*clientConn]struct{}),
		upgrader:             websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		rewriteHostOnConnect: rewriteHostOnConnect,
		log:                  log,
	}
	s.handler = s
	return s
}

// SetEnabled enables or disables the server. Disabling drops every
// connected CSA (spec.md §5: enablement transitions cause CSAs to be
// dropped as a pair with the TS server's equivalent transition).
func (s *Server) SetEnabled(enabled bool) {
	s.mu.Lock()
	if s.enabled == enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = enabled
	var toClose []*clientConn
	if !enabled {
		for c := range s.conns {
			toClose = append(toClose, c)
		}
	}
	s.mu.Unlock()

	for _, c := range toClose {
		c.ws.Close()
	}
}

func (s *Server) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetOnNumClientsChange registers the callback invoked whenever a CSA
// connects or disconnects.
func (s *Server) SetOnNumClientsChange(fn func(int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onNumClientsChange = fn
}

// MutateCII runs fn against the stored CII under lock: the single
// mutation point spec.md §9 calls for, so OMIT-merge and blocking gates
// can never be bypassed by a stray direct write.
func (s *Server) MutateCII(fn func(*CII)) {
	s.mu.Lock()
	fn(&s.cii)
	s.mu.Unlock()
}

// CII returns a copy of the currently stored message.
func (s *Server) CII() CII {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cii
}

// NumClients returns the number of currently connected CSAs.
func (s *Server) NumClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// UpdateClients pushes to every connected CSA. When sendOnlyDiff is
// true, each CSA receives only the fields that changed since the last
// message it was sent (spec.md §4.3 step 5).
func (s *Server) UpdateClients(sendOnlyDiff bool) {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	current := s.cii
	conns := make([]*clientConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		toSend := current
		if sendOnlyDiff {
			toSend = current.Diff(c.prevSent)
			if toSend.Empty() {
				continue
			}
		}
		if err := c.send(toSend); err != nil {
			s.log.Warn("cii: failed to push update, closing connection", "error", err)
			c.ws.Close()
			continue
		}
		c.prevSent = current
	}
}

// ServeHTTP upgrades the request to a WebSocket CSA connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		http.Error(w, "cii server disabled", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("cii: upgrade failed", "error", err)
		return
	}

	c := &clientConn{ws: ws}
	host := r.Host
	s.handler.handleConnect(c)
	if s.rewriteHostOnConnect {
		s.rewriteURLsForHost(host)
	}

	go func() {
		defer s.removeAndNotify(c)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) rewriteURLsForHost(host string) {
	s.MutateCII(func(c *CII) {
		if c.TsUrl.IsDefined() {
			c.TsUrl = Set(strings.ReplaceAll(c.TsUrl.Value(), "{{host}}", host))
		}
		if c.WcUrl.IsDefined() {
			c.WcUrl = Set(strings.ReplaceAll(c.WcUrl.Value(), "{{host}}", host))
		}
	})
}

func (s *Server) removeAndNotify(c *clientConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.handler.handleDisconnect(c)
	ws := c.ws
	ws.Close()
}

// handleConnect is the default (non-blocking) connect behaviour:
// register the connection, send the full current CII immediately, and
// remember it as the snapshot future diffs compare against.
func (s *Server) handleConnect(c *clientConn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	current := s.cii
	n := len(s.conns)
	cb := s.onNumClientsChange
	s.mu.Unlock()

	if err := c.send(current); err != nil {
		c.ws.Close()
	} else {
		c.prevSent = current
	}
	if cb != nil {
		cb(n)
	}
}

func (s *Server) handleDisconnect(c *clientConn) {
	s.mu.Lock()
	n := len(s.conns)
	cb := s.onNumClientsChange
	s.mu.Unlock()
	if cb != nil {
		cb(n)
	}
}
