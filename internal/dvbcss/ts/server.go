package ts

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// setupMessage is what a CSA sends on connecting (and any time its
// interest changes): the set of timeline selectors it wants Control
// Timestamps for.
type setupMessage struct {
	TimelineSelectors []string `json:"timelineSelectors"`
}

type outboundMessage struct {
	ContentId  string                      `json:"contentId"`
	Timestamps map[string]*ControlTimestamp `json:"timestamps"`
}

type tsConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	selectors map[string]struct{}
}

func (c *tsConn) send(msg outboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Server is the CSS-TS library server (path "/ts" by convention): it
// accepts Setup messages naming timeline selectors a CSA is interested
// in, forwards that interest to a TimelineSource, and pushes Control
// Timestamps whenever asked to.
type Server struct {
	mu           sync.Mutex
	conns        map[*tsConn]struct{}
	selectorRefs map[string]int
	enabled      bool
	contentId    string
	source       TimelineSource
	upgrader     websocket.Upgrader
	log          *slog.Logger
}

func NewServer(log *slog.Logger) *Server {
	return &Server{
		conns:        make(map[*tsConn]struct{}),
		selectorRefs: make(map[string]int),
		upgrader:     websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		log:          log,
	}
}

// AttachTimelineSource wires in the supplier of Control Timestamps.
// Selector interest registered before the source is attached is not
// forwarded to it; only selectors that become needed afterwards are.
func (s *Server) AttachTimelineSource(src TimelineSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = src
}

func (s *Server) SetContentId(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contentId = id
}

// SetEnabled enables or disables the server. Disabling drops every
// connected CSA and releases all selector interest.
func (s *Server) SetEnabled(enabled bool) {
	s.mu.Lock()
	if s.enabled == enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = enabled
	var toClose []*tsConn
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

func (s *Server) NumClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// UpdateAllClients pushes freshly-fetched Control Timestamps to every
// connected CSA, restricted to the selectors each one asked for.
func (s *Server) UpdateAllClients() {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	src := s.source
	contentId := s.contentId
	conns := make([]*tsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if src == nil {
		return
	}

	for _, c := range conns {
		timestamps := make(map[string]*ControlTimestamp, len(c.selectors))
		for sel := range c.selectors {
			if ct, ok := src.GetControlTimestamp(sel); ok {
				ct := ct
				timestamps[sel] = &ct
			} else {
				timestamps[sel] = nil
			}
		}
		msg := outboundMessage{ContentId: contentId, Timestamps: timestamps}
		if err := c.send(msg); err != nil {
			s.log.Warn("ts: failed to push update, closing connection", "error", err)
			c.ws.Close()
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket CSA connection and
// processes its Setup messages until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		http.Error(w, "ts server disabled", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("ts: upgrade failed", "error", err)
		return
	}

	c := &tsConn{ws: ws, selectors: make(map[string]struct{})}
	defer s.dropConnection(c)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var setup setupMessage
		if err := json.Unmarshal(data, &setup); err != nil {
			s.log.Warn("ts: malformed setup message, ignoring", "error", err)
			continue
		}
		s.applySetup(c, setup.TimelineSelectors)
	}
}

func (s *Server) applySetup(c *tsConn, selectors []string) {
	desired := make(map[string]struct{}, len(selectors))
	for _, sel := range selectors {
		desired[sel] = struct{}{}
	}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	src := s.source
	contentId := s.contentId

	var needed, notNeeded []string
	for sel := range desired {
		if _, had := c.selectors[sel]; !had {
			s.selectorRefs[sel]++
			if s.selectorRefs[sel] == 1 {
				needed = append(needed, sel)
			}
		}
	}
	for sel := range c.selectors {
		if _, still := desired[sel]; !still {
			s.selectorRefs[sel]--
			if s.selectorRefs[sel] <= 0 {
				delete(s.selectorRefs, sel)
				notNeeded = append(notNeeded, sel)
			}
		}
	}
	c.selectors = desired
	s.mu.Unlock()

	if src != nil {
		for _, sel := range needed {
			src.TimelineSelectorNeeded(sel)
		}
		for _, sel := range notNeeded {
			src.TimelineSelectorNotNeeded(sel)
		}
	}

	timestamps := make(map[string]*ControlTimestamp, len(desired))
	for sel := range desired {
		if src != nil {
			if ct, ok := src.GetControlTimestamp(sel); ok {
				ct := ct
				timestamps[sel] = &ct
				continue
			}
		}
		timestamps[sel] = nil
	}
	c.send(outboundMessage{ContentId: contentId, Timestamps: timestamps})
}

func (s *Server) dropConnection(c *tsConn) {
	s.mu.Lock()
	delete(s.conns, c)
	var notNeeded []string
	src := s.source
	for sel := range c.selectors {
		s.selectorRefs[sel]--
		if s.selectorRefs[sel] <= 0 {
			delete(s.selectorRefs, sel)
			notNeeded = append(notNeeded, sel)
		}
	}
	s.mu.Unlock()

	if src != nil {
		for _, sel := range notNeeded {
			src.TimelineSelectorNotNeeded(sel)
		}
	}
	c.ws.Close()
}
