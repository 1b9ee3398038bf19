package wc

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketServer is the alternate wall-clock transport for path
// "/wcws" (spec.md §5/§6): a stateless per-message annotator. Each
// inbound JSON object is echoed back with rt/p/mfe/tt (seconds, not
// nanoseconds) stamped on, plus their remoteReceiveTime/precision/
// maxFrequencyError/remoteSendTime aliases, and "t" forced to 1 when
// the client omits it. The client's other fields are left untouched.
type WebSocketServer struct {
	clock        Clock
	precision    float64
	maxFreqError float64
	upgrader     websocket.Upgrader
	log          *slog.Logger
}

func NewWebSocketServer(clock Clock, precision, maxFreqError float64, log *slog.Logger) *WebSocketServer {
	return &WebSocketServer{
		clock:        clock,
		precision:    precision,
		maxFreqError: maxFreqError,
		upgrader:     websocket.Upgrader{ReadBufferSize: 512, WriteBufferSize: 512},
		log:          log,
	}
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("wc: upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		receiveTime := s.clock.Nanos()

		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("wc: malformed request, ignoring", "error", err)
			continue
		}

		if _, ok := msg["t"]; !ok {
			msg["t"] = 1
		}

		rt := float64(receiveTime) / 1e9
		tt := float64(s.clock.Nanos()) / 1e9

		msg["rt"] = rt
		msg["p"] = s.precision
		msg["mfe"] = s.maxFreqError
		msg["tt"] = tt
		msg["remoteReceiveTime"] = rt
		msg["precision"] = s.precision
		msg["maxFrequencyError"] = s.maxFreqError
		msg["remoteSendTime"] = tt

		out, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := ws.WriteMessage(websocket.TextMessage, out); err != nil {
			return
		}
	}
}
