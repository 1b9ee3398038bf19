package cii

import "log/slog"

// BlockableServer decorates Server with a "blocking" mode (spec.md
// §4.4): while blocking, field changes accumulate in the stored CII but
// are not pushed to CSAs, so several fields can be changed atomically
// from a CSA's point of view. This is the one piece of the CII surface
// this spec actually covers; Server itself stands in for the "standard
// CII server" library the proxy is built on top of.
type BlockableServer struct {
	*Server
	blocking bool
}

// NewBlockableServer constructs a disabled, unblocked server.
func NewBlockableServer(log *slog.Logger, rewriteHostOnConnect bool) *BlockableServer {
	b := &BlockableServer{Server: NewServer(log, rewriteHostOnConnect)}
	b.Server.handler = b
	return b
}

// SetBlocking toggles blocking mode. Turning blocking off immediately
// flushes the full current CII to every connected CSA.
func (b *BlockableServer) SetBlocking(blocking bool) {
	b.mu.Lock()
	if b.blocking == blocking {
		b.mu.Unlock()
		return
	}
	b.blocking = blocking
	stillBlocking := b.blocking
	b.mu.Unlock()

	if !stillBlocking {
		b.Server.UpdateClients(false)
	}
}

func (b *BlockableServer) Blocking() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blocking
}

// UpdateClients is a no-op while blocking is engaged.
func (b *BlockableServer) UpdateClients(sendOnlyDiff bool) {
	b.mu.Lock()
	blocking := b.blocking
	b.mu.Unlock()
	if blocking {
		return
	}
	b.Server.UpdateClients(sendOnlyDiff)
}

// handleConnect overrides Server's default: while blocking, accept the
// connection but send nothing and seed its "previously sent" snapshot
// with an empty CII, so the first diff sent after unblocking equals the
// entire current state (spec.md §4.4).
func (b *BlockableServer) handleConnect(c *clientConn) {
	b.mu.Lock()
	blocking := b.blocking
	if !blocking {
		b.mu.Unlock()
		b.Server.handleConnect(c)
		return
	}
	b.conns[c] = struct{}{}
	c.prevSent = CII{}
	n := len(b.conns)
	cb := b.onNumClientsChange
	b.mu.Unlock()

	if cb != nil {
		cb(n)
	}
}

func (b *BlockableServer) handleDisconnect(c *clientConn) {
	b.Server.handleDisconnect(c)
}
