package wc

import (
	"encoding/binary"
	"log/slog"
	"net"
)

// packetSize is a simplified fixed-size WC request/response frame:
// 8 bytes originate timestamp (echoed back verbatim) followed by 8
// bytes this server stamps with its own clock reading on response.
const packetSize = 16

// UDPServer binds a UDP socket and answers WC requests with a
// timestamp stamped from clock. It does not implement the DVB CSS-WC
// precision-estimation algorithm (spec.md §1); it exists to occupy the
// advertised wcUrl port and demonstrate the request/response shape.
type UDPServer struct {
	clock Clock
	log   *slog.Logger
	conn  *net.UDPConn
}

func NewUDPServer(clock Clock, log *slog.Logger) *UDPServer {
	return &UDPServer{clock: clock, log: log}
}

// Start binds addr (e.g. ":6677") and serves until Stop is called.
// It blocks the calling goroutine, matching the errgroup-member shape
// cmd/cssproxy composes it with.
func (s *UDPServer) Start(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	s.conn = conn

	buf := make([]byte, packetSize)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if s.conn == nil {
				return nil // Stop closed the socket; quiet exit.
			}
			return err
		}
		if n < 8 {
			continue
		}
		resp := make([]byte, packetSize)
		copy(resp[:8], buf[:8])
		binary.BigEndian.PutUint64(resp[8:16], uint64(s.clock.Nanos()))
		if _, err := conn.WriteToUDP(resp, remote); err != nil {
			s.log.Debug("wc: udp write failed", "error", err, "remote", remote)
		}
	}
}

// Stop closes the listening socket, unblocking Start.
func (s *UDPServer) Stop() error {
	conn := s.conn
	s.conn = nil
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Addr returns the bound local address, or nil before Start.
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}
