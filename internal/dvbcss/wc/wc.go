// Package wc provides the CSS-WC Wall Clock surfaces the proxy exposes:
// a UDP listener and an alternate WebSocket endpoint. Reproducing the
// DVB CSS-WC binary protocol's precision-estimation algorithm is out of
// scope (spec.md §1); both servers here exist to occupy the advertised
// port/path and exercise a plausible request/response shape.
package wc

import "time"

// Clock abstracts the wall clock's time source.
type Clock interface {
	Nanos() int64
}

// SysClock is a Clock backed by the system wall clock
// (time.Now().UnixNano(), Unix epoch nanoseconds).
type SysClock struct{}

func (SysClock) Nanos() int64 { return time.Now().UnixNano() }
