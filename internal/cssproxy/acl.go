package cssproxy

import "sync"

// AllowList is the controller-facing remote-IP allow-list. It supports
// atomic replacement so cmd/cssproxy can hot-reload it from a file
// without restarting the listener.
type AllowList struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

// NewAllowList builds an allow-list from addrs. An empty slice means
// every address is rejected, not every address allowed.
func NewAllowList(addrs []string) *AllowList {
	a := &AllowList{}
	a.Replace(addrs)
	return a
}

// DefaultAllowList matches spec.md §6's default: only localhost.
func DefaultAllowList() *AllowList { return NewAllowList([]string{"127.0.0.1"}) }

func (a *AllowList) Allowed(addr string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.set[addr]
	return ok
}

func (a *AllowList) Replace(addrs []string) {
	set := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		set[addr] = struct{}{}
	}
	a.mu.Lock()
	a.set = set
	a.mu.Unlock()
}
