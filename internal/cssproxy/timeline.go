package cssproxy

import (
	"sync"

	"github.com/bbc-rd/css-proxy/internal/dvbcss/ts"
)

// ProxyTimelineSource implements the ts.TimelineSource contract
// (spec.md §4.1): it tracks which timeline selectors CSAs currently
// need and the last Control Timestamp the controller supplied for
// each, decoupled from when those Control Timestamps get pushed
// downstream (that's ProxyEngine's job).
type ProxyTimelineSource struct {
	mu        sync.Mutex
	selectors map[string]*ts.ControlTimestamp
	onChanged func(all, added, removed []string)
}

func NewProxyTimelineSource() *ProxyTimelineSource {
	return &ProxyTimelineSource{selectors: make(map[string]*ts.ControlTimestamp)}
}

// SetOnRequestedTimelinesChanged registers the callback fired whenever
// the set of needed selectors changes.
func (p *ProxyTimelineSource) SetOnRequestedTimelinesChanged(fn func(all, added, removed []string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChanged = fn
}

func (p *ProxyTimelineSource) TimelineSelectorNeeded(selector string) {
	p.mu.Lock()
	if _, ok := p.selectors[selector]; ok {
		p.mu.Unlock()
		return
	}
	p.selectors[selector] = nil
	all := p.allLocked()
	cb := p.onChanged
	p.mu.Unlock()

	if cb != nil {
		cb(all, []string{selector}, []string{})
	}
}

func (p *ProxyTimelineSource) TimelineSelectorNotNeeded(selector string) {
	p.mu.Lock()
	if _, ok := p.selectors[selector]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.selectors, selector)
	all := p.allLocked()
	cb := p.onChanged
	p.mu.Unlock()

	if cb != nil {
		cb(all, []string{}, []string{selector})
	}
}

func (p *ProxyTimelineSource) RecognisesTimelineSelector(selector string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.selectors[selector]
	return ok
}

func (p *ProxyTimelineSource) GetControlTimestamp(selector string) (ts.ControlTimestamp, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ct, ok := p.selectors[selector]
	if !ok || ct == nil {
		return ts.ControlTimestamp{}, false
	}
	return *ct, true
}

// TimelinesUpdate overwrites the stored Control Timestamp for each
// selector present in the map, per spec.md §4.1: entries for selectors
// no longer of interest are silently dropped. It never triggers a
// client push — the caller (ProxyEngine) does that explicitly.
func (p *ProxyTimelineSource) TimelinesUpdate(updates map[string]ts.ControlTimestamp) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for selector, ct := range updates {
		if _, needed := p.selectors[selector]; !needed {
			continue
		}
		ct := ct
		p.selectors[selector] = &ct
	}
}

func (p *ProxyTimelineSource) allLocked() []string {
	all := make([]string, 0, len(p.selectors))
	for selector := range p.selectors {
		all = append(all, selector)
	}
	return all
}
