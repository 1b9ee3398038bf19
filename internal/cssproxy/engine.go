package cssproxy

import (
	"encoding/json"
	"log/slog"

	"github.com/bbc-rd/css-proxy/internal/dvbcss/cii"
	"github.com/bbc-rd/css-proxy/internal/dvbcss/ts"
)

// ProxyEngine wires a ControllerEndpoint, a ProxyTimelineSource, and
// the injected CII/TS servers together, owning the CII-pinning and
// enablement-gating policy (spec.md §4.3). It exclusively owns the
// timeline source and controller endpoint it constructs; the CII and
// TS servers are injected and shared with the mounting glue, but only
// the engine mutates them after construction.
type ProxyEngine struct {
	cii            *cii.BlockableServer
	ts             *ts.Server
	timelineSource *ProxyTimelineSource
	controller     *ControllerEndpoint
	tsUrl          string
	wcUrl          string
	log            *slog.Logger
}

// NewProxyEngine seeds ciiServer with tsUrl/wcUrl, wires every
// collaborator, and runs the enablement handler once so CII and TS
// start disabled regardless of what the caller passed in.
func NewProxyEngine(ciiServer *cii.BlockableServer, tsServer *ts.Server, allowList *AllowList, ciiUrl, tsUrl, wcUrl string, log *slog.Logger) *ProxyEngine {
	ciiServer.MutateCII(func(c *cii.CII) {
		c.TsUrl = cii.Set(tsUrl)
		c.WcUrl = cii.Set(wcUrl)
	})

	initialMessage, _ := json.Marshal(map[string]string{"ciiUrl": ciiUrl})
	timelineSource := NewProxyTimelineSource()
	controller := NewControllerEndpoint(log, string(initialMessage), allowList)
	tsServer.AttachTimelineSource(timelineSource)

	e := &ProxyEngine{
		cii:            ciiServer,
		ts:             tsServer,
		timelineSource: timelineSource,
		controller:     controller,
		tsUrl:          tsUrl,
		wcUrl:          wcUrl,
		log:            log,
	}

	timelineSource.SetOnRequestedTimelinesChanged(func(all, added, removed []string) {
		if err := controller.SendTimelinesRequest(all, added, removed); err != nil {
			log.Warn("engine: failed to forward timeline interest change", "error", err)
		}
	})
	ciiServer.SetOnNumClientsChange(e.handleNumClientsChange)
	controller.SetOnUpdate(e.handleUpdate)
	controller.SetOnServerConnected(e.handleEnablement)
	controller.SetOnServerDisconnected(e.handleEnablement)

	e.handleEnablement()

	return e
}

// Controller returns the http.Handler for path "/server".
func (e *ProxyEngine) Controller() *ControllerEndpoint { return e.controller }

// handleNumClientsChange forwards the CSA count to the controller,
// guarding against an injected cii server that misbehaves (spec.md §7).
func (e *ProxyEngine) handleNumClientsChange(n int) {
	if n < 0 {
		err := &LibraryContractViolation{Detail: "cii server reported a negative client count"}
		e.log.Error("engine: injected cii server violated its contract", "error", err)
		return
	}
	if err := e.controller.UpdateNumberOfSlaves(n); err != nil {
		e.log.Warn("engine: failed to forward slave count", "error", err)
	}
}

func (e *ProxyEngine) handleEnablement() {
	connected := e.controller.Connected()
	e.cii.SetEnabled(connected)
	e.ts.SetEnabled(connected)
}

// handleUpdate is the central serialisation point, executing spec.md
// §4.3's eight steps in order.
func (e *ProxyEngine) handleUpdate(delta cii.CII, ctMap map[string]ts.ControlTimestamp, blockCii *bool) {
	delta.TsUrl = cii.Omit[string]()
	delta.WcUrl = cii.Omit[string]()

	if blockCii != nil && *blockCii {
		e.cii.SetBlocking(true)
	}

	e.cii.MutateCII(func(c *cii.CII) { c.Merge(delta) })

	if blockCii != nil && !*blockCii {
		e.cii.SetBlocking(false)
	}

	e.cii.UpdateClients(true)

	e.ts.SetContentId(e.cii.CII().ContentId.Value())

	e.timelineSource.TimelinesUpdate(ctMap)

	e.ts.UpdateAllClients()
}
