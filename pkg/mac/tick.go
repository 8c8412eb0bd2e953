package mac

import (
	"time"

	"github.com/llsrnet/llsrmac/pkg/arq"
	"github.com/llsrnet/llsrmac/pkg/llsrpkt"
	"github.com/llsrnet/llsrmac/pkg/neighbor"
	"github.com/llsrnet/llsrmac/pkg/sinktable"
)

// ControlTick runs the periodic driver of spec.md §4.5. pollExternal is
// invoked with the sink monitoring table and the tick's timestamp exactly
// once, to let the external-client server service at most one pending
// request without holding the node's mutex any longer than that; it is
// never called on a non-sink node, and may be nil. The caller must hold the
// node's mutex for the duration of the call.
func (n *Node) ControlTick(now time.Time, pollExternal func(*sinktable.Table, time.Time)) {
	n.maybeBeacon(now)
	n.ageNeighbors(now)

	if n.sink != nil {
		if pollExternal != nil {
			pollExternal(n.sink, now)
		}
		for _, m := range n.sink.DrainPending() {
			n.engine.Enqueue(arq.ClassMgmt, arq.Item{
				Payload: encodeMgmtFwd(m.Origin, m.Value, m.Dest, m.Opt, m.OID, m.Hash),
			})
		}
	}

	n.engine.Pump(now)
}

func (n *Node) maybeBeacon(now time.Time) {
	if n.cfg.BroadcastInterval <= 0 {
		return
	}
	if n.cfg.Addr != llsrpkt.SinkAddr && n.route.PathQuality == 0 {
		return
	}
	due := time.Duration(float64(n.cfg.BroadcastInterval) * 2 * n.rand())
	if n.haveBeaconed && now.Sub(n.lastBeaconTime) < due {
		return
	}
	n.sendFrame(llsrpkt.Beacon{Src: n.cfg.Addr, HopCount: n.route.HopCount, PathQuality: n.route.PathQuality})
	n.lastBeaconTime = now
	n.haveBeaconed = true
}

func (n *Node) ageNeighbors(now time.Time) {
	n.neighbors.Age(now, n.cfg.NodeExpiryDelay, func(e neighbor.Entry) {
		if n.sink != nil {
			n.sink.Deactivate(e.Addr)
		}
	})
	n.dup.Prune(now, DedupRetention)
	n.recomputeRoute()
}

// HandleAppData implements the application message port of spec.md §6:
// withARQ selects between the from_app_arq and from_app directions. The caller must
// hold the node's mutex.
func (n *Node) HandleAppData(payload []byte, withARQ bool, now time.Time) {
	if withARQ {
		n.engine.Enqueue(arq.ClassData, arq.Item{Payload: payload})
	} else {
		n.engine.TransmitUnacked(n.route.NextHop, payload)
	}
	n.engine.Pump(now)
}
