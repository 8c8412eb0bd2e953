package mac

import (
	"github.com/llsrnet/llsrmac/pkg/arq"
	"github.com/llsrnet/llsrmac/pkg/llsrpkt"
)

// Transmit implements arq.Transmitter. It is called by the engine from
// inside Pump, which this package always calls with the node's mutex held,
// so it is free to read routing state and write to the radio synchronously.
func (n *Node) Transmit(class arq.Class, seq uint8, item arq.Item) {
	switch class {
	case arq.ClassData:
		n.transmitData(seq, item)
	case arq.ClassMgmt:
		n.transmitMgmt(seq, item)
	case arq.ClassMgmtResp:
		n.transmitMgmtResp(seq, item)
	}
}

// droppedForRoute reports, and logs, whether the current routing state
// forbids sending anything at all: no outbound data or management packet
// leaves a node with path_quality == 0, and hop-by-hop packets never name
// this node itself as next hop (spec.md §4.4's forwarding invariant).
func (n *Node) droppedForRoute(checkNextHop bool) bool {
	if n.route.PathQuality == 0 {
		n.log.Debug().Msg("dropping outbound frame: path quality is zero")
		return true
	}
	if checkNextHop && n.route.NextHop == n.cfg.Addr {
		n.log.Debug().Msg("dropping outbound frame: next hop is self")
		return true
	}
	return false
}

func (n *Node) transmitData(seq uint8, item arq.Item) {
	if n.droppedForRoute(true) {
		return
	}
	n.sendFrame(llsrpkt.Data{
		Src: n.cfg.Addr, Dest: n.route.NextHop, Cnt: seq,
		Ctrl: llsrpkt.CtrlARQ, Payload: item.Payload,
	})
}

func (n *Node) transmitMgmt(seq uint8, item arq.Item) {
	origin, value, dest, opt, oid, hash, ok := decodeMgmtFwd(item.Payload)
	if !ok {
		n.log.Warn().Msg("mgmt queue item has malformed payload")
		return
	}
	if n.droppedForRoute(false) {
		return
	}
	n.sendFrame(llsrpkt.Mgmt{
		Src: n.cfg.Addr, Track: seq, Origin: origin, Value: value,
		Dest: dest, Opt: opt, OID: oid, Hash: hash,
	})
}

func (n *Node) transmitMgmtResp(seq uint8, item arq.Item) {
	flag, origin, track, value, hash, ok := decodeMgmtRespFwd(item.Payload)
	if !ok {
		n.log.Warn().Msg("mgmt_resp queue item has malformed payload")
		return
	}
	if n.droppedForRoute(true) {
		return
	}
	n.sendFrame(llsrpkt.MgmtResp{
		Src: n.cfg.Addr, Dest: n.route.NextHop, Cnt: seq,
		Flag: flag, Origin: origin, Track: track, Value: value, Hash: hash,
	})
}

// TransmitUnacked implements arq.Transmitter for the from_app no-ARQ path.
// The dest parameter is unused: a DATA frame's wire Dest is always the
// current next hop toward the sink, not a caller-supplied final
// destination, since the sink is the only possible destination for
// application data and routing is entirely hop-by-hop (spec.md §4.4).
func (n *Node) TransmitUnacked(dest uint8, payload []byte, seq uint8) {
	_ = dest
	if n.droppedForRoute(true) {
		return
	}
	n.sendFrame(llsrpkt.Data{
		Src: n.cfg.Addr, Dest: n.route.NextHop, Cnt: seq,
		Ctrl: llsrpkt.CtrlNoARQ, Payload: payload,
	})
}

// Exhausted implements arq.Transmitter. Only a non-sink relay's exhausted,
// forwarded MGMT item gets special treatment: it synthesizes an
// "unreachable" MGMT_RESP so the sink's outstanding-command registry
// eventually resolves instead of waiting forever (spec.md §4.3, §7 code 2).
func (n *Node) Exhausted(class arq.Class, seq uint8, item arq.Item) {
	n.log.Debug().Str("class", class.String()).Msg("arq retry budget exhausted, dropping")
	if class != arq.ClassMgmt || !item.Forwarded || n.cfg.Addr == llsrpkt.SinkAddr {
		return
	}
	origin, _, dest, _, _, _, ok := decodeMgmtFwd(item.Payload)
	if !ok {
		return
	}
	hash := n.mgmtRespHash(1, origin, seq, llsrpkt.ErrUnreachable)
	n.engine.Enqueue(arq.ClassMgmtResp, arq.Item{
		Dest:      dest,
		Payload:   encodeMgmtRespFwd(1, origin, seq, llsrpkt.ErrUnreachable, hash),
		Forwarded: true,
	})
}

func (n *Node) sendFrame(p llsrpkt.Packet) {
	frame, err := llsrpkt.Encode(p)
	if err != nil {
		n.log.Warn().Err(err).Msg("failed to encode outbound frame")
		return
	}
	if n.radio != nil {
		n.radio.Send(frame)
	}
}
