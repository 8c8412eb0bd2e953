package mac

import (
	"time"

	"github.com/llsrnet/llsrmac/pkg/arq"
	"github.com/llsrnet/llsrmac/pkg/llsrpkt"
	"github.com/llsrnet/llsrmac/pkg/mgmtagent"
)

// Dispatch decodes one inbound radio frame and routes it to the appropriate
// handler, per spec.md §4.4. The caller must hold the node's mutex.
func (n *Node) Dispatch(frame []byte, now time.Time) {
	p, err := llsrpkt.Decode(frame)
	if err != nil {
		n.metrics.dispatchTotal.dropped.Inc()
		n.log.Debug().Err(err).Msg("dropping malformed frame")
		return
	}

	if src, ok := packetSrc(p); ok && src == n.cfg.Addr {
		n.metrics.dispatchTotal.dropped.Inc()
		n.log.Debug().Msg("dropping self-sourced frame")
		return
	}

	switch pkt := p.(type) {
	case llsrpkt.Beacon:
		n.metrics.dispatchTotal.beacon.Inc()
		n.handleBeacon(pkt, now)
	case llsrpkt.Data:
		n.metrics.dispatchTotal.data.Inc()
		n.handleData(pkt, now)
	case llsrpkt.Mgmt:
		n.metrics.dispatchTotal.mgmt.Inc()
		n.handleMgmt(pkt, now)
	case llsrpkt.MgmtResp:
		n.metrics.dispatchTotal.mgmtResp.Inc()
		n.handleMgmtResp(pkt, now)
	case llsrpkt.Ack:
		n.metrics.dispatchTotal.ack.Inc()
		n.handleAck(pkt)
	}
	n.engine.Pump(now)
}

func packetSrc(p llsrpkt.Packet) (uint8, bool) {
	switch pkt := p.(type) {
	case llsrpkt.Beacon:
		return pkt.Src, true
	case llsrpkt.Data:
		return pkt.Src, true
	case llsrpkt.Mgmt:
		return pkt.Src, true
	case llsrpkt.MgmtResp:
		return pkt.Src, true
	case llsrpkt.Ack:
		return pkt.Src, true
	default:
		return 0, false
	}
}

func (n *Node) handleBeacon(p llsrpkt.Beacon, now time.Time) {
	isNew := n.neighbors.Upsert(p.Src, now, p.HopCount, p.PathQuality)
	if n.sink != nil && isNew {
		n.sink.AddOrReactivate(p.Src, now, n.mib)
	}
	n.recomputeRoute()
}

func (n *Node) handleData(p llsrpkt.Data, now time.Time) {
	nb, known := n.neighbors.Get(p.Src)

	if p.Ctrl == llsrpkt.CtrlARQ {
		if !known {
			n.log.Debug().Uint8("src", p.Src).Msg("dropping ARQ data from unknown neighbor, no ack")
			return
		}
		n.sendAck(p.Src, p.Cnt, llsrpkt.ProtoData)
	}

	isNew := !known || nb.LastPacketNumber != int16(p.Cnt)
	if p.Ctrl == llsrpkt.CtrlARQ && known {
		n.neighbors.SetLastPacketNumber(p.Src, p.Cnt)
	}
	if p.Ctrl == llsrpkt.CtrlARQ && !isNew {
		return
	}

	if n.cfg.Addr == llsrpkt.SinkAddr {
		if n.appOut != nil {
			n.appOut.Deliver(p.Payload)
		}
		return
	}
	n.engine.Enqueue(arq.ClassData, arq.Item{Payload: p.Payload, Forwarded: true})
}

func (n *Node) handleMgmt(p llsrpkt.Mgmt, now time.Time) {
	if n.dup.Seen(p.Origin, p.Track, now) {
		n.sendAck(p.Src, p.Track, llsrpkt.ProtoMgmt)
		return
	}
	n.sendAck(p.Src, p.Track, llsrpkt.ProtoMgmt)

	if p.Dest != n.cfg.Addr {
		n.engine.Enqueue(arq.ClassMgmt, arq.Item{
			Payload:   encodeMgmtFwd(p.Origin, p.Value, p.Dest, p.Opt, p.OID, p.Hash),
			Forwarded: true,
		})
		return
	}

	if !n.verifyMgmtHash(p.Hash, llsrpkt.ProtoMgmt, p.Track, p.Origin, p.Value, p.Dest, p.Opt, p.OID) {
		n.log.Warn().Uint8("origin", p.Origin).Msg("mgmt authentication failure")
		n.enqueueMgmtResp(n.cfg.Addr, p.Track, 1, llsrpkt.ErrAuthFail)
		return
	}

	flag, result := mgmtagent.Execute(&n.mib, p.Opt, p.OID, p.Value)
	n.enqueueMgmtResp(n.cfg.Addr, p.Track, flag, result)
}

func (n *Node) enqueueMgmtResp(origin, track, flag, value uint8) {
	hash := n.mgmtRespHash(flag, origin, track, value)
	n.engine.Enqueue(arq.ClassMgmtResp, arq.Item{
		Payload:   encodeMgmtRespFwd(flag, origin, track, value, hash),
		Forwarded: true,
	})
}

func (n *Node) handleMgmtResp(p llsrpkt.MgmtResp, now time.Time) {
	nb, known := n.neighbors.Get(p.Src)
	if !known {
		n.log.Debug().Uint8("src", p.Src).Msg("dropping mgmt_resp from unknown neighbor")
		return
	}
	n.sendAck(p.Src, p.Cnt, llsrpkt.ProtoMgmtResp)

	isNew := nb.LastPacketNumber != int16(p.Cnt)
	n.neighbors.SetLastPacketNumber(p.Src, p.Cnt)
	if !isNew {
		return
	}

	if n.cfg.Addr == llsrpkt.SinkAddr {
		if n.sink != nil {
			if p.Hash != n.mgmtRespHash(p.Flag, p.Origin, p.Track, p.Value) {
				n.log.Warn().Uint8("origin", p.Origin).Msg("mgmt_resp hash mismatch at sink, discarding")
				return
			}
			n.sink.Process(p.Flag, p.Origin, p.Track, p.Value, now)
		}
		return
	}
	n.engine.Enqueue(arq.ClassMgmtResp, arq.Item{
		Payload:   encodeMgmtRespFwd(p.Flag, p.Origin, p.Track, p.Value, p.Hash),
		Forwarded: true,
	})
}

func (n *Node) handleAck(p llsrpkt.Ack) {
	if p.Dest != n.cfg.Addr {
		return
	}
	n.engine.HandleAck(p.AckedProto, p.Cnt)
}

func (n *Node) sendAck(dest, cnt, ackedProto uint8) {
	n.sendFrame(llsrpkt.Ack{Src: n.cfg.Addr, Dest: dest, Cnt: cnt, AckedProto: ackedProto})
}
