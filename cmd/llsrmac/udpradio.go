package main

import (
	"fmt"
	"net"
)

// udpRadio stands in for the out-of-scope physical-layer radio (spec.md
// §1's HDLC framing, GFSK modem, and audio I/O): every node in a test
// network joins the same UDP multicast group and broadcasts frames to it,
// receiving every other node's frames exactly as nodes on a shared
// wireless medium would, grounded on pkg/nspkt.Listener's
// ListenUDP/ReadFromUDPAddrPort read loop. It exists only to give this
// command something to drive end to end; a production deployment wires
// pkg/llsrnode.Node to a real radio flow graph instead.
type udpRadio struct {
	conn  *net.UDPConn
	group *net.UDPAddr
	out   chan []byte
}

func newUDPRadio(groupAddr string) (*udpRadio, error) {
	group, err := net.ResolveUDPAddr("udp", groupAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve multicast group %q: %w", groupAddr, err)
	}
	conn, err := net.ListenMulticastUDP("udp", nil, group)
	if err != nil {
		return nil, fmt.Errorf("join multicast group %q: %w", groupAddr, err)
	}
	_ = conn.SetReadBuffer(1 << 20)

	r := &udpRadio{conn: conn, group: group, out: make(chan []byte, 64)}
	go r.readLoop()
	return r, nil
}

func (r *udpRadio) readLoop() {
	buf := make([]byte, 1500)
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			close(r.out)
			return
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		select {
		case r.out <- frame:
		default:
			// a full channel means the MAC event loop is backed up; drop
			// the frame rather than block the radio's read loop.
		}
	}
}

// Send implements mac.Radio by broadcasting frame to the multicast group.
func (r *udpRadio) Send(frame []byte) {
	_, _ = r.conn.WriteToUDP(frame, r.group)
}

// Frames returns the channel of inbound frames, for wiring into
// llsrnode.New's radioIn parameter.
func (r *udpRadio) Frames() <-chan []byte { return r.out }

func (r *udpRadio) Close() error { return r.conn.Close() }
