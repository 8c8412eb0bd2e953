package arq

import (
	"testing"
	"time"

	"github.com/llsrnet/llsrmac/pkg/llsrpkt"
)

type fakeTransmitter struct {
	sent       []sentFrame
	unacked    []sentFrame
	exhausted  []sentFrame
}

type sentFrame struct {
	class Class
	seq   uint8
	item  Item
}

func (f *fakeTransmitter) Transmit(class Class, seq uint8, item Item) {
	f.sent = append(f.sent, sentFrame{class, seq, item})
}

func (f *fakeTransmitter) TransmitUnacked(dest uint8, payload []byte, seq uint8) {
	f.unacked = append(f.unacked, sentFrame{ClassData, seq, Item{Dest: dest, Payload: payload}})
}

func (f *fakeTransmitter) Exhausted(class Class, seq uint8, item Item) {
	f.exhausted = append(f.exhausted, sentFrame{class, seq, item})
}

func zeroRand() float64 { return 0 }

func newTestConfig() Config {
	return Config{
		BaseTimeout:       10 * time.Millisecond,
		MaxAttempts:       3,
		ExpBackoff:        true,
		BackoffRandomness: 0,
		MaxQueueSize:      4,
	}
}

// TestARQHappyPath reproduces the end-to-end property: node 1 enqueues DATA
// payload [0xAA] toward next_hop 0, the engine emits it, an ack matching
// that transmission returns the channel to idle with no failures recorded.
func TestARQHappyPath(t *testing.T) {
	ft := &fakeTransmitter{}
	e := New(newTestConfig(), ft, zeroRand)

	now := time.Now()
	e.Enqueue(ClassData, Item{Dest: 0, Payload: []byte{0xAA}})
	e.Pump(now)

	if e.State() != StateBusy {
		t.Fatal("expected channel busy after starting transmission")
	}
	if len(ft.sent) != 1 || ft.sent[0].seq != 0 || ft.sent[0].item.Dest != 0 {
		t.Fatalf("unexpected transmit record: %+v", ft.sent)
	}

	if !e.HandleAck(llsrpkt.ProtoData, 0) {
		t.Fatal("expected ack to be accepted")
	}
	if e.State() != StateIdle {
		t.Fatal("expected channel idle after ack")
	}
	if e.FailedARQ != 0 {
		t.Fatalf("FailedARQ = %d, want 0", e.FailedARQ)
	}
}

func TestARQExhaustionDropsAfterMaxAttempts(t *testing.T) {
	ft := &fakeTransmitter{}
	cfg := newTestConfig()
	e := New(cfg, ft, zeroRand)

	now := time.Now()
	e.Enqueue(ClassData, Item{Dest: 0, Payload: []byte{0xAA}})
	e.Pump(now)

	// base=10ms, exp backoff: timeouts are 10ms, 20ms, 40ms before each of
	// the 3 allowed retries; the 4th expiry (after max_attempts retries)
	// drops the packet.
	elapsed := now
	for i := 0; i < cfg.MaxAttempts; i++ {
		elapsed = elapsed.Add(200 * time.Millisecond)
		e.Pump(elapsed)
	}
	elapsed = elapsed.Add(200 * time.Millisecond)
	e.Pump(elapsed)

	if e.State() != StateIdle {
		t.Fatal("expected channel idle after exhaustion")
	}
	if e.FailedARQ != 1 {
		t.Fatalf("FailedARQ = %d, want 1", e.FailedARQ)
	}
	if len(ft.exhausted) != 1 {
		t.Fatalf("expected exactly one Exhausted callback, got %d", len(ft.exhausted))
	}
}

func TestQueuePriorityIsStrict(t *testing.T) {
	ft := &fakeTransmitter{}
	e := New(newTestConfig(), ft, zeroRand)

	e.Enqueue(ClassData, Item{Dest: 9})
	e.Enqueue(ClassMgmt, Item{Dest: 9})
	e.Enqueue(ClassMgmtResp, Item{Dest: 9})

	e.Pump(time.Now())
	if len(ft.sent) != 1 || ft.sent[0].class != ClassMgmtResp {
		t.Fatalf("expected mgmt_resp to be sent first, got %+v", ft.sent)
	}
}

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	ft := &fakeTransmitter{}
	cfg := newTestConfig()
	cfg.MaxQueueSize = 2
	e := New(cfg, ft, zeroRand)

	e.Enqueue(ClassData, Item{Dest: 1})
	e.Enqueue(ClassData, Item{Dest: 2})
	e.Enqueue(ClassData, Item{Dest: 3})

	if e.QueueLen(ClassData) != 2 {
		t.Fatalf("QueueLen = %d, want 2", e.QueueLen(ClassData))
	}
	e.Pump(time.Now())
	if ft.sent[0].item.Dest != 2 {
		t.Fatalf("expected oldest item (dest=1) dropped, got dest=%d sent first", ft.sent[0].item.Dest)
	}
}

func TestHandleAckRejectsWrongClassOrSeq(t *testing.T) {
	ft := &fakeTransmitter{}
	e := New(newTestConfig(), ft, zeroRand)

	e.Enqueue(ClassData, Item{Dest: 0, Payload: []byte{1}})
	e.Pump(time.Now())

	if e.HandleAck(llsrpkt.ProtoMgmt, 0) {
		t.Fatal("ack for wrong protocol should be rejected")
	}
	if e.HandleAck(llsrpkt.ProtoData, 5) {
		t.Fatal("ack with wrong cnt should be rejected")
	}
	if e.State() != StateBusy {
		t.Fatal("channel should remain busy after rejected acks")
	}
}

func TestCounterWrapAndSharedPktCnt(t *testing.T) {
	ft := &fakeTransmitter{}
	e := New(newTestConfig(), ft, zeroRand)
	e.pktCnt = 255

	e.Enqueue(ClassData, Item{Dest: 0})
	e.Pump(time.Now())
	if ft.sent[0].seq != 255 {
		t.Fatalf("first seq = %d, want 255", ft.sent[0].seq)
	}
	if e.pktCnt != 0 {
		t.Fatalf("pktCnt after wrap = %d, want 0", e.pktCnt)
	}

	e.HandleAck(llsrpkt.ProtoData, 255)
	e.Enqueue(ClassMgmtResp, Item{Dest: 0})
	e.Pump(time.Now())
	if ft.sent[1].seq != 0 {
		t.Fatalf("mgmt_resp seq = %d, want 0 (shares pkt_cnt with data)", ft.sent[1].seq)
	}
}
