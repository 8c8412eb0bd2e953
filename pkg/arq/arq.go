// Package arq implements the stop-and-wait ARQ engine shared by all three
// outbound packet classes: data, management requests, and management
// responses. One channel, three strict-priority queues, exponential or
// linear backoff, and a fixed retry budget.
package arq

import (
	"time"

	"github.com/llsrnet/llsrmac/pkg/llsrpkt"
)

// Class identifies which of the three ARQ-tracked packet classes a queued
// item belongs to.
type Class uint8

const (
	ClassData Class = iota
	ClassMgmt
	ClassMgmtResp
)

func (c Class) String() string {
	switch c {
	case ClassData:
		return "data"
	case ClassMgmt:
		return "mgmt"
	case ClassMgmtResp:
		return "mgmt_resp"
	default:
		return "unknown"
	}
}

func (c Class) proto() uint8 {
	switch c {
	case ClassData:
		return llsrpkt.ProtoData
	case ClassMgmt:
		return llsrpkt.ProtoMgmt
	default:
		return llsrpkt.ProtoMgmtResp
	}
}

// ChannelState is the shared radio channel state driving the FSM.
type ChannelState uint8

const (
	StateIdle ChannelState = iota
	StateBusy
)

// Item is a queued, not-yet-transmitted frame. Payload is opaque to the
// engine: for data it is the application/forwarded byte payload; for mgmt
// and mgmt_resp it is whatever the caller's Transmitter needs to rebuild the
// wire packet for (re)transmission. Forwarded marks an item that originated
// from an inbound packet being relayed rather than locally produced, which
// the mgmt class uses to decide whether retry exhaustion must synthesize an
// "unreachable" response.
type Item struct {
	Dest      uint8
	Payload   []byte
	Forwarded bool

	// Seq is not read by the engine for any class. A ClassMgmt item is
	// sequenced from the engine's own mgmt_track counter at first
	// transmission; that value is passed to Transmit as seq (it becomes
	// the frame's Track, so Track is reassigned on every hop) and is the
	// value the ack must carry. ClassData and ClassMgmtResp use the
	// shared pkt_cnt counter instead.
	Seq uint8
}

// Transmitter performs the actual packet construction and radio send on the
// engine's behalf, and is notified when any item's retry budget is
// exhausted.
type Transmitter interface {
	// Transmit (re)sends item for class using seq as the class's ARQ
	// sequence number.
	Transmit(class Class, seq uint8, item Item)
	// TransmitUnacked sends a one-shot data frame with no ARQ tracking,
	// still consuming the shared pkt_cnt counter.
	TransmitUnacked(dest uint8, payload []byte, seq uint8)
	// Exhausted is called once when item's retry budget runs out.
	Exhausted(class Class, seq uint8, item Item)
}

// Config holds the per-node ARQ parameters from the node constructor.
type Config struct {
	BaseTimeout       time.Duration
	MaxAttempts       int
	ExpBackoff        bool
	BackoffRandomness float64
	MaxQueueSize      int
}

// Engine is the stop-and-wait ARQ state machine. It is not safe for
// concurrent use; callers must hold the owning node's mutex.
type Engine struct {
	cfg  Config
	tx   Transmitter
	rand func() float64

	dataQ, mgmtQ, mgmtRespQ []Item

	state     ChannelState
	lastClass Class
	inFlight  Item

	expectedAck     uint8 // data/mgmt_resp, driven by pktCnt
	mgmtExpectedAck uint8 // mgmt, driven by mgmtTrack

	pktCnt    uint8
	mgmtTrack uint8

	retries int
	txTime  time.Time
	jitter  float64

	Transmitted   uint64
	Retransmitted uint64
	FailedARQ     uint64
}

// New returns an idle engine. rand must return a value in [0, 1); pass
// math/rand's Float64 in production and a fixed function in tests for
// deterministic backoff.
func New(cfg Config, tx Transmitter, rand func() float64) *Engine {
	return &Engine{cfg: cfg, tx: tx, rand: rand}
}

// State reports the current channel state.
func (e *Engine) State() ChannelState { return e.state }

// QueueLen returns the number of items waiting in class's queue, not
// counting any item currently in flight.
func (e *Engine) QueueLen(class Class) int {
	return len(*e.queueFor(class))
}

func (e *Engine) queueFor(class Class) *[]Item {
	switch class {
	case ClassMgmt:
		return &e.mgmtQ
	case ClassMgmtResp:
		return &e.mgmtRespQ
	default:
		return &e.dataQ
	}
}

// Enqueue appends item to class's queue, dropping the oldest queued item if
// the queue is already at MaxQueueSize.
func (e *Engine) Enqueue(class Class, item Item) {
	q := e.queueFor(class)
	*q = append(*q, item)
	if len(*q) > e.cfg.MaxQueueSize {
		*q = (*q)[1:]
	}
}

// TransmitUnacked sends a one-shot, unacknowledged data frame outside the
// queue and retry machinery, consuming the next pkt_cnt value.
func (e *Engine) TransmitUnacked(dest uint8, payload []byte) {
	seq := e.pktCnt
	e.pktCnt++
	e.tx.TransmitUnacked(dest, payload, seq)
}

// Pump advances the FSM by one step. Call it on every inbound packet,
// control tick, and queue insertion.
func (e *Engine) Pump(now time.Time) {
	if e.state == StateIdle {
		e.startNext(now)
		return
	}
	e.pumpBusy(now)
}

func (e *Engine) startNext(now time.Time) {
	var class Class
	switch {
	case len(e.mgmtRespQ) > 0:
		class = ClassMgmtResp
	case len(e.mgmtQ) > 0:
		class = ClassMgmt
	case len(e.dataQ) > 0:
		class = ClassData
	default:
		return
	}
	q := e.queueFor(class)
	item := (*q)[0]
	*q = (*q)[1:]

	var seq uint8
	if class == ClassMgmt {
		seq = e.mgmtTrack
		e.mgmtExpectedAck = seq
		e.mgmtTrack++
	} else {
		seq = e.pktCnt
		e.expectedAck = seq
		e.pktCnt++
	}

	e.lastClass = class
	e.inFlight = item
	e.state = StateBusy
	e.retries = 0
	e.txTime = now
	e.jitter = e.cfg.BackoffRandomness * e.rand()
	e.Transmitted++
	e.tx.Transmit(class, seq, item)
}

func (e *Engine) seqInFlight() uint8 {
	if e.lastClass == ClassMgmt {
		return e.mgmtExpectedAck
	}
	return e.expectedAck
}

func (e *Engine) timeoutEff() time.Duration {
	mult := e.retries + 1
	if e.cfg.ExpBackoff {
		mult = 1 << uint(e.retries)
	}
	t := e.cfg.BaseTimeout * time.Duration(mult)
	return time.Duration(float64(t) * (1 + e.jitter))
}

func (e *Engine) pumpBusy(now time.Time) {
	if now.Sub(e.txTime) <= e.timeoutEff() {
		return
	}
	if e.retries == e.cfg.MaxAttempts {
		e.retries = 0
		e.state = StateIdle
		e.FailedARQ++
		e.tx.Exhausted(e.lastClass, e.seqInFlight(), e.inFlight)
		return
	}
	e.retries++
	e.txTime = now
	e.jitter = e.cfg.BackoffRandomness * e.rand()
	e.Retransmitted++
	e.tx.Transmit(e.lastClass, e.seqInFlight(), e.inFlight)
}

// HandleAck reports whether an inbound ARQ ack (already verified to be
// addressed to this node) completes the in-flight transmission, returning
// the channel to idle if so. ackedProto and cnt are the ack packet's fields.
func (e *Engine) HandleAck(ackedProto, cnt uint8) bool {
	if e.state != StateBusy {
		return false
	}
	if ackedProto != e.lastClass.proto() {
		return false
	}
	if cnt != e.seqInFlight() {
		return false
	}
	e.state = StateIdle
	e.retries = 0
	return true
}
