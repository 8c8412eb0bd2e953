// Package mac is the node's central orchestrator: it decodes inbound radio
// frames, drives the neighbor/route state, runs the ARQ engine across the
// three packet classes, executes the in-band management agent, and (on the
// sink) reconciles responses against the monitoring table. Every exported
// method expects the caller to hold Node's mutex for the duration of one
// radio frame, one application message, or one control tick — the
// concurrency model spec.md §5 describes as a single recursive mutex shared
// by three event sources.
package mac

import (
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"

	"github.com/llsrnet/llsrmac/pkg/arq"
	"github.com/llsrnet/llsrmac/pkg/dedup"
	"github.com/llsrnet/llsrmac/pkg/llsrhash"
	"github.com/llsrnet/llsrmac/pkg/llsrpkt"
	"github.com/llsrnet/llsrmac/pkg/metricsx"
	"github.com/llsrnet/llsrmac/pkg/mgmtagent"
	"github.com/llsrnet/llsrmac/pkg/neighbor"
	"github.com/llsrnet/llsrmac/pkg/sinktable"
)

// Radio is the host-provided physical-layer collaborator. Send must not
// block; the MAC treats the radio as opaque byte-vector transport, adding no
// in-band framing of its own (spec.md §6).
type Radio interface {
	Send(frame []byte)
}

// AppSink receives application payloads delivered at the sink. Only called
// on the node whose Config.Addr is llsrpkt.SinkAddr.
type AppSink interface {
	Deliver(payload []byte)
}

// DedupRetention is the duplicate-suppression window's retention period.
const DedupRetention = 120 * time.Second

// Config carries the per-node parameters a flow-graph host supplies at
// construction (spec.md §6's "configuration parameters").
type Config struct {
	Addr              uint8
	BaseTimeout       time.Duration
	MaxAttempts       int
	BroadcastInterval time.Duration // 0 disables beacon emission
	ExpBackoff        bool
	BackoffRandomness float64
	NodeExpiryDelay   time.Duration
	MaxQueueSize      int
	HashKey           string
}

// Node is one LLSR MAC instance. The zero value is not usable; construct
// with New. Exported methods are not safe for concurrent use by design — the
// caller (pkg/llsrnode) serializes radio, application, and control events
// behind one mutex the way pkg/atlas/server.go serializes HTTP and SIGHUP
// handling behind s.mu.
type Node struct {
	mu sync.Mutex

	cfg  Config
	log  zerolog.Logger
	rand func() float64

	neighbors *neighbor.Table
	route     neighbor.Route
	dup       *dedup.Window
	mib       mgmtagent.MIB
	engine    *arq.Engine
	sink      *sinktable.Table // nil on every node except the sink

	radio  Radio
	appOut AppSink // nil unless Config.Addr == llsrpkt.SinkAddr

	lastBeaconTime time.Time
	haveBeaconed   bool

	metrics nodeMetrics
}

type nodeMetrics struct {
	set *metrics.Set

	neighborsCount  *metrics.Gauge
	monitoringRows  *metrics.Gauge
	dedupWindowSize *metrics.Gauge

	arqTransmitted   *metrics.Gauge
	arqRetransmitted *metrics.Gauge
	arqFailed        *metrics.Gauge

	dispatchTotal struct {
		beacon, data, mgmt, mgmtResp, ack, dropped *metrics.Counter
	}
}

// New constructs a Node. mib is the initial MIB state (spec.md §3); radio
// and appOut may be nil for tests that only exercise internal state.
// rand must return a value in [0, 1); pass math/rand.Float64 in production.
func New(cfg Config, mib mgmtagent.MIB, radio Radio, appOut AppSink, log zerolog.Logger, rand func() float64) *Node {
	n := &Node{
		cfg:       cfg,
		log:       log,
		rand:      rand,
		neighbors: neighbor.New(),
		dup:       dedup.New(),
		mib:       mib,
		radio:     radio,
		appOut:    appOut,
	}
	n.route = neighbor.Select(cfg.Addr, n.neighbors)
	n.engine = arq.New(arq.Config{
		BaseTimeout:       cfg.BaseTimeout,
		MaxAttempts:       cfg.MaxAttempts,
		ExpBackoff:        cfg.ExpBackoff,
		BackoffRandomness: cfg.BackoffRandomness,
		MaxQueueSize:      cfg.MaxQueueSize,
	}, n, rand)
	if cfg.Addr == 0 {
		n.sink = sinktable.New(cfg.HashKey, func(format string, args ...any) {
			n.log.Debug().Msgf(format, args...)
		})
	}
	n.initMetrics()
	return n
}

func (n *Node) initMetrics() {
	m := &n.metrics
	m.set = metrics.NewSet()
	m.neighborsCount = m.set.NewGauge(`llsr_mac_neighbors`, func() float64 { return float64(n.neighbors.Len()) })
	m.dedupWindowSize = m.set.NewGauge(`llsr_mac_dedup_window_size`, func() float64 { return float64(n.dup.Len()) })
	if n.sink != nil {
		m.monitoringRows = m.set.NewGauge(`llsr_mac_monitoring_rows`, func() float64 { return float64(n.sink.Size()) })
	}
	m.arqTransmitted = m.set.NewGauge(metricsx.FormatName(`llsr_mac_arq_frames_total`, "", "result", "transmitted"), func() float64 { return float64(n.engine.Transmitted) })
	m.arqRetransmitted = m.set.NewGauge(metricsx.FormatName(`llsr_mac_arq_frames_total`, "", "result", "retransmitted"), func() float64 { return float64(n.engine.Retransmitted) })
	m.arqFailed = m.set.NewGauge(metricsx.FormatName(`llsr_mac_arq_frames_total`, "", "result", "failed"), func() float64 { return float64(n.engine.FailedARQ) })
	m.dispatchTotal.beacon = m.set.NewCounter(metricsx.FormatName(`llsr_mac_dispatch_packets_total`, "", "proto", "beacon"))
	m.dispatchTotal.data = m.set.NewCounter(metricsx.FormatName(`llsr_mac_dispatch_packets_total`, "", "proto", "data"))
	m.dispatchTotal.mgmt = m.set.NewCounter(metricsx.FormatName(`llsr_mac_dispatch_packets_total`, "", "proto", "mgmt"))
	m.dispatchTotal.mgmtResp = m.set.NewCounter(metricsx.FormatName(`llsr_mac_dispatch_packets_total`, "", "proto", "mgmt_resp"))
	m.dispatchTotal.ack = m.set.NewCounter(metricsx.FormatName(`llsr_mac_dispatch_packets_total`, "", "proto", "ack"))
	m.dispatchTotal.dropped = m.set.NewCounter(metricsx.FormatName(`llsr_mac_dispatch_packets_total`, "", "proto", "dropped"))
}

// Lock and Unlock expose the node's mutex to pkg/llsrnode's event loop,
// which holds it for the duration of exactly one radio frame, one
// application message, or one control tick.
func (n *Node) Lock()   { n.mu.Lock() }
func (n *Node) Unlock() { n.mu.Unlock() }

// Route returns the node's current routing state (spec.md §3).
func (n *Node) Route() neighbor.Route { return n.route }

// SinkTable returns the sink monitoring table, or nil on a non-sink node.
// Callers must hold the node's mutex while using it.
func (n *Node) SinkTable() *sinktable.Table { return n.sink }

// WritePrometheus writes the node's metrics in Prometheus exposition format.
// The gauges read engine and table state directly, so callers must hold the
// node's mutex for the duration of the call, the same as every other Node
// method. The core never wires this to an HTTP listener itself; the
// flow-graph host decides whether to expose it, the way
// pkg/nspkt.Listener.WritePrometheus is dialed in by its caller.
func (n *Node) WritePrometheus(w interface{ Write([]byte) (int, error) }) {
	n.metrics.set.WritePrometheus(w)
}

func (n *Node) recomputeRoute() {
	n.route = neighbor.Select(n.cfg.Addr, n.neighbors)
}

func (n *Node) verifyMgmtHash(hash byte, parts ...byte) bool {
	return llsrhash.Verify(n.cfg.HashKey, hash, parts...)
}

func (n *Node) computeMgmtHash(parts ...byte) byte {
	return llsrhash.Compute(n.cfg.HashKey, parts...)
}

// mgmtRespHash computes the keyed hash covering a MGMT_RESP's hop-invariant
// fields. It is computed exactly once, by the node whose agent produced the
// response (including the synthesized "unreachable" response a relay
// produces on ARQ exhaustion), and carried unchanged by every subsequent
// forwarder, the same way a relay carries a MGMT request's hash unchanged.
func (n *Node) mgmtRespHash(flag, origin, track, value uint8) byte {
	return n.computeMgmtHash(llsrpkt.ProtoMgmtResp, flag, origin, track, value)
}
