// Package llsrnode is the repository's top-level orchestrator: the
// pkg/atlas.Server analogue for one LLSR node. It wires a pkg/mac.Node to
// its host-provided radio, application, and control ports (spec.md §6),
// and, on the sink, to the external-client server (pkg/extclient) and the
// optional sqlite audit log (db/llsrdb).
package llsrnode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/llsrnet/llsrmac/db/llsrdb"
	"github.com/llsrnet/llsrmac/pkg/extclient"
	"github.com/llsrnet/llsrmac/pkg/llsrpkt"
	"github.com/llsrnet/llsrmac/pkg/mac"
	"github.com/llsrnet/llsrmac/pkg/mgmtagent"
	"github.com/llsrnet/llsrmac/pkg/sinktable"
)

// AppMessage is one application payload arriving on the application
// message port, tagged with whether it requests ARQ delivery — the Go
// rendering of spec.md §6's separate from_app and from_app_arq directions.
type AppMessage struct {
	Payload []byte
	ARQ     bool
}

// Node runs one LLSR MAC instance end to end: it owns a *mac.Node and the
// goroutines/listeners feeding it, the same way pkg/atlas.Server owns an
// api0.Handler plus the listeners that feed it HTTP requests.
type Node struct {
	cfg Config
	mac *mac.Node
	log zerolog.Logger

	radioIn  <-chan []byte
	appIn    <-chan AppMessage
	controlC <-chan struct{}

	ext     *extclient.Server
	audit   *llsrdb.DB
	dataLog *dataLogger
	logFile io.Closer
}

// loggingAppSink mirrors delivered application payloads to the optional
// data_<addr>.txt diagnostic file before forwarding them to the host's own
// AppSink, the way a tee splits a single stream two ways.
type loggingAppSink struct {
	inner mac.AppSink
	data  *dataLogger
}

func (s *loggingAppSink) Deliver(payload []byte) {
	s.data.record(payload)
	if s.inner != nil {
		s.inner.Deliver(payload)
	}
}

// New constructs a Node from cfg and the host-provided ports: radio is the
// outbound radio collaborator (spec.md §1's out-of-scope physical layer);
// appOut receives payloads delivered at the sink (nil elsewhere, and nil is
// also fine at the sink if the host doesn't care about delivered data);
// radioIn/appIn/controlC are the three event sources Run selects over.
func New(cfg Config, mib mgmtagent.MIB, radio mac.Radio, appOut mac.AppSink, radioIn <-chan []byte, appIn <-chan AppMessage, controlC <-chan struct{}) (*Node, error) {
	log, logFile, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	dataLog, err := newDataLogger(cfg)
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, err
	}

	effectiveAppOut := appOut
	if cfg.Addr == llsrpkt.SinkAddr {
		effectiveAppOut = &loggingAppSink{inner: appOut, data: dataLog}
	}

	macNode := mac.New(mac.Config{
		Addr:              cfg.Addr,
		BaseTimeout:       cfg.BaseTimeout,
		MaxAttempts:       cfg.MaxAttempts,
		BroadcastInterval: cfg.BroadcastInterval,
		ExpBackoff:        cfg.ExpBackoff,
		BackoffRandomness: cfg.BackoffRandomness,
		NodeExpiryDelay:   cfg.NodeExpiryDelay,
		MaxQueueSize:      cfg.MaxQueueSize,
		HashKey:           cfg.HashKey,
	}, mib, radio, effectiveAppOut, log, rand.Float64)

	n := &Node{
		cfg:      cfg,
		mac:      macNode,
		log:      log,
		radioIn:  radioIn,
		appIn:    appIn,
		controlC: controlC,
		dataLog:  dataLog,
		logFile:  logFile,
	}

	if cfg.Addr == llsrpkt.SinkAddr {
		if err := n.setupSink(); err != nil {
			n.Close()
			return nil, err
		}
	}
	return n, nil
}

func (n *Node) setupSink() error {
	ln, err := net.Listen(n.cfg.ExtClientNetwork, n.cfg.ExtClientAddr)
	if err != nil {
		return fmt.Errorf("listen external-client socket: %w", err)
	}
	n.ext = extclient.New(ln, n.log)
	go n.ext.Serve()

	if n.cfg.AuditDBPath == "" {
		return nil
	}
	db, err := llsrdb.Open(n.cfg.AuditDBPath)
	if err != nil {
		return fmt.Errorf("open audit db: %w", err)
	}
	n.audit = db
	n.mac.SinkTable().SetEventHook(func(event string, addr uint8, detail string) {
		if err := n.audit.Record(context.Background(), time.Now(), addr, event, detail); err != nil {
			n.log.Warn().Err(err).Msg("audit: record failed")
		}
	})
	return nil
}

// MAC returns the underlying mac.Node, for hosts that want direct access to
// routing state or metrics.
func (n *Node) MAC() *mac.Node { return n.mac }

// Run drives the node's event loop until ctx is cancelled: every inbound
// radio frame, application message, and control tick is serialized behind
// the mac.Node mutex, per spec.md §5's single-recursive-mutex contract. A
// host-independent ticker also fires control ticks at cfg.ControlTickInterval
// so beacon emission and ARQ retransmit timers make progress even if the
// host's own control-message port (spec.md §6) stays silent — the
// flow-graph tick driver that normally plays that role is out of scope here
// (spec.md §1).
func (n *Node) Run(ctx context.Context) error {
	interval := n.cfg.ControlTickInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	radioIn, appIn, controlC := n.radioIn, n.appIn, n.controlC
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-radioIn:
			if !ok {
				radioIn = nil
				continue
			}
			n.mac.Lock()
			n.mac.Dispatch(frame, time.Now())
			n.mac.Unlock()
		case m, ok := <-appIn:
			if !ok {
				appIn = nil
				continue
			}
			n.mac.Lock()
			n.mac.HandleAppData(m.Payload, m.ARQ, time.Now())
			n.mac.Unlock()
		case _, ok := <-controlC:
			if !ok {
				controlC = nil
				continue
			}
			n.tick()
		case <-ticker.C:
			n.tick()
		}
	}
}

func (n *Node) tick() {
	n.mac.Lock()
	defer n.mac.Unlock()
	n.mac.ControlTick(time.Now(), n.pollExternal)
}

func (n *Node) pollExternal(t *sinktable.Table, now time.Time) {
	if n.ext != nil {
		n.ext.Poll(t, now)
	}
}

// Close releases every resource New opened: the external-client listener,
// the audit database, and the diagnostic files.
func (n *Node) Close() error {
	var errs []error
	if n.ext != nil {
		errs = append(errs, n.ext.Close())
	}
	if n.audit != nil {
		errs = append(errs, n.audit.Close())
	}
	if n.dataLog != nil {
		errs = append(errs, n.dataLog.Close())
	}
	if n.logFile != nil {
		errs = append(errs, n.logFile.Close())
	}
	return errors.Join(errs...)
}
