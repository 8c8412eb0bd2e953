// Package extclient implements the sink's external-client protocol of
// spec.md §4.9/§6: a length-prefixed request/response wire format spoken
// over a local stream socket (a Unix domain socket in production, plain TCP
// where that is unavailable), mediating between an out-of-band management
// client and the in-memory monitoring table.
//
// Connections are accepted and read on their own goroutines, the way
// pkg/nspkt.Listener.Serve reads inbound packets on a dedicated goroutine
// independent of the caller's event loop; but a decoded request is never
// executed against the table until the node's control tick calls Poll,
// which holds the node's mutex for no longer than one in-memory table
// operation (spec.md §4.9's "must not block the MAC mutex for longer than
// the duration of one request").
package extclient

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/llsrnet/llsrmac/pkg/sinktable"
)

// Request opcodes, per spec.md §6.
const (
	OpGetColumn uint32 = 0
	OpSize      uint32 = 1
	OpSetColumn uint32 = 2
)

var errUnknownOpcode = errors.New("extclient: unknown opcode")

// request is one decoded, not-yet-serviced client request. result is nil
// for OpSetColumn, which has no response.
type request struct {
	opcode uint32
	idx    uint32
	name   string
	value  uint32
	result chan []byte
}

// Server accepts connections on a net.Listener and speaks the external
// management protocol over each. The production deployment listens on a
// Unix domain socket at /tmp/udscommunicate; net.Listen("tcp", "0.0.0.0:8585")
// is the fallback spec.md §6 names for platforms without Unix sockets.
type Server struct {
	ln  net.Listener
	log zerolog.Logger

	inbound chan *request

	mu     sync.Mutex
	closed bool
}

// New wraps ln as an external-client server. The caller is responsible for
// creating ln (net.Listen("unix", path) or net.Listen("tcp", addr)) and for
// calling Serve in its own goroutine.
func New(ln net.Listener, log zerolog.Logger) *Server {
	return &Server{ln: ln, log: log, inbound: make(chan *request, 8)}
}

// Serve accepts connections until the listener is closed. It does not
// return until then, so callers run it in its own goroutine.
func (s *Server) Serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.log.Debug().Err(err).Msg("extclient: accept failed")
			}
			return
		}
		go s.serveConn(conn)
	}
}

// Close stops accepting new connections. In-flight connections are closed
// as their current read fails.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.ln.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		req, err := decodeRequest(r)
		if err != nil {
			if errors.Is(err, errUnknownOpcode) {
				s.log.Warn().Err(err).Msg("extclient: closing connection")
			} else if !errors.Is(err, io.EOF) {
				s.log.Debug().Err(err).Msg("extclient: malformed request, closing connection")
			}
			return
		}

		s.inbound <- req
		if req.result == nil {
			continue
		}
		resp, ok := <-req.result
		if !ok {
			return
		}
		if _, err := conn.Write(resp); err != nil {
			s.log.Debug().Err(err).Msg("extclient: write response failed")
			return
		}
	}
}

// Poll services at most one pending request against table, synchronously.
// The caller (the node's control tick) must hold the node's mutex for the
// duration of the call; since every request resolves against in-memory
// state, that holds the mutex no longer than one Get/Set/Size call.
func (s *Server) Poll(table *sinktable.Table, now time.Time) {
	select {
	case req := <-s.inbound:
		s.handle(req, table, now)
	default:
	}
}

func (s *Server) handle(req *request, table *sinktable.Table, now time.Time) {
	switch req.opcode {
	case OpGetColumn:
		value, ok := table.Get(int(req.idx), req.name)
		if !ok {
			value = "None"
		}
		req.result <- encodeString(value)
	case OpSize:
		req.result <- encodeU32(table.Size())
	case OpSetColumn:
		if err := table.Set(int(req.idx), req.name, uint8(req.value), now); err != nil {
			s.log.Debug().Err(err).Msg("extclient: set request failed")
		}
	}
}

func decodeRequest(r io.Reader) (*request, error) {
	opcode, err := readU32(r)
	if err != nil {
		return nil, err
	}
	switch opcode {
	case OpGetColumn:
		idx, err := readU32(r)
		if err != nil {
			return nil, err
		}
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		return &request{opcode: opcode, idx: idx, name: name, result: make(chan []byte, 1)}, nil
	case OpSize:
		return &request{opcode: opcode, result: make(chan []byte, 1)}, nil
	case OpSetColumn:
		idx, err := readU32(r)
		if err != nil {
			return nil, err
		}
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		value, err := readU32(r)
		if err != nil {
			return nil, err
		}
		return &request{opcode: opcode, idx: idx, name: name, value: value}, nil
	default:
		return nil, fmt.Errorf("%w: %d", errUnknownOpcode, opcode)
	}
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeU32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func encodeString(s string) []byte {
	b := make([]byte, 4+len(s))
	binary.LittleEndian.PutUint32(b, uint32(len(s)))
	copy(b[4:], s)
	return b
}
