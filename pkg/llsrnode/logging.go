package llsrnode

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// levelWriter gates a wrapped io.Writer by zerolog level, the way
// pkg/atlas/util.go's zerologWriterLevel gates stdout/file logging
// independently per sink.
type levelWriter struct {
	mu sync.Mutex
	w  io.Writer
	l  zerolog.Level
}

var _ zerolog.LevelWriter = (*levelWriter)(nil)

func newLevelWriter(w io.Writer, l zerolog.Level) *levelWriter {
	return &levelWriter{w: w, l: l}
}

func (lw *levelWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

func (lw *levelWriter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < lw.l {
		return len(p), nil
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// rotatingFile appends to name until it exceeds maxBytes, then gzip-
// compresses the closed segment (via klauspost/compress/gzip, the package
// pkg/atlas/server.go uses for its own on-disk capture compression) and
// starts a fresh file. It is the mechanism behind spec.md §6's per-node
// "redirect diagnostics to errors_<addr>.txt / data_<addr>.txt" flags.
type rotatingFile struct {
	name     string
	maxBytes int64

	f    *os.File
	size int64
	gen  int
}

func newRotatingFile(name string, maxBytes int64) (*rotatingFile, error) {
	rf := &rotatingFile{name: name, maxBytes: maxBytes}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *rotatingFile) open() error {
	f, err := os.OpenFile(rf.name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	rf.f, rf.size = f, fi.Size()
	return nil
}

func (rf *rotatingFile) Write(p []byte) (int, error) {
	if rf.f == nil {
		if err := rf.open(); err != nil {
			return 0, err
		}
	}
	n, err := rf.f.Write(p)
	rf.size += int64(n)
	if err == nil && rf.maxBytes > 0 && rf.size >= rf.maxBytes {
		rf.rotate()
	}
	return n, err
}

func (rf *rotatingFile) rotate() {
	rf.f.Close()
	rf.f = nil
	rf.gen++
	dst := fmt.Sprintf("%s.%d.gz", rf.name, rf.gen)
	if err := gzipFile(rf.name, dst); err == nil {
		os.Remove(rf.name)
	}
	rf.size = 0
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func (rf *rotatingFile) Close() error {
	if rf.f == nil {
		return nil
	}
	return rf.f.Close()
}

// diagnosticRotateThreshold is the size at which a node's diagnostic file
// is rotated and gzipped; 4 MiB keeps a long-running sensor node's disk
// footprint bounded without discarding recent history too aggressively.
const diagnosticRotateThreshold = 4 << 20

// newLogger builds the node's zerolog.Logger: stdout at cfg.DebugLevel,
// plus (when enabled) a warn-and-above errors_<addr>.txt file. It returns
// an io.Closer that must be closed on shutdown to flush the file, or nil if
// no file was opened.
func newLogger(cfg Config) (zerolog.Logger, io.Closer, error) {
	outputs := []io.Writer{newLevelWriter(os.Stdout, cfg.DebugLevel)}

	var closer io.Closer
	if cfg.LogErrorsToFile {
		name := fmt.Sprintf("errors_%d.txt", cfg.Addr)
		rf, err := newRotatingFile(name, diagnosticRotateThreshold)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("open %s: %w", name, err)
		}
		outputs = append(outputs, newLevelWriter(rf, zerolog.WarnLevel))
		closer = rf
	}

	log := zerolog.New(zerolog.MultiLevelWriter(outputs...)).
		Level(cfg.DebugLevel).
		With().
		Timestamp().
		Uint8("node_addr", cfg.Addr).
		Logger()
	return log, closer, nil
}

// dataLogger optionally mirrors delivered application payloads to
// data_<addr>.txt, per spec.md §6. It is nil when disabled.
type dataLogger struct {
	rf *rotatingFile
}

func newDataLogger(cfg Config) (*dataLogger, error) {
	if !cfg.LogDataToFile {
		return nil, nil
	}
	rf, err := newRotatingFile(fmt.Sprintf("data_%d.txt", cfg.Addr), diagnosticRotateThreshold)
	if err != nil {
		return nil, err
	}
	return &dataLogger{rf: rf}, nil
}

func (d *dataLogger) record(payload []byte) {
	if d == nil {
		return
	}
	fmt.Fprintf(d.rf, "%x\n", payload)
}

func (d *dataLogger) Close() error {
	if d == nil {
		return nil
	}
	return d.rf.Close()
}
