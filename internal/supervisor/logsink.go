package supervisor

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// LogKind mirrors §4.5's `kind ∈ {trace, debug, info, warn, error, fatal}`.
type LogKind string

const (
	LogTrace LogKind = "trace"
	LogDebug LogKind = "debug"
	LogInfo  LogKind = "info"
	LogWarn  LogKind = "warn"
	LogError LogKind = "error"
	LogFatal LogKind = "fatal"
)

// Stream mirrors §4.5's `stream ∈ {out, err}`.
type Stream string

const (
	StreamOut Stream = "out"
	StreamErr Stream = "err"
)

// LogSink is the external collaborator interface from §4.5: a sink that
// accepts (service, stream, line) tuples and is expected to be non-blocking
// for the core. The concrete logging backend is out of scope (§1); this
// package only depends on this interface.
type LogSink interface {
	Emit(kind LogKind, name string, stream Stream, line string)
}

// ringLogSink is the built-in sink: it fans child stdio lines into a zap
// logger (stdout → info, stderr → error, per §4.5) and additionally retains
// the last N lines per service/proxy name in memory so `status`-adjacent
// tooling and tests can inspect recent output without a production logging
// backend wired in. Capacity and circular-buffer mechanics mirror the
// teacher's logBuffer (fixed array, O(1) append, O(N) read).
type ringLogSink struct {
	log *zap.Logger

	mu   sync.RWMutex
	bufs map[string]*ringBuffer
	cap  int
}

func newRingLogSink(log *zap.Logger, capacity int) *ringLogSink {
	if capacity <= 0 {
		capacity = 500
	}
	return &ringLogSink{
		log:  log.Named("logsink"),
		bufs: make(map[string]*ringBuffer),
		cap:  capacity,
	}
}

func (r *ringLogSink) Emit(kind LogKind, name string, stream Stream, line string) {
	r.mu.Lock()
	buf, ok := r.bufs[name]
	if !ok {
		buf = newRingBuffer(r.cap)
		r.bufs[name] = buf
	}
	r.mu.Unlock()
	buf.append(fmt.Sprintf("%s: %s", stream, line))

	fields := []zap.Field{zap.String("service", name), zap.String("stream", string(stream))}
	switch kind {
	case LogTrace, LogDebug:
		r.log.Debug(line, fields...)
	case LogInfo:
		r.log.Info(line, fields...)
	case LogWarn:
		r.log.Warn(line, fields...)
	case LogError:
		r.log.Error(line, fields...)
	case LogFatal:
		r.log.Error(line, fields...)
	default:
		r.log.Info(line, fields...)
	}
}

// Lines returns the retained lines for name, newest-first, up to n (0 = all
// retained, capped at the sink's configured capacity).
func (r *ringLogSink) Lines(name string, n int) []string {
	r.mu.RLock()
	buf, ok := r.bufs[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return buf.read(n)
}

// ringBuffer is a thread-safe circular buffer for log entries with O(1)
// append and O(N) read, adapted from the teacher's per-process log buffer
// (processmgr.logBuffer) to an arbitrary configured capacity rather than a
// fixed [500]string array.
type ringBuffer struct {
	mu      sync.RWMutex
	entries []string
	head    int
	size    int
	full    bool
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{entries: make([]string, capacity)}
}

func (b *ringBuffer) append(entry string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capN := len(b.entries)
	b.entries[b.head] = entry
	b.head = (b.head + 1) % capN

	if b.full {
		return
	}
	b.size++
	if b.size == capN {
		b.full = true
	}
}

func (b *ringBuffer) read(lines int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	capN := len(b.entries)
	if b.size == 0 {
		return nil
	}
	if lines <= 0 || lines > capN {
		lines = capN
	}

	n := b.size
	if n > lines {
		n = lines
	}

	result := make([]string, n)
	var newest int
	if b.full {
		newest = (b.head - 1 + capN) % capN
	} else {
		newest = b.size - 1
	}
	for i := 0; i < n; i++ {
		idx := (newest - i + capN) % capN
		result[i] = b.entries[idx]
	}
	return result
}
