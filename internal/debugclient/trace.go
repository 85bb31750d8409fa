package debugclient

import (
	"os"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// TraceEntry is one recorded Evaluate call, compact enough to encode as
// msgpack without a schema migration every time a field is added.
type TraceEntry struct {
	Method     string    `msgpack:"method"`
	Expression string    `msgpack:"expression"`
	DurationMs int64     `msgpack:"duration_ms"`
	Error      string    `msgpack:"error,omitempty"`
	Timestamp  time.Time `msgpack:"timestamp"`
}

// TraceRecorder appends a msgpack-encoded TraceEntry per Evaluate call to a
// rolling trace file. This is additive post-mortem instrumentation for
// debugging verification failures, never part of the external protocol -
// attaching one to a Session is optional.
type TraceRecorder struct {
	mu   sync.Mutex
	file *os.File
	enc  *msgpack.Encoder
}

// NewTraceRecorder opens (creating if necessary) a trace file at path,
// appending subsequent entries.
func NewTraceRecorder(path string) (*TraceRecorder, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &TraceRecorder{
		file: file,
		enc:  msgpack.NewEncoder(file),
	}, nil
}

// Record appends entry to the trace file. Encoding failures are swallowed
// (trace recording is best-effort instrumentation, never allowed to affect
// command dispatch).
func (r *TraceRecorder) Record(entry TraceEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.enc.Encode(entry)
}

// Close closes the underlying trace file.
func (r *TraceRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
