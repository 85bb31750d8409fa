// Package debugclient is a thin, synchronous-feeling wrapper over the
// Chrome DevTools Protocol, specialized to the operations the orchestrator
// needs: listing tabs, attaching a command session, evaluating expressions,
// and subscribing to console output. It speaks the CDP JSON-RPC envelope
// over a websocket using the same request/response-by-id,
// background-reader, mutex-guarded-write shape as a msgpack-rpc client,
// generalized from a Unix socket to a websocket and from msgpack to JSON.
package debugclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/riverlock/fleetctl/internal/errkind"
)

// ConsoleEntry is one console message or uncaught exception delivered to a
// SubscribeConsole callback.
type ConsoleEntry struct {
	Type      string // "log", "warning", "error", "exception"
	Text      string
	Timestamp time.Time
}

// request is the outbound CDP JSON-RPC envelope.
type request struct {
	ID     uint64      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// envelope is the generic inbound frame shape: either a keyed response or
// an unsolicited event.
type envelope struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

type pendingCall struct {
	result json.RawMessage
	err    error
	done   chan struct{}
}

// Session is one attached command channel to a browser tab's debugging
// endpoint. Evaluate calls submitted to the same Session execute in
// submission order (the write path is mutex-guarded); across Sessions no
// ordering is implied.
type Session struct {
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex
	nextID  uint64

	pendingMu sync.Mutex
	pending   map[uint64]*pendingCall

	consoleMu sync.Mutex
	consoleCB func(ConsoleEntry)

	recorder *TraceRecorder

	closed atomic.Bool
	readErr error
}

// Attach opens a command channel to the given CDP websocket debugger URL.
// Attach is idempotent in the sense that calling it again with the same
// wsURL produces an independent, equally valid Session - the CDP endpoint
// itself tolerates multiple concurrent command channels.
func Attach(ctx context.Context, wsURL string, log zerolog.Logger) (*Session, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, errkind.New(errkind.AttachFailed, "", "failed to dial debug websocket", err)
	}
	conn.SetReadLimit(64 << 20)

	s := &Session{
		conn:    conn,
		log:     log.With().Str("component", "debugclient").Logger(),
		pending: make(map[uint64]*pendingCall),
	}

	go s.readLoop()

	return s, nil
}

// SetTraceRecorder attaches an optional compact trace recorder. Every
// Evaluate call is then additionally recorded to the recorder's rolling
// trace file for post-mortem debugging; this is additive instrumentation
// and never part of the external protocol.
func (s *Session) SetTraceRecorder(r *TraceRecorder) {
	s.recorder = r
}

// Close terminates the underlying websocket. Any Evaluate calls still in
// flight resolve with a transport-failure error.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close(websocket.StatusNormalClosure, "session closed")
}

// Evaluate executes expression in the tab's top frame. If awaitPromise is
// true, the call blocks until the returned promise resolves or timeout
// elapses. The returned error, when non-nil, is an *errkind.Error
// distinguishing Timeout, a transport failure (DispatchError), or an
// exception raised by the evaluated code (also DispatchError, with the
// exception text in Message).
func (s *Session) Evaluate(ctx context.Context, expression string, awaitPromise bool, timeout time.Duration) (json.RawMessage, error) {
	start := time.Now()
	result, err := s.call(ctx, "Runtime.evaluate", map[string]interface{}{
		"expression":    expression,
		"awaitPromise":  awaitPromise,
		"returnByValue": true,
	}, timeout)

	if s.recorder != nil {
		s.recorder.Record(TraceEntry{
			Method:     "Runtime.evaluate",
			Expression: expression,
			DurationMs: time.Since(start).Milliseconds(),
			Error:      errString(err),
			Timestamp:  time.Now(),
		})
	}

	if err != nil {
		return nil, err
	}

	var parsed struct {
		Result           json.RawMessage `json:"result"`
		ExceptionDetails json.RawMessage `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, errkind.New(errkind.DispatchError, "", "malformed evaluate response", err)
	}
	if len(parsed.ExceptionDetails) > 0 {
		return nil, errkind.New(errkind.DispatchError, "", "exception in evaluated expression", fmt.Errorf("%s", string(parsed.ExceptionDetails)))
	}

	return parsed.Result, nil
}

// SubscribeConsole delivers console messages and uncaught exceptions to
// callback on a background goroutine until the session is closed. Requires
// Runtime and Console domain notifications to be enabled, which this call
// does on the caller's behalf.
func (s *Session) SubscribeConsole(ctx context.Context, callback func(ConsoleEntry)) error {
	s.consoleMu.Lock()
	s.consoleCB = callback
	s.consoleMu.Unlock()

	if _, err := s.call(ctx, "Runtime.enable", map[string]interface{}{}, 5*time.Second); err != nil {
		return err
	}
	return nil
}

// call sends a request and blocks for its keyed response, or returns a
// structured error on timeout or transport failure.
func (s *Session) call(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	if s.closed.Load() {
		return nil, errkind.New(errkind.DispatchError, "", "session closed", nil)
	}

	id := atomic.AddUint64(&s.nextID, 1)
	pc := &pendingCall{done: make(chan struct{})}

	s.pendingMu.Lock()
	s.pending[id] = pc
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	req := request{ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, errkind.New(errkind.DispatchError, "", "failed to encode request", err)
	}

	s.writeMu.Lock()
	writeErr := s.conn.Write(ctx, websocket.MessageText, data)
	s.writeMu.Unlock()
	if writeErr != nil {
		return nil, errkind.New(errkind.DispatchError, "", "failed to write request", writeErr)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-pc.done:
		if pc.err != nil {
			return nil, pc.err
		}
		return pc.result, nil
	case <-timer.C:
		return nil, errkind.New(errkind.Timeout, "", fmt.Sprintf("%s timed out after %s", method, timeout), nil)
	case <-ctx.Done():
		return nil, errkind.New(errkind.DispatchError, "", "context canceled", ctx.Err())
	}
}

// readLoop is the session's single reader: it demultiplexes keyed
// responses to waiting calls and forwards unsolicited console/exception
// events to the subscribed callback. Transport failures here terminate the
// session and surface to every in-flight caller; the session never
// silently reconnects, since reconnection requires re-validating the
// target tab, which is the Session Adapter's responsibility.
func (s *Session) readLoop() {
	ctx := context.Background()
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			s.failAllPending(errkind.New(errkind.DispatchError, "", "transport read failed", err))
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Warn().Err(err).Msg("Failed to decode CDP frame")
			continue
		}

		if env.ID != 0 {
			s.resolvePending(env)
			continue
		}

		s.dispatchEvent(env)
	}
}

func (s *Session) resolvePending(env envelope) {
	s.pendingMu.Lock()
	pc, ok := s.pending[env.ID]
	s.pendingMu.Unlock()
	if !ok {
		return
	}

	if env.Error != nil {
		pc.err = errkind.New(errkind.DispatchError, "", "cdp returned an error", env.Error)
	} else {
		pc.result = env.Result
	}
	close(pc.done)
}

func (s *Session) dispatchEvent(env envelope) {
	s.consoleMu.Lock()
	cb := s.consoleCB
	s.consoleMu.Unlock()
	if cb == nil {
		return
	}

	switch env.Method {
	case "Runtime.consoleAPICalled":
		var payload struct {
			Type string `json:"type"`
			Args []struct {
				Value interface{} `json:"value"`
			} `json:"args"`
		}
		if err := json.Unmarshal(env.Params, &payload); err != nil {
			return
		}
		text := ""
		if len(payload.Args) > 0 {
			text = fmt.Sprintf("%v", payload.Args[0].Value)
		}
		cb(ConsoleEntry{Type: payload.Type, Text: text, Timestamp: time.Now()})
	case "Runtime.exceptionThrown":
		var payload struct {
			ExceptionDetails struct {
				Text string `json:"text"`
			} `json:"exceptionDetails"`
		}
		if err := json.Unmarshal(env.Params, &payload); err != nil {
			return
		}
		cb(ConsoleEntry{Type: "exception", Text: payload.ExceptionDetails.Text, Timestamp: time.Now()})
	}
}

func (s *Session) failAllPending(err error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, pc := range s.pending {
		pc.err = err
		close(pc.done)
		delete(s.pending, id)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
