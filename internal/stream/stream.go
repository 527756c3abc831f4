// Package stream writes review progress to clients as Server-Sent Events.
//
// An [Emitter] accepts named events with free-form JSON payloads. The
// [SSE] implementation writes each one as an `event:`/`data:` frame and
// flushes it immediately; the [Recorder] keeps events in memory for tests
// and the command line. Both are safe for concurrent use, which lets the
// [KeepAlive] goroutine share an emitter with the orchestrator.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Event names shared by the review orchestrator and the document analyzer.
const (
	EventStart          = "start"
	EventProgress       = "progress"
	EventError          = "error"
	EventResult         = "result"
	EventAnalysisResult = "analysis_result"
	EventFinished       = "finished"
)

// Phase event suffixes. A tool call in phase p emits p+Started and then
// either p+Complete or EventError.
const (
	Started  = "_started"
	Complete = "_complete"
)

// DefaultKeepAlive is the heartbeat interval used when none is configured.
const DefaultKeepAlive = 15 * time.Second

// Emitter delivers one named event to the client.
type Emitter interface {
	Emit(name string, payload map[string]any) error
}

// Pinger is implemented by emitters that can send a heartbeat that is
// not an event.
type Pinger interface {
	Ping() error
}

// SSE is an [Emitter] over a text/event-stream response.
type SSE struct {
	mu      sync.Mutex
	w       io.Writer
	flush   func() error
	closed  bool
	now     func() time.Time
	logger  *slog.Logger
	timeout time.Duration
	rc      *http.ResponseController
}

// NewSSE writes SSE headers to w and returns an emitter for it. The
// response must support flushing.
func NewSSE(w http.ResponseWriter, logger *slog.Logger) (*SSE, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	if logger == nil {
		logger = slog.Default()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	s := &SSE{
		w:       w,
		flush:   rc.Flush,
		now:     time.Now,
		logger:  logger,
		timeout: 120 * time.Second,
		rc:      rc,
	}
	if err := s.flush(); err != nil {
		return nil, fmt.Errorf("flush headers: %w", err)
	}
	return s, nil
}

// NewWriter returns an emitter that writes SSE frames to any writer, such
// as a terminal. Frames are not flushed beyond what w does itself.
func NewWriter(w io.Writer) *SSE {
	return &SSE{
		w:      w,
		flush:  func() error { return nil },
		now:    time.Now,
		logger: slog.Default(),
	}
}

// Emit writes one event. A timestamp is added to the payload. After the
// first failed write the emitter is closed and later calls do nothing.
func (s *SSE) Emit(name string, payload map[string]any) error {
	data, err := json.Marshal(withTimestamp(payload, s.now()))
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.write(fmt.Sprintf("event: %s\ndata: %s\n\n", name, data))
}

// Ping writes a heartbeat comment.
func (s *SSE) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.write(fmt.Sprintf(": ping %s\n\n", s.now().UTC().Format(time.RFC3339)))
}

// write must be called with s.mu held.
func (s *SSE) write(frame string) error {
	if s.rc != nil && s.timeout > 0 {
		// Reset the write deadline so long tool rounds do not trip the
		// server's write timeout.
		if err := s.rc.SetWriteDeadline(s.now().Add(s.timeout)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
	}
	if _, err := io.WriteString(s.w, frame); err != nil {
		s.closed = true
		s.logger.Debug("stream closed", "error", err)
		return err
	}
	if err := s.flush(); err != nil {
		s.closed = true
		s.logger.Debug("stream closed", "error", err)
		return err
	}
	return nil
}

// Close stops all further writes. The handler must call it before
// returning so a lingering heartbeat cannot touch the response.
func (s *SSE) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether the emitter has stopped writing.
func (s *SSE) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func withTimestamp(payload map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	if _, ok := out["timestamp"]; !ok {
		out["timestamp"] = now.UTC().Format(time.RFC3339)
	}
	return out
}

// KeepAlive pings e every interval until ctx is done or the returned stop
// function is called. Emitters that do not implement [Pinger] are left
// alone. stop waits for the heartbeat goroutine to exit.
func KeepAlive(ctx context.Context, e Emitter, interval time.Duration) (stop func()) {
	p, ok := e.(Pinger)
	if !ok {
		return func() {}
	}
	if interval <= 0 {
		interval = DefaultKeepAlive
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.Ping(); err != nil {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-exited
	}
}
