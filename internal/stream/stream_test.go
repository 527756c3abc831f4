package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestSSEEmitFormat(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriter(&buf)
	s.now = fixedNow

	if err := s.Emit(EventStart, map[string]any{"conversation_id": "c1"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	frame := buf.String()
	if !strings.HasPrefix(frame, "event: start\ndata: ") || !strings.HasSuffix(frame, "\n\n") {
		t.Fatalf("frame = %q", frame)
	}
	data := strings.TrimSuffix(strings.TrimPrefix(frame, "event: start\ndata: "), "\n\n")

	var payload map[string]any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload["conversation_id"] != "c1" {
		t.Errorf("conversation_id = %v", payload["conversation_id"])
	}
	if payload["timestamp"] != "2026-03-01T12:00:00Z" {
		t.Errorf("timestamp = %v", payload["timestamp"])
	}
}

func TestSSEEmitDoesNotMutatePayload(t *testing.T) {
	s := NewWriter(&bytes.Buffer{})
	payload := map[string]any{"a": 1}
	_ = s.Emit("x", payload)
	if _, ok := payload["timestamp"]; ok {
		t.Error("caller payload gained a timestamp")
	}
}

func TestSSEPing(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriter(&buf)
	s.now = fixedNow

	if err := s.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if got, want := buf.String(), ": ping 2026-03-01T12:00:00Z\n\n"; got != want {
		t.Errorf("ping = %q, want %q", got, want)
	}
}

type failingWriter struct {
	writes int
}

func (f *failingWriter) Write(p []byte) (int, error) {
	f.writes++
	return 0, errors.New("broken pipe")
}

func TestSSEClosesAfterWriteError(t *testing.T) {
	fw := &failingWriter{}
	s := NewWriter(fw)

	if err := s.Emit(EventProgress, nil); err == nil {
		t.Fatal("expected first write to fail")
	}
	if !s.Closed() {
		t.Fatal("emitter should be closed after a failed write")
	}
	if err := s.Emit(EventResult, map[string]any{"message": "done"}); err != nil {
		t.Errorf("write after close returned %v, want nil", err)
	}
	if err := s.Ping(); err != nil {
		t.Errorf("ping after close returned %v, want nil", err)
	}
	if fw.writes != 1 {
		t.Errorf("writer saw %d writes, want 1", fw.writes)
	}
}

func TestNewSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	s, err := NewSSE(rec, nil)
	if err != nil {
		t.Fatalf("NewSSE: %v", err)
	}
	if err := s.Emit(EventFinished, map[string]any{"status": "success"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	s.Close()
	_ = s.Emit("ignored", nil)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" {
		t.Error("missing X-Accel-Buffering header")
	}
	if !rec.Flushed {
		t.Error("response was not flushed")
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: finished\n") {
		t.Errorf("body = %q", body)
	}
	if strings.Contains(body, "ignored") {
		t.Error("event written after Close")
	}
}

type noFlushWriter struct {
	header http.Header
}

func (w *noFlushWriter) Header() http.Header { return w.header }
func (w *noFlushWriter) Write(p []byte) (int, error) { return len(p), nil }
func (w *noFlushWriter) WriteHeader(int) {}

func TestNewSSERequiresFlusher(t *testing.T) {
	if _, err := NewSSE(&noFlushWriter{header: http.Header{}}, nil); err == nil {
		t.Error("expected error for a writer without Flush")
	}
}

func TestSSEConcurrentWritersDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriter(&buf)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_ = s.Ping()
				return
			}
			_ = s.Emit(EventProgress, map[string]any{"n": i})
		}()
	}
	wg.Wait()

	frames := strings.Split(strings.TrimSuffix(buf.String(), "\n\n"), "\n\n")
	if len(frames) != 20 {
		t.Fatalf("got %d frames, want 20", len(frames))
	}
	for _, f := range frames {
		if !strings.HasPrefix(f, ": ping ") && !strings.HasPrefix(f, "event: progress\ndata: {") {
			t.Errorf("malformed frame %q", f)
		}
	}
}

func TestKeepAlive(t *testing.T) {
	rec := NewRecorder()
	stop := KeepAlive(context.Background(), rec, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for rec.Pings() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stop()
	stop() // idempotent

	n := rec.Pings()
	if n < 2 {
		t.Fatalf("pings = %d, want at least 2", n)
	}
	time.Sleep(20 * time.Millisecond)
	if rec.Pings() != n {
		t.Error("heartbeat continued after stop")
	}
	if len(rec.Events()) != 0 {
		t.Error("heartbeats must not be recorded as events")
	}
}

func TestKeepAliveStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stop := KeepAlive(ctx, NewRecorder(), time.Hour)
	cancel()

	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop did not return after context cancellation")
	}
}

type plainEmitter struct{}

func (plainEmitter) Emit(string, map[string]any) error { return nil }

func TestKeepAliveWithoutPinger(t *testing.T) {
	stop := KeepAlive(context.Background(), plainEmitter{}, time.Millisecond)
	stop()
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	rec.now = fixedNow

	var seen []string
	rec.OnEmit = func(ev Event) { seen = append(seen, ev.Name) }

	_ = rec.Emit(EventStart, nil)
	_ = rec.Emit("directory_scan"+Started, map[string]any{"tool": "listFiles"})
	_ = rec.Emit("directory_scan"+Complete, map[string]any{"tool": "listFiles"})
	_ = rec.Emit(EventFinished, map[string]any{"status": "success"})

	want := []string{"start", "directory_scan_started", "directory_scan_complete", "finished"}
	if got := rec.Names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("names = %v, want %v", got, want)
	}
	if strings.Join(seen, ",") != strings.Join(want, ",") {
		t.Errorf("hook saw %v", seen)
	}
	if got := rec.Find("directory_scan_started"); len(got) != 1 || got[0].Payload["tool"] != "listFiles" {
		t.Errorf("Find = %v", got)
	}
	last, ok := rec.Last()
	if !ok || last.Payload["status"] != "success" || last.Payload["timestamp"] != "2026-03-01T12:00:00Z" {
		t.Errorf("Last = %v, %v", last, ok)
	}
}
