package httpkit

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestNewClient_Timeouts(t *testing.T) {
	tests := []struct {
		name string
		opts []ClientOption
		want time.Duration
	}{
		{"default", nil, 30 * time.Second},
		{"custom", []ClientOption{WithTimeout(5 * time.Second)}, 5 * time.Second},
		{"disabled", []ClientOption{WithTimeout(0)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.opts...)
			if c.Timeout != tt.want {
				t.Errorf("Timeout = %v, want %v", c.Timeout, tt.want)
			}
		})
	}
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	get := func(c *http.Client, ua string) string {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		if ua != "" {
			req.Header.Set("User-Agent", ua)
		}
		resp, err := c.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body)
	}

	if got := get(NewClient(), ""); !strings.HasPrefix(got, "code-review-helper/") {
		t.Errorf("default User-Agent = %q", got)
	}
	if got := get(NewClient(WithUserAgent("ReviewBot/1.0")), ""); got != "ReviewBot/1.0" {
		t.Errorf("custom User-Agent = %q", got)
	}
	if got := get(NewClient(), "caller/2"); got != "caller/2" {
		t.Errorf("caller User-Agent overwritten: %q", got)
	}
}

func TestReadErrorBody(t *testing.T) {
	if got := ReadErrorBody(io.NopCloser(strings.NewReader("boom")), 100); got != "boom" {
		t.Errorf("got %q", got)
	}
	if got := ReadErrorBody(io.NopCloser(strings.NewReader("0123456789")), 4); got != "0123" {
		t.Errorf("truncated got %q", got)
	}
	if got := ReadErrorBody(nil, 4); got != "" {
		t.Errorf("nil got %q", got)
	}
}

type scriptedTransport struct {
	errs  []error
	calls int
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
}

func dialErr(errno syscall.Errno) error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errno}
}

func TestRetryTransport(t *testing.T) {
	t.Run("recovers after transient failure", func(t *testing.T) {
		base := &scriptedTransport{errs: []error{dialErr(syscall.EHOSTUNREACH)}}
		rt := &retryTransport{base: base, count: 2, delay: time.Millisecond}
		req, _ := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
		resp, err := rt.RoundTrip(req)
		if err != nil {
			t.Fatalf("RoundTrip: %v", err)
		}
		resp.Body.Close()
		if base.calls != 2 {
			t.Errorf("calls = %d, want 2", base.calls)
		}
	})

	t.Run("gives up after count", func(t *testing.T) {
		e := dialErr(syscall.ECONNREFUSED)
		base := &scriptedTransport{errs: []error{e, e, e, e}}
		rt := &retryTransport{base: base, count: 2, delay: time.Millisecond}
		req, _ := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
		if _, err := rt.RoundTrip(req); err == nil {
			t.Fatal("expected error")
		}
		if base.calls != 3 {
			t.Errorf("calls = %d, want 3", base.calls)
		}
	})

	t.Run("non-retryable error", func(t *testing.T) {
		base := &scriptedTransport{errs: []error{errors.New("tls: bad certificate")}}
		rt := &retryTransport{base: base, count: 3, delay: time.Millisecond}
		req, _ := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
		if _, err := rt.RoundTrip(req); err == nil {
			t.Fatal("expected error")
		}
		if base.calls != 1 {
			t.Errorf("calls = %d, want 1", base.calls)
		}
	})

	t.Run("context cancelled while waiting", func(t *testing.T) {
		base := &scriptedTransport{errs: []error{dialErr(syscall.ENETUNREACH)}}
		rt := &retryTransport{base: base, count: 1, delay: time.Hour}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.invalid", nil)
		if _, err := rt.RoundTrip(req); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	})
}
