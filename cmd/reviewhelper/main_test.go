package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/rajeevc5260/Code-Review-Helper/internal/buildinfo"
	"github.com/rajeevc5260/Code-Review-Helper/internal/events"
	"github.com/rajeevc5260/Code-Review-Helper/internal/stream"
)

// clearUmask sets the process umask to 0 so file permission assertions
// are deterministic.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, io.Discard, []string{"version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	if !strings.Contains(out.String(), buildinfo.String()) {
		t.Errorf("output missing banner:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "go_version:") {
		t.Errorf("output missing go_version:\n%s", out.String())
	}
}

func TestRun_VersionJSON(t *testing.T) {
	for _, args := range [][]string{
		{"-o", "json", "version"},
		{"--output=json", "version"},
		{"version", "-o=json"},
	} {
		var out bytes.Buffer
		if err := run(context.Background(), &out, io.Discard, args); err != nil {
			t.Fatalf("run %v: %v", args, err)
		}
		var info map[string]string
		if err := json.Unmarshal(out.Bytes(), &info); err != nil {
			t.Fatalf("run %v: output is not JSON: %v\n%s", args, err, out.String())
		}
		if info["version"] != buildinfo.Version {
			t.Errorf("run %v: version = %q, want %q", args, info["version"], buildinfo.Version)
		}
	}
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var out bytes.Buffer
		if err := run(context.Background(), &out, io.Discard, args); err != nil {
			t.Fatalf("run %v: %v", args, err)
		}
		if !strings.Contains(out.String(), "Usage: reviewhelper") {
			t.Errorf("run %v: usage not printed:\n%s", args, out.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command"},
		{"unknown flag", []string{"-verbose", "version"}, "unknown flag"},
		{"bad output format", []string{"-o", "yaml", "version"}, "unknown output format"},
		{"import without args", []string{"import", "only-one"}, "usage: reviewhelper import"},
		{"ask without question", []string{"ask", "-subject", "s1"}, "usage: reviewhelper ask"},
		{"ask without subject", []string{"ask", "what", "is", "this"}, "-subject or -conversation"},
		{"ask unknown flag", []string{"ask", "-fast", "why"}, "unknown ask flag"},
		{"missing config", []string{"-config", "/nonexistent/config.yaml", "import", "a", "b"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), io.Discard, io.Discard, tt.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestParseAskArgs(t *testing.T) {
	opts, err := parseAskArgs([]string{"-subject", "s1", "-user", "u9", "-analyze", "where", "is", "auth?"})
	if err != nil {
		t.Fatalf("parseAskArgs: %v", err)
	}
	if opts.subject != "s1" || opts.user != "u9" || !opts.analyze {
		t.Errorf("opts = %+v", opts)
	}
	if opts.question != "where is auth?" {
		t.Errorf("question = %q", opts.question)
	}

	opts, err = parseAskArgs([]string{"-conversation", "c1", "and", "then?"})
	if err != nil {
		t.Fatalf("parseAskArgs: %v", err)
	}
	if opts.conversation != "c1" || opts.user != "cli" {
		t.Errorf("opts = %+v", opts)
	}
}

func TestRunInit(t *testing.T) {
	clearUmask(t)
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "data"))
	if err != nil || !info.IsDir() {
		t.Fatalf("data directory not created: %v", err)
	}
	cfgInfo, err := os.Stat(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if got := cfgInfo.Mode().Perm(); got != 0o600 {
		t.Errorf("config.yaml permissions = %o, want 0600", got)
	}
	if !strings.Contains(buf.String(), "config.yaml") {
		t.Errorf("output does not mention config.yaml:\n%s", buf.String())
	}
}

func TestRunInit_PreservesExistingConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("log_level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := runInit(io.Discard, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	got, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "log_level: debug\n" {
		t.Errorf("config.yaml overwritten: %q", got)
	}
}

// writeTestConfig writes a config rooted in dir with file storage and a
// local data directory.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := strings.Join([]string{
		"llm:",
		"  default: qwen2.5-coder:7b",
		"storage:",
		"  base_url: file://" + filepath.ToSlash(filepath.Join(dir, "objects")),
		"  link_secret: test-secret",
		"  public_url: http://review.test",
		"data_dir: " + filepath.Join(dir, "data"),
		"log_level: error",
		"",
	}, "\n")
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRunImport(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	src := filepath.Join(dir, "src", "myapp")
	for rel, body := range map[string]string{
		"README.md":       "# myapp\n",
		"src/main.go":     "package main\n",
		"src/lib/util.go": "package lib\n",
	} {
		p := filepath.Join(src, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	var out bytes.Buffer
	ctx := context.Background()
	if err := run(ctx, &out, io.Discard, []string{"-config", cfgPath, "import", src, "sub1"}); err != nil {
		t.Fatalf("run import: %v", err)
	}
	if !strings.Contains(out.String(), "Imported 3 files") {
		t.Errorf("output = %q", out.String())
	}

	cfg, _, err := loadConfig(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	a, err := newApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	st, err := a.store.GetStructure(ctx, "sub1")
	if err != nil {
		t.Fatalf("GetStructure: %v", err)
	}
	const wantRoot = "CodeZips/sub1/myapp"
	if got := st.ResolveRoot(); got != wantRoot {
		t.Errorf("root = %q, want %q", got, wantRoot)
	}
	var doc struct {
		Files []string `json:"files"`
	}
	if err := json.Unmarshal(st.JSON, &doc); err != nil {
		t.Fatalf("structure JSON: %v", err)
	}
	want := []string{"README.md", "src/lib/util.go", "src/main.go"}
	if strings.Join(doc.Files, ",") != strings.Join(want, ",") {
		t.Errorf("files = %v, want %v", doc.Files, want)
	}

	l, err := a.gateway.List(ctx, wantRoot, 0, 1)
	if err != nil {
		t.Fatalf("List imported root: %v", err)
	}
	if len(l.Items) != 2 {
		t.Errorf("imported root has %d entries, want 2", len(l.Items))
	}
}

func TestRunImport_MissingDir(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	err := run(context.Background(), io.Discard, io.Discard, []string{"-config", cfgPath, "import", filepath.Join(dir, "absent"), "sub1"})
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestNewApp_SearchOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, _, err := loadConfig(writeTestConfig(t, dir))
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := newApp(cfg, logger)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if a.analyzer != nil || a.search != nil {
		t.Error("analyzer wired without a search backend")
	}
	if a.registry.Get("searchContent") != nil {
		t.Error("searchContent registered without a search backend")
	}
	a.Close()

	cfg.Search.URL = "http://search.test"
	a, err = newApp(cfg, logger)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()
	if a.analyzer == nil {
		t.Error("analyzer not wired with a search backend")
	}
	if a.registry.Get("searchContent") == nil {
		t.Error("searchContent not registered with a search backend")
	}
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &progressPrinter{w: &buf}

	events := []struct {
		name    string
		payload map[string]any
	}{
		{stream.EventStart, map[string]any{"request_id": "r1"}},
		{stream.EventProgress, map[string]any{"stage": "seeding"}},
		{"directory_scan" + stream.Started, map[string]any{"tool": "listFiles", "location": "CodeZips/a"}},
		{stream.EventError, map[string]any{"kind": "tool", "error": "not found"}},
		{stream.EventFinished, map[string]any{"status": "failed", "elapsed_ms": 12}},
	}
	for _, ev := range events {
		if err := p.Emit(ev.name, ev.payload); err != nil {
			t.Fatalf("Emit %s: %v", ev.name, err)
		}
	}

	want := "· seeding\n→ directory_scan CodeZips/a\n! tool: not found\n✓ failed in 12ms\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestApp_RecordsUsage(t *testing.T) {
	cfg, _, err := loadConfig(writeTestConfig(t, t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	a, err := newApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	wait := a.recordUsage(ctx)
	a.bus.Emit(events.SourceAgent, events.KindRequestComplete, map[string]any{
		"request_id":       "r_cli",
		"model":            "qwen2.5-coder:7b",
		"status":           "success",
		"total_tokens_in":  420,
		"total_tokens_out": 42,
	})
	cancel()
	wait()

	sum, err := a.usage.Summary(context.Background(), time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Runs != 1 || sum.TotalInputTokens != 420 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestApp_WatchBackends(t *testing.T) {
	cfg, _, err := loadConfig(writeTestConfig(t, t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	a, err := newApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr := a.watchBackends(ctx)
	defer mgr.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for !mgr.Status()["storage"].Ready {
		if time.Now().After(deadline) {
			t.Fatalf("storage never reported ready: %+v", mgr.Status())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := mgr.Status()["llm"]; !ok {
		t.Error("llm backend not watched")
	}
}
