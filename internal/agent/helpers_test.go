package agent

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/viant/afs"
	_ "modernc.org/sqlite"

	"github.com/rajeevc5260/Code-Review-Helper/internal/events"
	"github.com/rajeevc5260/Code-Review-Helper/internal/llm"
	"github.com/rajeevc5260/Code-Review-Helper/internal/memory"
	"github.com/rajeevc5260/Code-Review-Helper/internal/storage"
	"github.com/rajeevc5260/Code-Review-Helper/internal/stream"
	"github.com/rajeevc5260/Code-Review-Helper/internal/tools"
)

const (
	testRoot    = "CodeZips/abc123/myapp"
	testSubject = "abc123"
	testUser    = "u1"
)

var testTree = map[string]string{
	testRoot + "/src/main.ts":   "import { util } from './util'\nconsole.log(util())\n",
	testRoot + "/src/util.ts":   "export const util = () => 42\n",
	testRoot + "/README.md":     "# myapp\n\nA small app.\n",
	"CodeZips/other/secret.txt": "keep out",
}

type mockLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	callIndex int
	calls     []mockLLMCall
	err       error
	delay     time.Duration
}

type mockLLMCall struct {
	Model    string
	Messages []llm.Message
	Tools    []map[string]any
	Opts     llm.Options
}

func (m *mockLLM) Chat(ctx context.Context, model string, msgs []llm.Message, td []map[string]any, opts llm.Options) (*llm.ChatResponse, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, mockLLMCall{
		Model:    model,
		Messages: append([]llm.Message(nil), msgs...),
		Tools:    td,
		Opts:     opts,
	})
	if m.err != nil {
		return nil, m.err
	}
	if m.callIndex >= len(m.responses) {
		return nil, fmt.Errorf("mockLLM: no more responses (call %d)", m.callIndex)
	}
	resp := m.responses[m.callIndex]
	m.callIndex++
	return resp, nil
}

func (m *mockLLM) Ping(context.Context) error { return nil }

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// blockingLLM waits for the context to end.
type blockingLLM struct{}

func (blockingLLM) Chat(ctx context.Context, _ string, _ []llm.Message, _ []map[string]any, _ llm.Options) (*llm.ChatResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingLLM) Ping(context.Context) error { return nil }

// panicLLM panics on every call.
type panicLLM struct{}

func (panicLLM) Chat(context.Context, string, []llm.Message, []map[string]any, llm.Options) (*llm.ChatResponse, error) {
	panic("provider exploded")
}

func (panicLLM) Ping(context.Context) error { return nil }

func textResp(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:        "test-model",
		Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		Done:         true,
		InputTokens:  100,
		OutputTokens: 10,
	}
}

func callResp(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:        "test-model",
		Message:      llm.Message{Role: llm.RoleAssistant, ToolCalls: calls},
		Done:         true,
		InputTokens:  100,
		OutputTokens: 20,
	}
}

func call(id, name string, args map[string]any) llm.ToolCall {
	return llm.NewToolCall(id, name, args)
}

func readCall(id, rel string) llm.ToolCall {
	p := testRoot + "/" + rel
	return call(id, "readFileText", map[string]any{
		"fileId": storage.EncodeID(p),
		"name":   p[strings.LastIndex(p, "/")+1:],
	})
}

func newTestStore(t *testing.T) *memory.SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := memory.NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func newTestGateway(t *testing.T) *storage.AFSGateway {
	t.Helper()
	ctx := context.Background()
	fs := afs.New()
	base := "mem://localhost/agent_" + strings.ReplaceAll(t.Name(), "/", "_")
	for p, body := range testTree {
		if err := fs.Upload(ctx, base+"/"+p, 0o644, strings.NewReader(body)); err != nil {
			t.Fatalf("seed %s: %v", p, err)
		}
	}
	return storage.NewAFSGateway(fs, base, "http://review.test", "secret", nil)
}

type testEnv struct {
	orch  *Orchestrator
	llm   *mockLLM
	store *memory.SQLiteStore
	rec   *stream.Recorder
	bus   *events.Bus
}

func newTestEnv(t *testing.T, responses ...*llm.ChatResponse) *testEnv {
	t.Helper()
	store := newTestStore(t)
	if err := store.SaveStructure(context.Background(), &memory.Structure{SubjectID: testSubject, Root: testRoot}); err != nil {
		t.Fatalf("save structure: %v", err)
	}
	mock := &mockLLM{responses: responses}
	reg := tools.NewRegistry(tools.Deps{Gateway: newTestGateway(t), LLM: mock, Model: "test-model"})
	bus := events.New()

	orch := NewOrchestrator(Deps{LLM: mock, Tools: reg, Store: store, Bus: bus}, Config{
		Model:          "test-model",
		MaxRounds:      4,
		KeepAlive:      time.Hour,
		RequestTimeout: 5 * time.Second,
	})
	return &testEnv{orch: orch, llm: mock, store: store, rec: stream.NewRecorder(), bus: bus}
}

func (e *testEnv) run(req *Request) *Result {
	return e.orch.Run(context.Background(), req, e.rec)
}

func question(msg string) *Request {
	return &Request{Message: msg, UserID: testUser, SubjectID: testSubject}
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func lastEvent(t *testing.T, rec *stream.Recorder) stream.Event {
	t.Helper()
	ev, ok := rec.Last()
	if !ok {
		t.Fatal("no events recorded")
	}
	return ev
}

func assertFinished(t *testing.T, rec *stream.Recorder, status string) stream.Event {
	t.Helper()
	ev := lastEvent(t, rec)
	if ev.Name != stream.EventFinished {
		t.Fatalf("last event = %q, want finished (events %v)", ev.Name, rec.Names())
	}
	if got := ev.Payload["status"]; got != status {
		t.Fatalf("finished status = %v, want %s (events %v)", got, status, rec.Names())
	}
	if n := len(rec.Find(stream.EventFinished)); n != 1 {
		t.Fatalf("got %d finished events, want 1", n)
	}
	return ev
}
