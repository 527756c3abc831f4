package tools

import (
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/rajeevc5260/Code-Review-Helper/internal/confine"
	"github.com/rajeevc5260/Code-Review-Helper/internal/storage"
)

// GatheredFile is the text captured by one readFileText call.
type GatheredFile struct {
	FileID    string `json:"fileId"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	BytesRead int    `json:"bytesRead"`
	Truncated bool   `json:"truncated"`
	Text      string `json:"-"`
}

// Invocation records one dispatched tool call.
type Invocation struct {
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"durationMs"`
}

// Session is the per-request state shared by every tool call of one
// orchestration run. The root never changes after construction.
type Session struct {
	Root           string
	SubjectID      string
	ConversationID string

	mu          sync.Mutex
	gathered    []GatheredFile
	invocations []Invocation
	updated     []string
}

// NewSession validates root and returns an empty session. The root is
// stored relative to the object store, the way listings report paths.
func NewSession(root, subjectID, conversationID string) (*Session, error) {
	if err := confine.Validate(root); err != nil {
		return nil, err
	}
	return &Session{Root: confine.CleanRoot(root), SubjectID: subjectID, ConversationID: conversationID}, nil
}

// Confine resolves a location argument against the session root.
func (s *Session) Confine(location string) (string, error) {
	return confine.Normalize(location, s.Root)
}

// ConfineFile decodes fileID and checks that it names an object under
// the session root, returning the object path.
func (s *Session) ConfineFile(fileID string) (string, error) {
	p, err := storage.DecodeID(fileID)
	if err != nil {
		return "", argError("fileId", "%v", err)
	}
	if !confine.Within(p, s.Root) {
		return "", &confine.ViolationError{Candidate: fileID, Root: s.Root, Resolved: p}
	}
	return p, nil
}

// AddGathered records file text. A second read of the same file
// replaces the first, so repeated reads do not inflate the fallback.
func (s *Session) AddGathered(g GatheredFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.gathered {
		if s.gathered[i].FileID == g.FileID {
			s.gathered[i] = g
			return
		}
	}
	s.gathered = append(s.gathered, g)
}

// Gathered returns a copy of the file text read so far, in read order.
func (s *Session) Gathered() []GatheredFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GatheredFile(nil), s.gathered...)
}

// Record appends an invocation record.
func (s *Session) Record(name string, args map[string]any, err error, d time.Duration) {
	inv := Invocation{Name: name, Arguments: args, DurationMS: d.Milliseconds()}
	if err != nil {
		inv.Error = err.Error()
	}
	s.mu.Lock()
	s.invocations = append(s.invocations, inv)
	s.mu.Unlock()
}

// Invocations returns a copy of the invocation records.
func (s *Session) Invocations() []Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Invocation(nil), s.invocations...)
}

// ToolCalls is the number of dispatched calls, failed ones included.
func (s *Session) ToolCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.invocations)
}

func (s *Session) markUpdated(p string) {
	s.mu.Lock()
	s.updated = append(s.updated, p)
	s.mu.Unlock()
}

// FilesTouched lists the paths read or rewritten, without duplicates.
func (s *Session) FilesTouched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, g := range s.gathered {
		add(g.Path)
	}
	for _, p := range s.updated {
		add(p)
	}
	return out
}

// String identifies the session in logs.
func (s *Session) String() string {
	return fmt.Sprintf("session(root=%s, conversation=%s)", path.Clean(s.Root), s.ConversationID)
}
