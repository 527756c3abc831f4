package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed width so lexical order in SQLite matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

// SQLiteStore is a SQLite-backed conversation store.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an already opened database and ensures the schema exists.
func NewStore(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// migrate creates the database schema.
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		subject_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, subject_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS structures (
		subject_id TEXT PRIMARY KEY,
		structure TEXT,
		root TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConversation inserts c, assigning an id and timestamps when unset.
func (s *SQLiteStore) CreateConversation(ctx context.Context, c *Conversation) error {
	if c.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate conversation id: %w", err)
		}
		c.ID = id.String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, subject_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.UserID, c.SubjectID, c.Title, formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, subject_id, title, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id)

	var c Conversation
	var created, updated string
	if err := row.Scan(&c.ID, &c.UserID, &c.SubjectID, &c.Title, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

// AddMessage appends m to its conversation and bumps the conversation's
// updated timestamp. The conversation must already exist.
func (s *SQLiteStore) AddMessage(ctx context.Context, m *Message) error {
	if m.ConversationID == "" {
		return errors.New("add message: conversation id required")
	}
	if m.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate message id: %w", err)
		}
		m.ID = id.String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}

	var metadata sql.NullString
	if len(m.Metadata) > 0 {
		metadata = sql.NullString{String: string(m.Metadata), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, formatTime(m.CreatedAt), m.ConversationID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", m.ConversationID, ErrNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, user_id, role, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ConversationID, m.UserID, m.Role, m.Content, metadata, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return tx.Commit()
}

// Messages returns every message of a conversation, oldest first.
func (s *SQLiteStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, role, content, metadata, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// RecentMessages returns the last n messages of a conversation, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, conversationID string, n int) ([]Message, error) {
	if n <= 0 {
		return []Message{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, role, content, metadata, created_at FROM (
			SELECT rowid AS seq, id, conversation_id, user_id, role, content, metadata, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		) ORDER BY created_at ASC, seq ASC
	`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	messages := []Message{}
	for rows.Next() {
		var m Message
		var metadata sql.NullString
		var created string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &metadata, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			m.Metadata = []byte(metadata.String)
		}
		m.CreatedAt = parseTime(created)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListConversations returns a user's conversations, most recently updated
// first. subjectID narrows the list when non-empty.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID, subjectID string) ([]ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.user_id, c.subject_id, c.title, c.created_at, c.updated_at,
			COUNT(m.id), MAX(m.created_at)
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		WHERE c.user_id = ? AND (? = '' OR c.subject_id = ?)
		GROUP BY c.id
		ORDER BY c.updated_at DESC, c.rowid DESC
	`, userID, subjectID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	out := []ConversationSummary{}
	for rows.Next() {
		var cs ConversationSummary
		var created, updated string
		var last sql.NullString
		if err := rows.Scan(&cs.ID, &cs.UserID, &cs.SubjectID, &cs.Title, &created, &updated,
			&cs.MessageCount, &last); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		cs.CreatedAt = parseTime(created)
		cs.UpdatedAt = parseTime(updated)
		if last.Valid && last.String != "" {
			t := parseTime(last.String)
			cs.LastMessageAt = &t
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// SaveStructure inserts or replaces the structure for a subject.
func (s *SQLiteStore) SaveStructure(ctx context.Context, st *Structure) error {
	if st.SubjectID == "" {
		return errors.New("save structure: subject id required")
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.now()
	}
	var doc sql.NullString
	if len(st.JSON) > 0 {
		doc = sql.NullString{String: string(st.JSON), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO structures (subject_id, structure, root, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET
			structure = excluded.structure,
			root = excluded.root,
			updated_at = excluded.updated_at
	`, st.SubjectID, doc, st.Root, formatTime(st.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save structure: %w", err)
	}
	return nil
}

// GetStructure returns the structure recorded for a subject.
func (s *SQLiteStore) GetStructure(ctx context.Context, subjectID string) (*Structure, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT subject_id, structure, root, updated_at FROM structures WHERE subject_id = ?
	`, subjectID)

	var st Structure
	var doc sql.NullString
	var updated string
	if err := row.Scan(&st.SubjectID, &doc, &st.Root, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("structure %s: %w", subjectID, ErrNotFound)
		}
		return nil, fmt.Errorf("get structure: %w", err)
	}
	if doc.Valid && doc.String != "" {
		st.JSON = []byte(doc.String)
	}
	st.UpdatedAt = parseTime(updated)
	return &st, nil
}
