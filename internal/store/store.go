// Package store implements the durable transcript store: conversations and
// their append-only message logs, backed by SQLite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// DefaultTitle is the title assigned to conversations created without one.
const DefaultTitle = "New Chat"

// Conversation is one persisted chat session.
type Conversation struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	Model     *string `json:"model"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// Message is one persisted turn within a conversation.
type Message struct {
	ID             int64  `json:"id"`
	ConversationID int64  `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
}

// Store is the SQLite-backed transcript store.
type Store struct {
	dbPath string
	db     *sql.DB
	mu     sync.Mutex
}

// Open creates (if needed) and opens the store at dbPath.
func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s := &Store{dbPath: dbPath}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return err
	}

	ddl := `
CREATE TABLE IF NOT EXISTS conversations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  title TEXT NOT NULL,
  model TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  conversation_id INTEGER NOT NULL,
  role TEXT NOT NULL,
  content TEXT NOT NULL,
  timestamp TEXT NOT NULL,
  FOREIGN KEY (conversation_id) REFERENCES conversations (id) ON DELETE CASCADE
);`
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp);",
	}
	for _, idx := range indices {
		_, _ = db.Exec(idx)
	}

	return nil
}

func (s *Store) openDB() (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	db, err := sql.Open("sqlite", s.dbPath+"?_pragma=busy_timeout%3d5000&_pragma=journal_mode%3dwal&_pragma=foreign_keys%3don")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	db.SetMaxOpenConns(1)
	s.db = db
	return db, nil
}

// timestampLayout is RFC 3339 with a fixed-width fraction. RFC3339Nano drops
// trailing zeros, and a fraction-less "...05Z" sorts after "...05.1Z", which
// would break the lexicographic ORDER BY on the timestamp column.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func now() string {
	return time.Now().UTC().Format(timestampLayout)
}

// CreateConversation inserts a new conversation and returns it.
func (s *Store) CreateConversation(title string, model *string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	ts := now()
	result, err := db.Exec(
		"INSERT INTO conversations(title, model, created_at, updated_at) VALUES(?,?,?,?)",
		title, model, ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	id, _ := result.LastInsertId()
	return s.getConversationLocked(db, id)
}

// GetConversation returns a conversation by id, or nil if absent.
func (s *Store) GetConversation(id int64) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return nil, err
	}
	return s.getConversationLocked(db, id)
}

func (s *Store) getConversationLocked(db *sql.DB, id int64) (*Conversation, error) {
	row := db.QueryRow(
		"SELECT id, title, model, created_at, updated_at FROM conversations WHERE id=?", id,
	)
	var c Conversation
	if err := row.Scan(&c.ID, &c.Title, &c.Model, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ListConversations returns all conversations, most recently updated first.
func (s *Store) ListConversations() ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query("SELECT id, title, model, created_at, updated_at FROM conversations ORDER BY updated_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := make([]Conversation, 0)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.Model, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// UpdateConversation updates title and/or model. Nil fields are left as-is.
// Returns the updated conversation, or nil if it does not exist.
func (s *Store) UpdateConversation(id int64, title, model *string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return nil, err
	}

	updates := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if title != nil {
		updates = append(updates, "title=?")
		args = append(args, *title)
	}
	if model != nil {
		updates = append(updates, "model=?")
		args = append(args, *model)
	}
	if len(updates) == 0 {
		return s.getConversationLocked(db, id)
	}
	updates = append(updates, "updated_at=?")
	args = append(args, now(), id)

	if _, err := db.Exec("UPDATE conversations SET "+strings.Join(updates, ", ")+" WHERE id=?", args...); err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	return s.getConversationLocked(db, id)
}

// DeleteConversation removes a conversation and, via the cascade, its messages.
func (s *Store) DeleteConversation(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return err
	}
	if _, err := db.Exec("DELETE FROM conversations WHERE id=?", id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// AppendMessage appends one message and bumps the conversation's updated_at.
func (s *Store) AppendMessage(conversationID int64, role, content string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return nil, err
	}

	ts := now()
	result, err := db.Exec(
		"INSERT INTO messages(conversation_id, role, content, timestamp) VALUES(?,?,?,?)",
		conversationID, role, content, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, _ := result.LastInsertId()

	if _, err := db.Exec("UPDATE conversations SET updated_at=? WHERE id=?", ts, conversationID); err != nil {
		return nil, fmt.Errorf("bump conversation: %w", err)
	}

	return &Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      ts,
	}, nil
}

// MessageInput is one entry of a bulk append.
type MessageInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AppendMessages appends a batch of messages in order, bumping updated_at once.
func (s *Store) AppendMessages(conversationID int64, msgs []MessageInput) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(msgs))
	for i, m := range msgs {
		// Distinct nanosecond timestamps keep insertion order stable.
		ts := time.Now().UTC().Add(time.Duration(i) * time.Nanosecond).Format(timestampLayout)
		result, err := db.Exec(
			"INSERT INTO messages(conversation_id, role, content, timestamp) VALUES(?,?,?,?)",
			conversationID, m.Role, m.Content, ts,
		)
		if err != nil {
			return nil, fmt.Errorf("insert message %d: %w", i, err)
		}
		id, _ := result.LastInsertId()
		out = append(out, Message{
			ID:             id,
			ConversationID: conversationID,
			Role:           m.Role,
			Content:        m.Content,
			Timestamp:      ts,
		})
	}
	if len(out) > 0 {
		if _, err := db.Exec("UPDATE conversations SET updated_at=? WHERE id=?", now(), conversationID); err != nil {
			return nil, fmt.Errorf("bump conversation: %w", err)
		}
	}
	return out, nil
}

// Messages returns a conversation's messages in insertion order.
func (s *Store) Messages(conversationID int64) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(
		"SELECT id, conversation_id, role, content, timestamp FROM messages WHERE conversation_id=? ORDER BY timestamp ASC, id ASC",
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CountMessages counts a conversation's messages, optionally filtered by role.
func (s *Store) CountMessages(conversationID int64, role string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return 0, err
	}

	var cnt int
	if role == "" {
		err = db.QueryRow("SELECT COUNT(*) FROM messages WHERE conversation_id=?", conversationID).Scan(&cnt)
	} else {
		err = db.QueryRow("SELECT COUNT(*) FROM messages WHERE conversation_id=? AND role=?", conversationID, role).Scan(&cnt)
	}
	return cnt, err
}

// FirstMessage returns the earliest message with the given role, or nil.
func (s *Store) FirstMessage(conversationID int64, role string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return nil, err
	}

	row := db.QueryRow(
		"SELECT id, conversation_id, role, content, timestamp FROM messages WHERE conversation_id=? AND role=? ORDER BY timestamp ASC, id ASC LIMIT 1",
		conversationID, role,
	)
	var m Message
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Timestamp); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// DBPath returns the database file path.
func (s *Store) DBPath() string {
	return s.dbPath
}
