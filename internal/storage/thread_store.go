// Package storage persists thread history for the in-process agent using
// SQLite/libsql.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/lakeview-ai/lakeview/internal/results"
	"github.com/lakeview-ai/lakeview/internal/thread"
)

// ThreadStore defines thread persistence operations.
type ThreadStore interface {
	// LoadThreads returns all threads, newest first, with heavy analysis
	// payloads stripped; messages that had results keep HasAnalysisData
	// set so the UI knows without carrying the data.
	LoadThreads(ctx context.Context) ([]thread.Thread, error)

	// LoadThread returns one thread with full analysis data.
	LoadThread(ctx context.Context, threadID string) (*thread.Thread, error)

	// SaveThreads upserts the given threads and their message logs.
	SaveThreads(ctx context.Context, threads []thread.Thread) error

	// CreateThread creates a thread with a title unique within its data
	// source and returns it.
	CreateThread(ctx context.Context, dataSourceID, title string) (thread.Thread, error)

	// UpdateTitle renames a thread, de-duplicating the title, and returns
	// the title actually applied.
	UpdateTitle(ctx context.Context, threadID, title string) (string, error)

	// DeleteThread removes a thread and everything under it.
	DeleteThread(ctx context.Context, threadID string) error

	// SaveAnalysisResults attaches result items to a message.
	SaveAnalysisResults(ctx context.Context, threadID, messageID string, items []results.Item) error

	// AnalysisResults returns the persisted items for a message. A nil
	// slice with no error means the message exists but has no items.
	AnalysisResults(ctx context.Context, threadID, messageID string) ([]results.Item, error)

	Close() error
}

// LibsqlThreadStore implements ThreadStore on SQLite/libsql.
type LibsqlThreadStore struct {
	db *sql.DB
}

// NewThreadStore opens (creating if needed) the thread database at dbPath.
func NewThreadStore(dbPath string) (*LibsqlThreadStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("libsql", "file:"+dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// Single connection so the foreign-key pragma applies to every query.
	db.SetMaxOpenConns(1)

	store := &LibsqlThreadStore{db: db}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	// The libsql driver executes only the first statement of a multi-
	// statement Exec, so apply the schema one statement at a time.
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	log.Debug("thread store initialized", "path", dbPath)
	return store, nil
}

// Close closes the database connection.
func (s *LibsqlThreadStore) Close() error {
	return s.db.Close()
}

// LoadThreads returns all threads newest first with heavy data stripped.
func (s *LibsqlThreadStore) LoadThreads(ctx context.Context) ([]thread.Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, data_source_id, created_at FROM threads ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var threads []thread.Thread
	for rows.Next() {
		var t thread.Thread
		if err := rows.Scan(&t.ID, &t.Title, &t.DataSourceID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range threads {
		msgs, err := s.loadMessages(ctx, threads[i].ID, false)
		if err != nil {
			return nil, err
		}
		threads[i].Messages = msgs
		files, err := s.loadFiles(ctx, threads[i].ID)
		if err != nil {
			return nil, err
		}
		threads[i].Files = files
	}
	return threads, nil
}

// LoadThread returns a single thread with full analysis data.
func (s *LibsqlThreadStore) LoadThread(ctx context.Context, threadID string) (*thread.Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, data_source_id, created_at FROM threads WHERE id = ?`, threadID)

	var t thread.Thread
	if err := row.Scan(&t.ID, &t.Title, &t.DataSourceID, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("thread not found: %s", threadID)
		}
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	msgs, err := s.loadMessages(ctx, threadID, true)
	if err != nil {
		return nil, err
	}
	t.Messages = msgs

	files, err := s.loadFiles(ctx, threadID)
	if err != nil {
		return nil, err
	}
	t.Files = files
	return &t, nil
}

func (s *LibsqlThreadStore) loadMessages(ctx context.Context, threadID string, withResults bool) ([]thread.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, timestamp, result_ref, analysis_results
		 FROM messages WHERE thread_id = ? ORDER BY seq ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var msgs []thread.Message
	for rows.Next() {
		var m thread.Message
		var resultRef, itemsJSON sql.NullString
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Timestamp, &resultRef, &itemsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.ResultRef = resultRef.String
		if itemsJSON.Valid && itemsJSON.String != "" && itemsJSON.String != "null" {
			m.HasAnalysisData = true
			if withResults {
				if err := json.Unmarshal([]byte(itemsJSON.String), &m.AnalysisResults); err != nil {
					log.Warn("failed to unmarshal analysis results", "message", m.ID, "error", err)
				}
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *LibsqlThreadStore) loadFiles(ctx context.Context, threadID string) ([]thread.File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, path, type, size, created_at, message_id
		 FROM files WHERE thread_id = ? ORDER BY created_at ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get files: %w", err)
	}
	defer rows.Close()

	var files []thread.File
	for rows.Next() {
		var f thread.File
		var messageID sql.NullString
		if err := rows.Scan(&f.Name, &f.Path, &f.Type, &f.Size, &f.CreatedAt, &messageID); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		f.MessageID = messageID.String
		files = append(files, f)
	}
	return files, rows.Err()
}

// SaveThreads upserts the given threads. Each thread's message log is
// rewritten whole; partial saves would let an interrupted reconcile leave
// a mixed old/new log behind.
func (s *LibsqlThreadStore) SaveThreads(ctx context.Context, threads []thread.Thread) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range threads {
		if err := s.saveThreadTx(ctx, tx, t); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *LibsqlThreadStore) saveThreadTx(ctx context.Context, tx *sql.Tx, t thread.Thread) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO threads (id, title, data_source_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, data_source_id = excluded.data_source_id`,
		t.ID, t.Title, t.DataSourceID, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert thread: %w", err)
	}

	// Preserve analysis payloads for messages the caller carries in
	// stripped form. The reconciler works on stripped threads; wiping
	// result JSON on every save would lose persisted history.
	existing := make(map[string]string)
	rows, err := tx.QueryContext(ctx,
		`SELECT id, analysis_results FROM messages WHERE thread_id = ?`, t.ID)
	if err != nil {
		return fmt.Errorf("failed to read existing messages: %w", err)
	}
	for rows.Next() {
		var id string
		var itemsJSON sql.NullString
		if err := rows.Scan(&id, &itemsJSON); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan existing message: %w", err)
		}
		if itemsJSON.Valid {
			existing[id] = itemsJSON.String
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, t.ID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	for seq, m := range t.Messages {
		itemsJSON := existing[m.ID]
		if len(m.AnalysisResults) > 0 {
			encoded, err := json.Marshal(m.AnalysisResults)
			if err != nil {
				return fmt.Errorf("failed to marshal analysis results: %w", err)
			}
			itemsJSON = string(encoded)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, thread_id, seq, role, content, timestamp, result_ref, analysis_results)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, t.ID, seq, string(m.Role), m.Content, m.Timestamp, m.ResultRef, nullable(itemsJSON))
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE thread_id = ?`, t.ID); err != nil {
		return fmt.Errorf("failed to clear files: %w", err)
	}
	for _, f := range t.Files {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO files (thread_id, name, path, type, size, created_at, message_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, f.Name, f.Path, f.Type, f.Size, f.CreatedAt, f.MessageID)
		if err != nil {
			return fmt.Errorf("failed to insert file: %w", err)
		}
	}
	return nil
}

// CreateThread creates a thread with a unique title for its data source.
func (s *LibsqlThreadStore) CreateThread(ctx context.Context, dataSourceID, title string) (thread.Thread, error) {
	unique, err := s.uniqueTitle(ctx, dataSourceID, title, "")
	if err != nil {
		return thread.Thread{}, err
	}

	t := thread.Thread{
		ID:           thread.NewID(),
		Title:        unique,
		DataSourceID: dataSourceID,
		CreatedAt:    nowUnix(),
		Messages:     []thread.Message{},
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO threads (id, title, data_source_id, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.Title, t.DataSourceID, t.CreatedAt)
	if err != nil {
		return thread.Thread{}, fmt.Errorf("failed to create thread: %w", err)
	}
	return t, nil
}

// UpdateTitle renames a thread, de-duplicating within its data source.
func (s *LibsqlThreadStore) UpdateTitle(ctx context.Context, threadID, title string) (string, error) {
	var dataSourceID string
	err := s.db.QueryRowContext(ctx,
		`SELECT data_source_id FROM threads WHERE id = ?`, threadID).Scan(&dataSourceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("thread not found: %s", threadID)
		}
		return "", fmt.Errorf("failed to get thread: %w", err)
	}

	unique, err := s.uniqueTitle(ctx, dataSourceID, title, threadID)
	if err != nil {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE threads SET title = ? WHERE id = ?`, unique, threadID); err != nil {
		return "", fmt.Errorf("failed to update title: %w", err)
	}
	return unique, nil
}

// uniqueTitle appends " (n)" until the title is unused within the data
// source, excluding the thread being renamed.
func (s *LibsqlThreadStore) uniqueTitle(ctx context.Context, dataSourceID, title, excludeID string) (string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT title FROM threads WHERE data_source_id = ? AND id != ?`, dataSourceID, excludeID)
	if err != nil {
		return "", fmt.Errorf("failed to check titles: %w", err)
	}
	defer rows.Close()

	taken := make(map[string]bool)
	for rows.Next() {
		var existing string
		if err := rows.Scan(&existing); err != nil {
			return "", err
		}
		taken[strings.ToLower(existing)] = true
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	candidate := title
	for n := 1; taken[strings.ToLower(candidate)]; n++ {
		candidate = fmt.Sprintf("%s (%d)", title, n)
	}
	return candidate, nil
}

// DeleteThread removes a thread; messages and files cascade.
func (s *LibsqlThreadStore) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, threadID); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}

// SaveAnalysisResults attaches items to a message.
func (s *LibsqlThreadStore) SaveAnalysisResults(ctx context.Context, threadID, messageID string, items []results.Item) error {
	encoded, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis results: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET analysis_results = ? WHERE thread_id = ? AND id = ?`,
		string(encoded), threadID, messageID)
	if err != nil {
		return fmt.Errorf("failed to save analysis results: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message not found: %s", messageID)
	}
	return nil
}

// AnalysisResults returns the persisted items for a message.
func (s *LibsqlThreadStore) AnalysisResults(ctx context.Context, threadID, messageID string) ([]results.Item, error) {
	var itemsJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT analysis_results FROM messages WHERE thread_id = ? AND id = ?`,
		threadID, messageID).Scan(&itemsJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("message not found: %s", messageID)
		}
		return nil, fmt.Errorf("failed to get analysis results: %w", err)
	}
	if !itemsJSON.Valid || itemsJSON.String == "" || itemsJSON.String == "null" {
		return nil, nil
	}
	var items []results.Item
	if err := json.Unmarshal([]byte(itemsJSON.String), &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis results: %w", err)
	}
	return items, nil
}

func nowUnix() int64 {
	return time.Now().Unix()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const schema = `
CREATE TABLE IF NOT EXISTS threads (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT 'New Chat',
    data_source_id TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT NOT NULL,
    thread_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    result_ref TEXT,
    analysis_results TEXT,
    PRIMARY KEY (thread_id, id),
    FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS files (
    thread_id TEXT NOT NULL,
    name TEXT NOT NULL,
    path TEXT NOT NULL,
    type TEXT NOT NULL,
    size INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    message_id TEXT,
    FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, seq);
CREATE INDEX IF NOT EXISTS idx_files_thread ON files(thread_id);
`
