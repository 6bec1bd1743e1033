// Package thread defines the conversation model shared by the session
// reconciler, the remote bridge, and the local store.
package thread

import (
	"strconv"
	"time"

	"github.com/lakeview-ai/lakeview/internal/results"
)

// Role identifies a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	// FreeChatID is the reserved id of the data-source-less chat thread.
	// Exactly one such thread exists per installation and it cannot be
	// deleted.
	FreeChatID = "free-chat"

	// DefaultTitle is the system default before a title is derived from
	// the first message or set explicitly.
	DefaultTitle = "New Chat"
)

// Message is one entry in a thread's ordered log. Messages are immutable
// once appended, with a single exception: the backend may attach a result
// reference to a user message after the fact while processing the request.
type Message struct {
	ID              string         `json:"id"`
	Role            Role           `json:"role"`
	Content         string         `json:"content"`
	Timestamp       int64          `json:"timestamp"` // unix seconds
	ResultRef       string         `json:"result_ref,omitempty"`
	HasAnalysisData bool           `json:"has_analysis_data,omitempty"`
	AnalysisResults []results.Item `json:"analysis_results,omitempty"`
}

// File is a file generated during the session.
type File struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Type      string `json:"type"`
	Size      int64  `json:"size"`
	CreatedAt int64  `json:"created_at"`
	MessageID string `json:"message_id,omitempty"`
}

// Thread is an ordered, append-only conversation scoped to at most one
// data source. An empty DataSourceID marks the free-chat thread.
type Thread struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	DataSourceID string    `json:"data_source_id"`
	CreatedAt    int64     `json:"created_at"`
	Messages     []Message `json:"messages"`
	Files        []File    `json:"files,omitempty"`
}

// NewID mints a thread or message id from the high-resolution clock.
// Monotonic enough for client-side ids; the backend never generates these.
func NewID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

// NewUserMessage builds a user message stamped with the current time.
func NewUserMessage(text string) Message {
	return Message{
		ID:        NewID(),
		Role:      RoleUser,
		Content:   text,
		Timestamp: time.Now().Unix(),
	}
}

// NewAssistantMessage builds an assistant message stamped with the current
// time.
func NewAssistantMessage(text string) Message {
	return Message{
		ID:        NewID(),
		Role:      RoleAssistant,
		Content:   text,
		Timestamp: time.Now().Unix(),
	}
}

// FindByID returns the index of the thread with the given id, or -1.
func FindByID(threads []Thread, id string) int {
	for i := range threads {
		if threads[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone deep-copies a thread's message and file lists so an optimistic
// local mutation cannot alias a slice another component still reads.
func (t Thread) Clone() Thread {
	out := t
	out.Messages = append([]Message(nil), t.Messages...)
	out.Files = append([]File(nil), t.Files...)
	return out
}
