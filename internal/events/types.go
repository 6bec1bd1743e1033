package events

import "time"

// Name identifies an event on the bus.
type Name string

// Events consumed by the coordination core.
const (
	StartNewChat    Name = "start-new-chat"
	ChatSendMessage Name = "chat-send-message"
	ChatLoading     Name = "chat-loading"

	AnalysisResultUpdate  Name = "analysis-result-update"
	AnalysisResultLoading Name = "analysis-result-loading"
	AnalysisResultClear   Name = "analysis-result-clear"
	AnalysisProgress      Name = "analysis-progress"
	AnalysisError         Name = "analysis-error"
	AnalysisCancelled     Name = "analysis-cancelled"
)

// Events emitted by the coordination core.
const (
	ThreadUpdated         Name = "thread-updated"
	SessionSwitched       Name = "session-switched"
	DataRestored          Name = "data-restored"
	HistoricalEmptyResult Name = "historical-empty-result"
)

// Event is the envelope delivered to handlers.
type Event struct {
	ID        string    `json:"id"`
	Name      Name      `json:"name"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler receives a published event. Handlers run synchronously on the
// publishing goroutine, in subscription order.
type Handler func(Event)

// StartNewChatPayload asks the session layer to open (or reuse) a thread
// for a data source and optionally auto-send an opening prompt.
type StartNewChatPayload struct {
	DataSourceID string `json:"dataSourceId"`
	SessionName  string `json:"sessionName"`
	Prompt       string `json:"prompt,omitempty"`
}

// ChatSendMessagePayload carries a user-entered message for the active thread.
type ChatSendMessagePayload struct {
	Text string `json:"text"`
}

// ChatLoadingPayload toggles the chat-level busy indicator.
type ChatLoadingPayload struct {
	Loading bool `json:"loading"`
}

// ProgressPayload reports backend analysis progress.
type ProgressPayload struct {
	SessionID  string  `json:"sessionId"`
	RequestID  string  `json:"requestId,omitempty"`
	Stage      string  `json:"stage"`
	Progress   float64 `json:"progress"`
	Message    string  `json:"message,omitempty"`
	Step       int     `json:"step,omitempty"`
	Total      int     `json:"total,omitempty"`
	ToolName   string  `json:"toolName,omitempty"`
	ToolOutput string  `json:"toolOutput,omitempty"`
}

// ThreadUpdatedPayload signals that a thread's message log changed.
type ThreadUpdatedPayload struct {
	ThreadID string `json:"threadId"`
}

// SessionSwitchedPayload reports a focus change in the result store.
// Consumers use it to cancel per-session polling for the previous session.
type SessionSwitchedPayload struct {
	PreviousSessionID string `json:"previousSessionId"`
	SessionID         string `json:"sessionId"`
}

// HistoricalEmptyPayload marks a historical request that is known to have
// produced zero artifacts, as opposed to one that never ran.
type HistoricalEmptyPayload struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
}
