// Package bridge is the remote-call surface between the client core and
// the backend analysis agent. Every call is an independent fallible
// operation; there are no automatic retries.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lakeview-ai/lakeview/internal/thread"
)

// Agent is the request/response interface to the backend agent. The
// gateway implements it over a websocket; Local implements it in-process
// for tests and offline use.
type Agent interface {
	// SendMessage runs an analysis turn and resolves with the assistant's
	// reply text. The backend may attach a result reference to the user
	// message identified by messageID as a side effect.
	SendMessage(ctx context.Context, threadID, text, messageID, requestID string) (string, error)

	// ThreadHistory fetches the authoritative thread list.
	ThreadHistory(ctx context.Context) ([]thread.Thread, error)

	// SaveThreadHistory persists the full thread list.
	SaveThreadHistory(ctx context.Context, threads []thread.Thread) error

	// CreateThread creates a thread for a data source. The returned
	// thread carries the (possibly de-duplicated) title.
	CreateThread(ctx context.Context, dataSourceID, title string) (thread.Thread, error)

	// UpdateThreadTitle renames a thread; the server may de-duplicate and
	// return a modified title.
	UpdateThreadTitle(ctx context.Context, threadID, title string) (string, error)

	// DeleteThread removes a thread and its persisted results.
	DeleteThread(ctx context.Context, threadID string) error

	// CancelAnalysis asks the backend to stop the running analysis. It
	// cannot un-send an already-dispatched request; a late response must
	// still be handled by the caller.
	CancelAnalysis(ctx context.Context) error
}

// CallError is a structured failure from the backend: a human-readable
// message and an optional machine code.
type CallError struct {
	Code    string
	Message string
}

func (e *CallError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// sessionBusyLiteral is the verbatim message the backend reports when a
// per-thread analysis is already running. Older backends send it without a
// structured code, so conflict detection matches the text as a fallback.
const sessionBusyLiteral = "分析会话进行中"

// IsConflict reports whether err is the backend's "analysis session busy"
// rejection. Conflicts surface to the user as a distinct warning, not a
// generic failure.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var ce *CallError
	if errors.As(err, &ce) {
		if ce.Code == "RESOURCE_BUSY" || ce.Code == "SESSION_BUSY" {
			return true
		}
	}
	return strings.Contains(err.Error(), sessionBusyLiteral)
}

// ErrorCode extracts the structured code from err, empty when none.
func ErrorCode(err error) string {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
