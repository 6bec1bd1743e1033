package bridge

import (
	"context"

	"github.com/lakeview-ai/lakeview/internal/results"
	"github.com/lakeview-ai/lakeview/internal/storage"
	"github.com/lakeview-ai/lakeview/internal/thread"
)

// AnalyzeFunc produces the assistant reply for one analysis turn.
type AnalyzeFunc func(ctx context.Context, threadID, text, messageID, requestID string) (string, error)

// Local is an in-process Agent backed by the thread store. The analysis
// engine itself stays pluggable; tests inject a stub, offline mode wires
// nothing and gets a structured failure instead of a hang.
type Local struct {
	store   storage.ThreadStore
	analyze AnalyzeFunc
	cancel  func(ctx context.Context) error
}

// NewLocal creates a local agent over store. analyze may be nil.
func NewLocal(store storage.ThreadStore, analyze AnalyzeFunc) *Local {
	return &Local{store: store, analyze: analyze}
}

// SetCancelFunc installs the hook CancelAnalysis delegates to.
func (l *Local) SetCancelFunc(fn func(ctx context.Context) error) {
	l.cancel = fn
}

// SendMessage implements Agent.
func (l *Local) SendMessage(ctx context.Context, threadID, text, messageID, requestID string) (string, error) {
	if l.analyze == nil {
		return "", &CallError{
			Code:    results.CodeConnectionFailed,
			Message: "no analysis engine attached",
		}
	}
	return l.analyze(ctx, threadID, text, messageID, requestID)
}

// ThreadHistory implements Agent.
func (l *Local) ThreadHistory(ctx context.Context) ([]thread.Thread, error) {
	return l.store.LoadThreads(ctx)
}

// SaveThreadHistory implements Agent.
func (l *Local) SaveThreadHistory(ctx context.Context, threads []thread.Thread) error {
	return l.store.SaveThreads(ctx, threads)
}

// CreateThread implements Agent.
func (l *Local) CreateThread(ctx context.Context, dataSourceID, title string) (thread.Thread, error) {
	return l.store.CreateThread(ctx, dataSourceID, title)
}

// UpdateThreadTitle implements Agent.
func (l *Local) UpdateThreadTitle(ctx context.Context, threadID, title string) (string, error) {
	return l.store.UpdateTitle(ctx, threadID, title)
}

// DeleteThread implements Agent.
func (l *Local) DeleteThread(ctx context.Context, threadID string) error {
	return l.store.DeleteThread(ctx, threadID)
}

// CancelAnalysis implements Agent.
func (l *Local) CancelAnalysis(ctx context.Context) error {
	if l.cancel == nil {
		return nil
	}
	return l.cancel(ctx)
}
