// Package restore rehydrates persisted analysis artifacts into the live
// result store when a historical thread is reopened.
package restore

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/lakeview-ai/lakeview/internal/results"
	"github.com/lakeview-ai/lakeview/internal/thread"
)

// Source is the slice of persistence the adapter reads from.
type Source interface {
	LoadThread(ctx context.Context, threadID string) (*thread.Thread, error)
	AnalysisResults(ctx context.Context, threadID, messageID string) ([]results.Item, error)
}

// SessionStats aggregates a whole-thread restoration.
type SessionStats struct {
	SessionID        string
	MessagesRestored int
	MessagesEmpty    int
	TotalItems       int
	ValidItems       int
	InvalidItems     int
}

// Adapter validates persisted items and feeds them into the result store.
// Messages known to have run with zero artifacts get an explicit empty
// marker instead of being left indistinguishable from "never loaded".
type Adapter struct {
	src   Source
	store *results.Store
}

// NewAdapter wires the adapter to its persistence source and the store.
func NewAdapter(src Source, store *results.Store) *Adapter {
	return &Adapter{src: src, store: store}
}

// RestoreMessage rehydrates one message's persisted items. A message that
// exists but carries no items is marked as a known-empty historical result.
func (a *Adapter) RestoreMessage(ctx context.Context, threadID, messageID string) (results.RestoreStats, error) {
	items, err := a.src.AnalysisResults(ctx, threadID, messageID)
	if err != nil {
		return results.RestoreStats{}, fmt.Errorf("failed to load persisted results: %w", err)
	}
	if len(items) == 0 {
		a.store.NotifyHistoricalEmptyResult(threadID, messageID)
		return results.RestoreStats{SessionID: threadID, MessageID: messageID}, nil
	}

	stats := a.store.RestoreResults(threadID, messageID, items)
	if stats.InvalidItems > 0 {
		log.Warn("dropped invalid persisted items",
			"thread", threadID, "message", messageID,
			"invalid", stats.InvalidItems, "total", stats.TotalItems)
	}
	return stats, nil
}

// RestoreSession rehydrates every message of a thread that has persisted
// artifacts. Messages flagged as having had analysis data but whose
// payload is gone are marked known-empty rather than skipped.
func (a *Adapter) RestoreSession(ctx context.Context, threadID string) (SessionStats, error) {
	t, err := a.src.LoadThread(ctx, threadID)
	if err != nil {
		return SessionStats{}, fmt.Errorf("failed to load thread: %w", err)
	}

	agg := SessionStats{SessionID: threadID}
	for _, msg := range t.Messages {
		if !msg.HasAnalysisData && len(msg.AnalysisResults) == 0 {
			continue
		}
		if len(msg.AnalysisResults) == 0 {
			a.store.NotifyHistoricalEmptyResult(threadID, msg.ID)
			agg.MessagesEmpty++
			continue
		}
		stats := a.store.RestoreResults(threadID, msg.ID, msg.AnalysisResults)
		agg.MessagesRestored++
		agg.TotalItems += stats.TotalItems
		agg.ValidItems += stats.ValidItems
		agg.InvalidItems += stats.InvalidItems
	}

	log.Debug("session restored",
		"thread", threadID,
		"messages", agg.MessagesRestored, "empty", agg.MessagesEmpty,
		"valid", agg.ValidItems, "invalid", agg.InvalidItems)
	return agg, nil
}
