package results

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/lakeview-ai/lakeview/internal/events"
)

// ChangeKind labels what a store notification is about.
type ChangeKind string

const (
	ChangeData    ChangeKind = "data"
	ChangeLoading ChangeKind = "loading"
	ChangeError   ChangeKind = "error"
	ChangeFocus   ChangeKind = "focus"
	ChangeCleared ChangeKind = "cleared"
)

// Change describes one store mutation. Every mutating call produces exactly
// one Change, delivered synchronously to all subscribers in subscription
// order.
type Change struct {
	Kind      ChangeKind
	SessionID string
	MessageID string
}

// Listener receives store change notifications.
type Listener func(Change)

// Store is the canonical cache of analysis artifacts, keyed by
// (session, message), plus the scalar loading/error/pending-request state.
// One instance lives for the whole application; tests construct their own.
type Store struct {
	mu sync.Mutex

	data  map[string]map[string][]Item
	empty map[string]map[string]bool // explicit "ran but produced nothing" markers

	currentSession string
	currentMessage string

	loading          bool
	pendingRequestID string
	pendingMessageID string
	lastError        string
	errorInfo        *ErrorInfo

	subs []*listenerEntry
	bus  *events.Bus
}

type listenerEntry struct {
	fn Listener
}

// NewStore creates a store that publishes its cross-component events
// (data-restored, historical-empty-result, session-switched) on bus.
// A nil bus disables those emissions but not subscriber notification.
func NewStore(bus *events.Bus) *Store {
	return &Store{
		data:  make(map[string]map[string][]Item),
		empty: make(map[string]map[string]bool),
		bus:   bus,
	}
}

// Subscribe registers a listener and returns its unsubscribe handle.
// A listener registered during a notification pass does not receive that
// same pass.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &listenerEntry{fn: fn}
	s.subs = append(s.subs, entry)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, e := range s.subs {
				if e == entry {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// notifyLocked snapshots the subscriber list under the lock, releases it,
// and runs the pass. Callers must hold s.mu.
func (s *Store) notifyLocked(change Change) {
	snapshot := make([]*listenerEntry, len(s.subs))
	copy(snapshot, s.subs)
	s.mu.Unlock()
	defer s.mu.Lock()
	for _, e := range snapshot {
		e.fn(change)
	}
}

// publishLocked emits a bus event without holding the store lock across the
// handler calls. Callers must hold s.mu.
func (s *Store) publishLocked(name events.Name, payload any) {
	if s.bus == nil {
		return
	}
	s.mu.Unlock()
	defer s.mu.Lock()
	s.bus.Publish(name, payload)
}

// UpdateResults ingests one result batch. Items are upserted by id with
// replace-in-place semantics; the relative order of first insertion is
// preserved. A batch whose request id does not match the pending request
// is dropped, except for cached/restored items which bypass correlation.
// When IsComplete is set, previously stored realtime items missing from
// the batch are pruned; cached/restored items survive pruning.
func (s *Store) UpdateResults(batch Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	correlated := batch.RequestID != "" && batch.RequestID == s.pendingRequestID

	var accepted []Item
	for _, item := range batch.Items {
		if item.Source == SourceCached || item.Source == SourceRestored {
			accepted = append(accepted, item)
			continue
		}
		if !correlated {
			continue
		}
		accepted = append(accepted, item)
	}
	if len(accepted) == 0 && !(batch.IsComplete && correlated) {
		if len(batch.Items) > 0 {
			log.Debug("dropping uncorrelated result batch",
				"session", batch.SessionID, "request", batch.RequestID, "pending", s.pendingRequestID)
		}
		return
	}

	list := s.data[batch.SessionID][batch.MessageID]
	index := make(map[string]int, len(list))
	for i, item := range list {
		index[item.ID] = i
	}

	inBatch := make(map[string]bool, len(accepted))
	for _, item := range accepted {
		inBatch[item.ID] = true
		if i, ok := index[item.ID]; ok {
			list[i] = item
			continue
		}
		list = append(list, item)
		index[item.ID] = len(list) - 1
	}

	if batch.IsComplete && correlated {
		pruned := list[:0:0]
		for _, item := range list {
			if inBatch[item.ID] || item.Source == SourceCached || item.Source == SourceRestored {
				pruned = append(pruned, item)
			}
		}
		list = pruned
	}

	s.put(batch.SessionID, batch.MessageID, list)
	s.notifyLocked(Change{Kind: ChangeData, SessionID: batch.SessionID, MessageID: batch.MessageID})
}

// RestoreResults ingests persisted historical items, dropping and counting
// anything that fails validation, and reports the statistics. The same
// stats go out as a data-restored event so dependent views can distinguish
// "restored with data" from "restored empty" from "restoration failed".
func (s *Store) RestoreResults(sessionID, messageID string, items []Item) RestoreStats {
	stats := RestoreStats{
		SessionID:   sessionID,
		MessageID:   messageID,
		TotalItems:  len(items),
		ItemsByType: make(map[ItemType]int),
	}

	valid := make([]Item, 0, len(items))
	for i, item := range items {
		if err := ValidateItem(item); err != nil {
			stats.InvalidItems++
			stats.Errors = append(stats.Errors, fmt.Sprintf("item %d (%s): %v", i, item.ID, err))
			continue
		}
		item.Source = SourceRestored
		if item.Meta.SessionID == "" {
			item.Meta.SessionID = sessionID
		}
		if item.Meta.MessageID == "" {
			item.Meta.MessageID = messageID
		}
		valid = append(valid, item)
		stats.ValidItems++
		stats.ItemsByType[item.Type]++
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.data[sessionID][messageID]
	index := make(map[string]int, len(list))
	for i, item := range list {
		index[item.ID] = i
	}
	for _, item := range valid {
		if i, ok := index[item.ID]; ok {
			list[i] = item
			continue
		}
		list = append(list, item)
		index[item.ID] = len(list) - 1
	}
	s.put(sessionID, messageID, list)

	s.publishLocked(events.DataRestored, stats)
	s.notifyLocked(Change{Kind: ChangeData, SessionID: sessionID, MessageID: messageID})
	return stats
}

// NotifyHistoricalEmptyResult marks a historical request that is known to
// have run but produced zero artifacts. The marker is distinct from having
// no entry at all, so views can render an empty state instead of a spinner.
func (s *Store) NotifyHistoricalEmptyResult(sessionID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.empty[sessionID] == nil {
		s.empty[sessionID] = make(map[string]bool)
	}
	s.empty[sessionID][messageID] = true

	s.publishLocked(events.HistoricalEmptyResult, events.HistoricalEmptyPayload{
		SessionID: sessionID,
		MessageID: messageID,
	})
	s.notifyLocked(Change{Kind: ChangeData, SessionID: sessionID, MessageID: messageID})
}

// HasEmptyResult reports whether (sessionID, messageID) was explicitly
// marked as a historical request with zero artifacts.
func (s *Store) HasEmptyResult(sessionID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.empty[sessionID][messageID]
}

// ClearMessageResults removes one message's items.
func (s *Store) ClearMessageResults(sessionID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if byMsg, ok := s.data[sessionID]; ok {
		delete(byMsg, messageID)
	}
	if byMsg, ok := s.empty[sessionID]; ok {
		delete(byMsg, messageID)
	}
	s.notifyLocked(Change{Kind: ChangeCleared, SessionID: sessionID, MessageID: messageID})
}

// ClearResults removes all items for a session. Used on session deletion.
func (s *Store) ClearResults(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, sessionID)
	delete(s.empty, sessionID)
	s.notifyLocked(Change{Kind: ChangeCleared, SessionID: sessionID})
}

// ClearAll wipes the store. Used on explicit "clear history".
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]map[string][]Item)
	s.empty = make(map[string]map[string]bool)
	s.notifyLocked(Change{Kind: ChangeCleared})
}

// SwitchSession moves the focus to another session and resets the focus
// message. Consumers of session-switched use the previous id to cancel
// in-flight per-session polling.
func (s *Store) SwitchSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.currentSession
	s.currentSession = sessionID
	s.currentMessage = ""

	s.publishLocked(events.SessionSwitched, events.SessionSwitchedPayload{
		PreviousSessionID: previous,
		SessionID:         sessionID,
	})
	s.notifyLocked(Change{Kind: ChangeFocus, SessionID: sessionID})
}

// SelectMessage moves the focus message within the current session.
func (s *Store) SelectMessage(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentMessage = messageID
	s.notifyLocked(Change{Kind: ChangeFocus, SessionID: s.currentSession, MessageID: messageID})
}

// SetLoading toggles the loading flag. Starting a new attempt supersedes
// the last failure, so loading=true also clears any previous error.
// pendingRequestID is non-empty exactly while loading is true.
func (s *Store) SetLoading(loading bool, requestID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loading = loading
	if loading {
		s.pendingRequestID = requestID
		s.pendingMessageID = messageID
		s.lastError = ""
		s.errorInfo = nil
	} else {
		s.pendingRequestID = ""
		s.pendingMessageID = ""
	}
	s.notifyLocked(Change{Kind: ChangeLoading, SessionID: s.currentSession, MessageID: messageID})
}

// SetError records a plain error message. An empty message clears the
// error state.
func (s *Store) SetError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastError = message
	if message == "" {
		s.errorInfo = nil
	}
	s.notifyLocked(Change{Kind: ChangeError, SessionID: s.currentSession})
}

// SetErrorWithInfo records a structured error with code and recovery
// suggestions.
func (s *Store) SetErrorWithInfo(info ErrorInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastError = info.Message
	s.errorInfo = &info
	s.notifyLocked(Change{Kind: ChangeError, SessionID: s.currentSession})
}

// put writes list back under (sessionID, messageID), allocating the inner
// map on first use.
func (s *Store) put(sessionID, messageID string, list []Item) {
	byMsg := s.data[sessionID]
	if byMsg == nil {
		byMsg = make(map[string][]Item)
		s.data[sessionID] = byMsg
	}
	byMsg[messageID] = list
}

// Results returns the ordered items for (sessionID, messageID). The
// returned slice is the store's own backing slice and must be treated as
// read-only; it is reference-stable across calls while nothing changes, so
// consumers can use identity comparison to skip re-renders.
func (s *Store) Results(sessionID, messageID string) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[sessionID][messageID]
}

// ResultsByType filters Results by item type. Returns nil when empty.
func (s *Store) ResultsByType(sessionID, messageID string, t ItemType) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Item
	for _, item := range s.data[sessionID][messageID] {
		if item.Type == t {
			out = append(out, item)
		}
	}
	return out
}

// HasData reports whether any items are stored for (sessionID, messageID).
func (s *Store) HasData(sessionID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data[sessionID][messageID]) > 0
}

// CurrentSession returns the focus session id.
func (s *Store) CurrentSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSession
}

// CurrentMessage returns the focus message id, empty right after a session
// switch until SelectMessage is called.
func (s *Store) CurrentMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentMessage
}

// CurrentResults returns the items under the focus pointers.
func (s *Store) CurrentResults() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentSession == "" || s.currentMessage == "" {
		return nil
	}
	return s.data[s.currentSession][s.currentMessage]
}

// CurrentHasData reports whether the focus message has any items.
func (s *Store) CurrentHasData() bool {
	return len(s.CurrentResults()) > 0
}

// Loading reports the loading flag.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// PendingRequestID returns the id of the in-flight request, empty when
// idle.
func (s *Store) PendingRequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingRequestID
}

// LastError returns the last error message, empty when none.
func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// ErrorDetails returns the structured error record, nil when none.
func (s *Store) ErrorDetails() *ErrorInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorInfo
}
