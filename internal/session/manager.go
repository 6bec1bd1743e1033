// Package session keeps the locally-held thread list consistent with the
// backend's authoritative copy across the send round trip, and owns the
// optimistic-append / reload-then-merge lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lakeview-ai/lakeview/internal/bridge"
	"github.com/lakeview-ai/lakeview/internal/correlate"
	"github.com/lakeview-ai/lakeview/internal/events"
	"github.com/lakeview-ai/lakeview/internal/results"
	"github.com/lakeview-ai/lakeview/internal/thread"
)

const (
	// FreeChatTitle names the reserved data-source-less thread.
	FreeChatTitle = "Free Chat"

	// DefaultDuplicateWindow suppresses a textually identical user
	// message that already sits in the thread tail. Configurable because
	// it also catches a user who genuinely retypes the same question.
	DefaultDuplicateWindow = 10 * time.Second

	titleRuneLimit = 50
)

// Manager is the session/thread reconciler. One instance per process,
// constructed explicitly so tests can isolate their own.
type Manager struct {
	agent bridge.Agent
	store *results.Store
	bus   *events.Bus
	corr  *correlate.Correlator

	mu      sync.Mutex
	threads []thread.Thread
	active  string

	dupWindow time.Duration
	now       func() time.Time

	ctx     context.Context
	unsubs  []func()
	started bool
}

// Option adjusts manager behavior.
type Option func(*Manager)

// WithDuplicateWindow overrides the recent-duplicate scan window. Zero
// disables the scan.
func WithDuplicateWindow(d time.Duration) Option {
	return func(m *Manager) { m.dupWindow = d }
}

// WithClock substitutes the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager wires the reconciler to its collaborators.
func NewManager(agent bridge.Agent, store *results.Store, bus *events.Bus, corr *correlate.Correlator, opts ...Option) *Manager {
	m := &Manager{
		agent:     agent,
		store:     store,
		bus:       bus,
		corr:      corr,
		dupWindow: DefaultDuplicateWindow,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start loads the thread history, guarantees the free-chat thread exists,
// and subscribes to the bus events the reconciler consumes.
func (m *Manager) Start(ctx context.Context) error {
	threads, err := m.agent.ThreadHistory(ctx)
	if err != nil {
		return fmt.Errorf("failed to load thread history: %w", err)
	}

	m.mu.Lock()
	m.threads = threads
	m.ctx = ctx
	needFreeChat := thread.FindByID(m.threads, thread.FreeChatID) < 0
	if needFreeChat {
		fc := thread.Thread{
			ID:        thread.FreeChatID,
			Title:     FreeChatTitle,
			CreatedAt: m.now().Unix(),
			Messages:  []thread.Message{},
		}
		m.threads = append(m.threads, fc)
	}
	if m.active == "" {
		m.active = thread.FreeChatID
	}
	snapshot := m.snapshotLocked()
	m.started = true
	m.mu.Unlock()

	if needFreeChat {
		if err := m.agent.SaveThreadHistory(ctx, snapshot); err != nil {
			return fmt.Errorf("failed to persist free-chat thread: %w", err)
		}
	}

	m.subscribe()
	return nil
}

// Close removes the bus subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

func (m *Manager) subscribe() {
	unsubs := []func(){
		m.bus.Subscribe(events.ChatSendMessage, func(e events.Event) {
			if p, ok := e.Payload.(events.ChatSendMessagePayload); ok {
				if err := m.Send(m.ctx, m.ActiveThreadID(), p.Text); err != nil {
					log.Debug("send from chat event failed", "error", err)
				}
			}
		}),
		m.bus.Subscribe(events.StartNewChat, func(e events.Event) {
			if p, ok := e.Payload.(events.StartNewChatPayload); ok {
				if err := m.StartNewChat(m.ctx, p); err != nil {
					log.Error("start-new-chat failed", "dataSource", p.DataSourceID, "error", err)
				}
			}
		}),
		m.bus.Subscribe(events.AnalysisResultUpdate, func(e events.Event) {
			if batch, ok := e.Payload.(results.Batch); ok {
				m.ingestBatch(batch)
			}
		}),
		m.bus.Subscribe(events.AnalysisError, func(e events.Event) {
			// Gateway pushes arrive as raw maps; the manager's own
			// published errors are typed and already applied.
			if p, ok := e.Payload.(map[string]any); ok {
				m.applyPushedError(p)
			}
		}),
		m.bus.Subscribe(events.AnalysisCancelled, func(e events.Event) {
			m.store.SetLoading(false, "", "")
		}),
		m.bus.Subscribe(events.AnalysisResultLoading, func(e events.Event) {
			p, ok := e.Payload.(map[string]any)
			if !ok {
				return
			}
			loading, _ := p["loading"].(bool)
			requestID, _ := p["requestId"].(string)
			messageID, _ := p["messageId"].(string)
			if loading && requestID == "" {
				// A loading push with no request id cannot satisfy the
				// pending-request invariant; ignore it.
				return
			}
			if !loading {
				requestID, messageID = "", ""
			}
			m.store.SetLoading(loading, requestID, messageID)
		}),
		m.bus.Subscribe(events.AnalysisResultClear, func(e events.Event) {
			p, ok := e.Payload.(map[string]any)
			if !ok {
				return
			}
			sessionID, _ := p["sessionId"].(string)
			if sessionID == "" {
				return
			}
			if messageID, _ := p["messageId"].(string); messageID != "" {
				m.store.ClearMessageResults(sessionID, messageID)
				return
			}
			m.store.ClearResults(sessionID)
		}),
	}

	m.mu.Lock()
	m.unsubs = append(m.unsubs, unsubs...)
	m.mu.Unlock()
}

// Threads returns a snapshot of the local thread list.
func (m *Manager) Threads() []thread.Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Thread returns a deep copy of one thread.
func (m *Manager) Thread(threadID string) (thread.Thread, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := thread.FindByID(m.threads, threadID); i >= 0 {
		return m.threads[i].Clone(), true
	}
	return thread.Thread{}, false
}

// ActiveThreadID returns the thread the UI is focused on.
func (m *Manager) ActiveThreadID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// SwitchThread moves UI focus to another thread. An in-flight send keeps
// targeting the thread it started on.
func (m *Manager) SwitchThread(threadID string) {
	m.mu.Lock()
	m.active = threadID
	m.mu.Unlock()
	m.store.SwitchSession(threadID)
}

// NewThread creates a thread for a data source and makes it active.
func (m *Manager) NewThread(ctx context.Context, dataSourceID, title string) (thread.Thread, error) {
	if title == "" {
		title = thread.DefaultTitle
	}
	t, err := m.agent.CreateThread(ctx, dataSourceID, title)
	if err != nil {
		return thread.Thread{}, err
	}

	m.mu.Lock()
	m.threads = append([]thread.Thread{t}, m.threads...)
	m.active = t.ID
	m.mu.Unlock()

	m.store.SwitchSession(t.ID)
	m.bus.Publish(events.ThreadUpdated, events.ThreadUpdatedPayload{ThreadID: t.ID})
	return t, nil
}

// DeleteThread removes a thread and its cached results. The free-chat
// thread cannot be deleted.
func (m *Manager) DeleteThread(ctx context.Context, threadID string) error {
	if threadID == thread.FreeChatID {
		return errors.New("the free chat session cannot be deleted")
	}
	if err := m.agent.DeleteThread(ctx, threadID); err != nil {
		return err
	}

	m.mu.Lock()
	if i := thread.FindByID(m.threads, threadID); i >= 0 {
		m.threads = append(m.threads[:i:i], m.threads[i+1:]...)
	}
	if m.active == threadID {
		m.active = thread.FreeChatID
	}
	m.mu.Unlock()

	m.store.ClearResults(threadID)
	m.bus.Publish(events.ThreadUpdated, events.ThreadUpdatedPayload{ThreadID: threadID})
	return nil
}

// StartNewChat opens (or creates) a thread for a data source and
// optionally auto-sends an opening prompt. The host event bus can fire
// this for the same gesture more than once; the correlator inside Send
// absorbs the duplicates.
func (m *Manager) StartNewChat(ctx context.Context, p events.StartNewChatPayload) error {
	title := p.SessionName
	if title == "" {
		title = thread.DefaultTitle
	}
	t, err := m.NewThread(ctx, p.DataSourceID, title)
	if err != nil {
		return err
	}
	if p.Prompt == "" {
		return nil
	}
	return m.Send(ctx, t.ID, p.Prompt)
}

// Send runs the full send state machine for one user message:
// dedup check, optimistic append, persist, analysis call, reconcile,
// terminal cleanup. A duplicate send returns nil with no observable
// effect.
func (m *Manager) Send(ctx context.Context, threadID, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if threadID == "" {
		threadID = thread.FreeChatID
	}

	pending, err := m.corr.Begin(threadID, text)
	if err != nil {
		if errors.Is(err, correlate.ErrDuplicateRequest) {
			log.Debug("duplicate send suppressed", "thread", threadID)
			return nil
		}
		return err
	}
	defer pending.End()

	m.mu.Lock()
	idx := thread.FindByID(m.threads, threadID)
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("thread not found: %s", threadID)
	}
	if correlate.RecentDuplicate(tailSamples(m.threads[idx].Messages), text, m.dupWindow, m.now()) {
		m.mu.Unlock()
		log.Debug("recent identical message suppressed", "thread", threadID)
		return nil
	}

	userMsg := thread.NewUserMessage(text)
	m.threads[idx].Messages = append(m.threads[idx].Messages, userMsg)
	isFirstMessage := len(m.threads[idx].Messages) == 1
	titleIsDefault := m.threads[idx].Title == thread.DefaultTitle
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	// Persist the optimistic append before the analysis call so the
	// backend's own side effects on the thread never land on top of an
	// unsent local copy.
	if err := m.agent.SaveThreadHistory(ctx, snapshot); err != nil {
		m.failSend(ctx, threadID, err, false)
		return err
	}
	m.bus.Publish(events.ThreadUpdated, events.ThreadUpdatedPayload{ThreadID: threadID})

	if isFirstMessage && titleIsDefault {
		m.renameFromFirstMessage(ctx, threadID, text)
	}

	m.store.SetLoading(true, pending.RequestID, userMsg.ID)
	m.bus.Publish(events.ChatLoading, events.ChatLoadingPayload{Loading: true})
	defer func() {
		// Terminal step: loading and pending-request state clear exactly
		// once whether the send succeeded, failed, or was cancelled.
		m.store.SetLoading(false, "", "")
		m.bus.Publish(events.ChatLoading, events.ChatLoadingPayload{Loading: false})
	}()

	reply, err := m.agent.SendMessage(ctx, threadID, text, userMsg.ID, pending.RequestID)
	if err != nil {
		m.failSend(ctx, threadID, err, true)
		return err
	}

	m.reconcileSuccess(ctx, threadID, reply)
	return nil
}

// reconcileSuccess merges the assistant reply into the authoritative
// thread copy. The reload is mandatory: the backend may have attached a
// result reference to the user's own message while processing, and
// appending to the pre-call local copy would clobber it.
func (m *Manager) reconcileSuccess(ctx context.Context, threadID, reply string) {
	assistant := thread.NewAssistantMessage(reply)

	reloaded, err := m.agent.ThreadHistory(ctx)
	if err == nil {
		if idx := thread.FindByID(reloaded, threadID); idx >= 0 {
			reloaded[idx].Messages = append(reloaded[idx].Messages, assistant)
			if err := m.agent.SaveThreadHistory(ctx, reloaded); err != nil {
				log.Error("failed to persist reconciled thread", "thread", threadID, "error", err)
			}
			m.mu.Lock()
			m.threads = reloaded
			m.mu.Unlock()
			m.bus.Publish(events.ThreadUpdated, events.ThreadUpdatedPayload{ThreadID: threadID})
			return
		}
		log.Warn("thread missing from reload, merging locally", "thread", threadID)
	} else {
		log.Warn("thread reload failed, merging locally", "thread", threadID, "error", err)
	}

	// Degraded path: append to the best-known local copy. If the thread
	// is gone entirely (deleted while in flight, possibly after a
	// cancel), drop the late reply.
	m.mu.Lock()
	idx := thread.FindByID(m.threads, threadID)
	if idx < 0 {
		m.mu.Unlock()
		log.Warn("dropping reply for deleted thread", "thread", threadID)
		return
	}
	m.threads[idx].Messages = append(m.threads[idx].Messages, assistant)
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if err := m.agent.SaveThreadHistory(ctx, snapshot); err != nil {
		log.Error("failed to persist locally merged thread", "thread", threadID, "error", err)
	}
	m.bus.Publish(events.ThreadUpdated, events.ThreadUpdatedPayload{ThreadID: threadID})
}

// failSend handles a send rejection. The optimistic user message stays —
// once persisted it is a committed fact. A backend conflict becomes a
// distinct warning with no in-thread message; any other failure becomes a
// synthesized assistant error message so the user sees it in context.
func (m *Manager) failSend(ctx context.Context, threadID string, sendErr error, appendMessage bool) {
	if bridge.IsConflict(sendErr) {
		info := results.NewErrorInfo(results.CodeResourceBusy, sendErr.Error(), "")
		m.store.SetErrorWithInfo(info)
		m.bus.Publish(events.AnalysisError, info)
		return
	}

	code := bridge.ErrorCode(sendErr)
	if code == "" {
		code = results.CodeAnalysisError
	}
	info := results.NewErrorInfo(code, sendErr.Error(), "")
	m.store.SetErrorWithInfo(info)
	m.bus.Publish(events.AnalysisError, info)

	if !appendMessage {
		return
	}

	m.mu.Lock()
	idx := thread.FindByID(m.threads, threadID)
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	errMsg := thread.NewAssistantMessage("The analysis could not be completed: " + sendErr.Error())
	m.threads[idx].Messages = append(m.threads[idx].Messages, errMsg)
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	// No reload here: the failure implies no trustworthy new backend
	// state exists.
	if err := m.agent.SaveThreadHistory(ctx, snapshot); err != nil {
		log.Error("failed to persist error message", "thread", threadID, "error", err)
	}
	m.bus.Publish(events.ThreadUpdated, events.ThreadUpdatedPayload{ThreadID: threadID})
}

// renameFromFirstMessage derives a title from the first user message. A
// rename failure is logged and never blocks the send.
func (m *Manager) renameFromFirstMessage(ctx context.Context, threadID, text string) {
	applied, err := m.agent.UpdateThreadTitle(ctx, threadID, deriveTitle(text))
	if err != nil {
		log.Warn("failed to derive thread title", "thread", threadID, "error", err)
		return
	}
	m.mu.Lock()
	if idx := thread.FindByID(m.threads, threadID); idx >= 0 {
		m.threads[idx].Title = applied
	}
	m.mu.Unlock()
}

// Cancel asks the backend to stop the running analysis and clears local
// loading state. It cannot un-send the request; a late response is
// reconciled normally if the thread still exists.
func (m *Manager) Cancel(ctx context.Context) error {
	err := m.agent.CancelAnalysis(ctx)
	if err != nil {
		log.Warn("cancel request failed", "error", err)
	}
	m.store.SetLoading(false, "", "")
	m.bus.Publish(events.ChatLoading, events.ChatLoadingPayload{Loading: false})
	return err
}

// ingestBatch feeds a pushed result batch into the store and flags the
// owning message so the thread list knows it has artifacts.
func (m *Manager) ingestBatch(batch results.Batch) {
	m.store.UpdateResults(batch)
	if !batch.IsComplete {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	idx := thread.FindByID(m.threads, batch.SessionID)
	if idx < 0 {
		return
	}
	for i := range m.threads[idx].Messages {
		if m.threads[idx].Messages[i].ID == batch.MessageID {
			m.threads[idx].Messages[i].HasAnalysisData = true
			break
		}
	}
}

// applyPushedError surfaces an error event pushed by the gateway.
func (m *Manager) applyPushedError(p map[string]any) {
	code, _ := p["code"].(string)
	message, _ := p["message"].(string)
	if message == "" {
		message, _ = p["error"].(string)
	}
	details, _ := p["details"].(string)
	if code == "" {
		code = results.CodeAnalysisError
	}
	m.store.SetErrorWithInfo(results.NewErrorInfo(code, message, details))
}

// snapshotLocked deep-copies the thread list. Callers must hold m.mu.
func (m *Manager) snapshotLocked() []thread.Thread {
	out := make([]thread.Thread, len(m.threads))
	for i := range m.threads {
		out[i] = m.threads[i].Clone()
	}
	return out
}

func tailSamples(msgs []thread.Message) []correlate.Sample {
	samples := make([]correlate.Sample, len(msgs))
	for i, msg := range msgs {
		samples[i] = correlate.Sample{
			Role:      string(msg.Role),
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		}
	}
	return samples
}

// deriveTitle trims and bounds the first message for use as a title.
func deriveTitle(text string) string {
	title := strings.TrimSpace(text)
	if runes := []rune(title); len(runes) > titleRuneLimit {
		title = string(runes[:titleRuneLimit])
	}
	return title
}
