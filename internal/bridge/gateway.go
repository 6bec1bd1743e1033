package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lakeview-ai/lakeview/internal/events"
	"github.com/lakeview-ai/lakeview/internal/results"
	"github.com/lakeview-ai/lakeview/internal/thread"
)

// Gateway is the websocket Agent implementation. Request/response frames
// carry a correlation id; frames with an event name instead of an id are
// server pushes and are republished on the local bus.
type Gateway struct {
	conn *websocket.Conn
	bus  *events.Bus

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan frame
	closed  bool
	done    chan struct{}
}

type frame struct {
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *frameError     `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type frameError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Dial connects to the agent gateway and starts the read loop. Server
// pushes are republished on bus.
func Dial(ctx context.Context, url string, bus *events.Bus) (*Gateway, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial agent gateway: %w", err)
	}

	g := &Gateway{
		conn:    conn,
		bus:     bus,
		pending: make(map[string]chan frame),
		done:    make(chan struct{}),
	}
	go g.readLoop()
	return g, nil
}

// Close tears down the connection. In-flight calls fail with a closed
// error.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	close(g.done)
	g.mu.Unlock()
	return g.conn.Close()
}

func (g *Gateway) readLoop() {
	defer func() {
		g.mu.Lock()
		for id, ch := range g.pending {
			close(ch)
			delete(g.pending, id)
		}
		g.mu.Unlock()
	}()

	for {
		var f frame
		if err := g.conn.ReadJSON(&f); err != nil {
			g.mu.Lock()
			closed := g.closed
			g.mu.Unlock()
			if !closed {
				log.Error("gateway read failed", "error", err)
			}
			return
		}

		if f.Event != "" {
			g.dispatchEvent(f)
			continue
		}

		g.mu.Lock()
		ch, ok := g.pending[f.ID]
		if ok {
			delete(g.pending, f.ID)
		}
		g.mu.Unlock()
		if !ok {
			log.Debug("gateway response with no waiter", "id", f.ID)
			continue
		}
		ch <- f
	}
}

// dispatchEvent decodes known push payloads into their typed shapes and
// republishes them locally. Unknown events pass through as raw maps so a
// newer backend does not break an older client.
func (g *Gateway) dispatchEvent(f frame) {
	if g.bus == nil {
		return
	}
	name := events.Name(f.Event)

	var payload any
	switch name {
	case events.AnalysisResultUpdate:
		var batch results.Batch
		if err := json.Unmarshal(f.Payload, &batch); err != nil {
			log.Warn("undecodable result batch from gateway", "error", err)
			return
		}
		payload = batch
	case events.AnalysisProgress:
		var p events.ProgressPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			log.Warn("undecodable progress event from gateway", "error", err)
			return
		}
		payload = p
	default:
		var m map[string]any
		if len(f.Payload) > 0 {
			if err := json.Unmarshal(f.Payload, &m); err != nil {
				log.Warn("undecodable event payload from gateway", "event", f.Event, "error", err)
				return
			}
		}
		payload = m
	}
	g.bus.Publish(name, payload)
}

// call performs one request/response round trip.
func (g *Gateway) call(ctx context.Context, method string, params any, out any) error {
	id := uuid.New().String()
	ch := make(chan frame, 1)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return &CallError{Code: results.CodeConnectionFailed, Message: "gateway is closed"}
	}
	g.pending[id] = ch
	g.mu.Unlock()

	g.writeMu.Lock()
	err := g.conn.WriteJSON(frame{ID: id, Method: method, Params: params})
	g.writeMu.Unlock()
	if err != nil {
		g.mu.Lock()
		delete(g.pending, id)
		g.mu.Unlock()
		return &CallError{Code: results.CodeConnectionFailed, Message: err.Error()}
	}

	select {
	case <-ctx.Done():
		g.mu.Lock()
		delete(g.pending, id)
		g.mu.Unlock()
		return ctx.Err()
	case <-g.done:
		return &CallError{Code: results.CodeConnectionFailed, Message: "gateway closed during call"}
	case f, ok := <-ch:
		if !ok {
			return &CallError{Code: results.CodeConnectionFailed, Message: "connection lost"}
		}
		if f.Error != nil {
			return &CallError{Code: f.Error.Code, Message: f.Error.Message}
		}
		if out != nil && len(f.Result) > 0 {
			if err := json.Unmarshal(f.Result, out); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

// SendMessage implements Agent.
func (g *Gateway) SendMessage(ctx context.Context, threadID, text, messageID, requestID string) (string, error) {
	var reply string
	err := g.call(ctx, "chat.send", map[string]string{
		"threadId":  threadID,
		"text":      text,
		"messageId": messageID,
		"requestId": requestID,
	}, &reply)
	return reply, err
}

// ThreadHistory implements Agent.
func (g *Gateway) ThreadHistory(ctx context.Context) ([]thread.Thread, error) {
	var threads []thread.Thread
	err := g.call(ctx, "threads.list", nil, &threads)
	return threads, err
}

// SaveThreadHistory implements Agent.
func (g *Gateway) SaveThreadHistory(ctx context.Context, threads []thread.Thread) error {
	return g.call(ctx, "threads.save", map[string]any{"threads": threads}, nil)
}

// CreateThread implements Agent.
func (g *Gateway) CreateThread(ctx context.Context, dataSourceID, title string) (thread.Thread, error) {
	var t thread.Thread
	err := g.call(ctx, "threads.create", map[string]string{
		"dataSourceId": dataSourceID,
		"title":        title,
	}, &t)
	return t, err
}

// UpdateThreadTitle implements Agent.
func (g *Gateway) UpdateThreadTitle(ctx context.Context, threadID, title string) (string, error) {
	var applied string
	err := g.call(ctx, "threads.rename", map[string]string{
		"threadId": threadID,
		"title":    title,
	}, &applied)
	return applied, err
}

// DeleteThread implements Agent.
func (g *Gateway) DeleteThread(ctx context.Context, threadID string) error {
	return g.call(ctx, "threads.delete", map[string]string{"threadId": threadID}, nil)
}

// CancelAnalysis implements Agent.
func (g *Gateway) CancelAnalysis(ctx context.Context) error {
	return g.call(ctx, "analysis.cancel", nil, nil)
}
