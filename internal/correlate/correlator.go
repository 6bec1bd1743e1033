// Package correlate issues and tracks request ids for outbound analysis
// requests, and suppresses duplicate sends caused by re-entrant event
// delivery (the host event bus can fire the same logical user gesture more
// than once).
package correlate

import (
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// ErrDuplicateRequest is returned when an identical (thread, text) send is
// already pending or inside the grace window. Callers treat it as a silent
// no-op; it never reaches the user.
var ErrDuplicateRequest = errors.New("duplicate request suppressed")

const (
	// DefaultGrace keeps a released key blocked briefly so a re-fired
	// event arriving just after the first request finished is still
	// suppressed.
	DefaultGrace = 2 * time.Second

	// defaultStaleAfter expires a key whose End was never called. This is
	// a backstop; End runs from a defer and is the primary mechanism.
	defaultStaleAfter = 5 * time.Minute

	// recentScanDepth bounds the duplicate scan over the thread's tail.
	recentScanDepth = 5
)

// Correlator is the pending-key table. One instance per process, injected
// rather than ambient, so tests can isolate their own.
type Correlator struct {
	mu         sync.Mutex
	pending    map[string]*entry
	grace      time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

type entry struct {
	requestID  string
	startedAt  time.Time
	inFlight   bool
	releasedAt time.Time
}

// Option adjusts correlator behavior.
type Option func(*Correlator)

// WithGrace overrides the post-release grace window.
func WithGrace(d time.Duration) Option {
	return func(c *Correlator) { c.grace = d }
}

// WithClock substitutes the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) { c.now = now }
}

// New creates a correlator.
func New(opts ...Option) *Correlator {
	c := &Correlator{
		pending:    make(map[string]*entry),
		grace:      DefaultGrace,
		staleAfter: defaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pending is the handle for one tracked request.
type Pending struct {
	RequestID string

	c    *Correlator
	key  string
	once sync.Once
}

// Begin registers an outbound send keyed by (threadID, text) and mints its
// request id. It fails with ErrDuplicateRequest while an identical key is
// in flight or inside the grace window after release. The check-and-commit
// is atomic; there is no window between them for a racing duplicate.
func (c *Correlator) Begin(threadID, text string) (*Pending, error) {
	key := threadID + "\x00" + text
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.pending[key]; ok {
		switch {
		case e.inFlight && now.Sub(e.startedAt) < c.staleAfter:
			return nil, ErrDuplicateRequest
		case !e.inFlight && now.Sub(e.releasedAt) < c.grace:
			return nil, ErrDuplicateRequest
		default:
			if e.inFlight {
				log.Warn("expiring stale pending request", "thread", threadID, "request", e.requestID)
			}
			delete(c.pending, key)
		}
	}

	e := &entry{
		requestID: uuid.New().String(),
		startedAt: now,
		inFlight:  true,
	}
	c.pending[key] = e
	return &Pending{RequestID: e.requestID, c: c, key: key}, nil
}

// End releases the pending key, starting the grace window. It is
// idempotent and must be called from a defer so a failed downstream call
// cannot leave the key stuck.
func (p *Pending) End() {
	p.once.Do(func() {
		p.c.mu.Lock()
		defer p.c.mu.Unlock()
		if e, ok := p.c.pending[p.key]; ok && e.requestID == p.RequestID {
			e.inFlight = false
			e.releasedAt = p.c.now()
		}
	})
}

// PendingCount reports the number of tracked keys, in-flight or in grace.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Sample is the slice of a message the duplicate scan needs.
type Sample struct {
	Role      string
	Content   string
	Timestamp int64 // unix seconds
}

// RecentDuplicate reports whether the tail of a thread already contains a
// user message with identical content inside the window. This second,
// independent check catches the case where the optimistic append has
// already landed by the time a racing duplicate event arrives, after the
// correlator's own key was cleared. The window is configurable because it
// also suppresses a user who genuinely retypes the same question quickly;
// a zero window disables the scan.
func RecentDuplicate(tail []Sample, text string, window time.Duration, now time.Time) bool {
	if window <= 0 {
		return false
	}
	start := len(tail) - recentScanDepth
	if start < 0 {
		start = 0
	}
	for _, m := range tail[start:] {
		if m.Role != "user" || m.Content != text {
			continue
		}
		age := now.Unix() - m.Timestamp
		if age < 0 {
			age = 0
		}
		if time.Duration(age)*time.Second <= window {
			return true
		}
	}
	return false
}
