package session

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/mcpkit/mcp-core-go/pkg/mcperrors"
)

// Outcome is the terminal result of one outbound request: a raw result
// payload or an error (wire error, timeout, cancellation or transport
// failure), never both.
type Outcome struct {
	Result json.RawMessage
	Err    error
}

// RegisterOptions configure one tracked request.
type RegisterOptions struct {
	// Timeout completes the request with a timeout error when it elapses.
	// Zero means no deadline.
	Timeout time.Duration

	// ProgressToken correlates notifications/progress with this request.
	// Progress arriving for the token extends the timeout window.
	ProgressToken string
}

type pendingEntry struct {
	id      string
	method  string
	token   string
	timeout time.Duration
	timer   *time.Timer
	ch      chan Outcome
}

// Tracker correlates outbound requests with their responses. IDs are a
// monotonic counter rendered as strings; an id is never reused within a
// session, including across cancellations and timeouts.
type Tracker struct {
	mu      sync.Mutex
	next    int64
	entries map[string]*pendingEntry
	byToken map[string]*pendingEntry

	// onChange, when set, observes the pending count after every mutation.
	onChange func(n int)
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[string]*pendingEntry),
		byToken: make(map[string]*pendingEntry),
	}
}

// SetChangeObserver registers a callback invoked with the pending count
// after every registration and completion. Set before first use.
func (t *Tracker) SetChangeObserver(fn func(n int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Register allocates an id for an outbound request and returns the channel
// its outcome will arrive on. The channel is buffered; completion never
// blocks on the caller.
func (t *Tracker) Register(method string, opts RegisterOptions) (string, <-chan Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	id := strconv.FormatInt(t.next, 10)

	e := &pendingEntry{
		id:      id,
		method:  method,
		token:   opts.ProgressToken,
		timeout: opts.Timeout,
		ch:      make(chan Outcome, 1),
	}
	t.entries[id] = e
	if e.token != "" {
		t.byToken[e.token] = e
	}
	if e.timeout > 0 {
		e.timer = time.AfterFunc(e.timeout, func() { t.timeout(id) })
	}

	t.notifyLocked()
	return id, e.ch
}

// Resolve completes the request with a result. Unknown ids (already
// resolved, timed out or cancelled) are a no-op; the return value reports
// whether the id was still pending.
func (t *Tracker) Resolve(id string, result json.RawMessage) bool {
	return t.complete(id, Outcome{Result: result})
}

// Reject completes the request with an error. Unknown ids are a no-op.
func (t *Tracker) Reject(id string, err error) bool {
	return t.complete(id, Outcome{Err: err})
}

// Cancel completes the request with a cancellation error. It reports
// whether the id was still pending; the caller emits the cancellation
// notification only in that case.
func (t *Tracker) Cancel(id, reason string) bool {
	return t.complete(id, Outcome{Err: mcperrors.RequestCancelled(id, reason)})
}

// Progress records progress for a token, extending the request's timeout
// window by its original duration. The entry stays pending: progress is a
// liveness signal, not a completion.
func (t *Tracker) Progress(token string) bool {
	if token == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byToken[token]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Reset(e.timeout)
	}
	return true
}

// Method returns the method of a still-pending request.
func (t *Tracker) Method(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return "", false
	}
	return e.method, true
}

// Len reports the number of pending requests.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// FailAll completes every pending request with the given error. Used when
// the transport closes: there is no peer left to answer.
func (t *Tracker) FailAll(err error) {
	t.mu.Lock()
	entries := make([]*pendingEntry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.entries = make(map[string]*pendingEntry)
	t.byToken = make(map[string]*pendingEntry)
	for _, e := range entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	t.notifyLocked()
	t.mu.Unlock()

	for _, e := range entries {
		e.ch <- Outcome{Err: err}
	}
}

func (t *Tracker) timeout(id string) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	t.removeLocked(e)
	t.mu.Unlock()

	e.ch <- Outcome{Err: mcperrors.RequestTimeout(id, e.method, e.timeout)}
}

// complete removes the entry and delivers the outcome. Reports whether the
// id was still pending; later completions for the same id are no-ops, so
// resolve-then-reject races settle on whichever arrived first.
func (t *Tracker) complete(id string, out Outcome) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return false
	}
	t.removeLocked(e)
	t.mu.Unlock()

	e.ch <- out
	return true
}

// removeLocked unlinks the entry and stops its timer. Callers hold t.mu.
func (t *Tracker) removeLocked(e *pendingEntry) {
	delete(t.entries, e.id)
	if e.token != "" {
		delete(t.byToken, e.token)
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	t.notifyLocked()
}

func (t *Tracker) notifyLocked() {
	if t.onChange != nil {
		t.onChange(len(t.entries))
	}
}
