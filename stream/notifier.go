package stream

import (
	"sync"
	"time"

	"github.com/Desarso/tabchat/logger"
)

// DefaultInterval is how long NotifySoon waits before flushing and notifying.
const DefaultInterval = 140 * time.Millisecond

// Timer is a pending scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler creates timers. The zero-configuration scheduler wraps time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Source exposes the per-tab state the notifier needs.
type Source interface {
	Buffer(tabID string) *Buffer
	IsActive(tabID string) bool
}

// Notifier coalesces stream updates into at most one UI notification per interval per tab.
type Notifier struct {
	source    Source
	scheduler Scheduler
	interval  time.Duration
	log       *logger.Logger

	mu        sync.Mutex
	nextID    uint64
	listeners map[string]map[uint64]func()
	pending   map[string]*pendingTimer
}

type pendingTimer struct {
	timer Timer
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithScheduler replaces the timer source.
func WithScheduler(s Scheduler) Option {
	return func(n *Notifier) { n.scheduler = s }
}

// WithInterval sets the coalescing interval. Non-positive values keep the default.
func WithInterval(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.interval = d
		}
	}
}

// WithLogger sets the logger used for timer diagnostics.
func WithLogger(l *logger.Logger) Option {
	return func(n *Notifier) { n.log = logger.OrNop(l) }
}

// NewNotifier creates a notifier reading tab state from source.
func NewNotifier(source Source, opts ...Option) *Notifier {
	n := &Notifier{
		source:    source,
		scheduler: realScheduler{},
		interval:  DefaultInterval,
		log:       logger.Nop(),
		listeners: make(map[string]map[uint64]func()),
		pending:   make(map[string]*pendingTimer),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Interval returns the coalescing interval.
func (n *Notifier) Interval() time.Duration {
	return n.interval
}

// Subscribe registers fn for notifications about tabID. The returned func removes it.
func (n *Notifier) Subscribe(tabID string, fn func()) (unsubscribe func()) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	set, ok := n.listeners[tabID]
	if !ok {
		set = make(map[uint64]func())
		n.listeners[tabID] = set
	}
	set[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if set, ok := n.listeners[tabID]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(n.listeners, tabID)
				}
			}
		})
	}
}

// NotifySoon schedules a flush and notification for tabID unless the tab is not active
// or one is already pending.
func (n *Notifier) NotifySoon(tabID string) {
	if !n.source.IsActive(tabID) {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.pending[tabID]; ok {
		return
	}
	p := &pendingTimer{}
	n.pending[tabID] = p
	p.timer = n.scheduler.AfterFunc(n.interval, func() { n.fire(tabID, p) })
}

func (n *Notifier) fire(tabID string, p *pendingTimer) {
	n.mu.Lock()
	if n.pending[tabID] != p {
		// Forgotten or superseded while waiting.
		n.mu.Unlock()
		return
	}
	delete(n.pending, tabID)
	n.mu.Unlock()

	n.flushAndNotify(tabID)
}

// NotifyNow flushes the tab's buffer and invokes its listeners synchronously.
func (n *Notifier) NotifyNow(tabID string) {
	n.flushAndNotify(tabID)
}

// Forget stops any pending timer for tabID and drops its listeners.
func (n *Notifier) Forget(tabID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.pending[tabID]; ok {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(n.pending, tabID)
	}
	delete(n.listeners, tabID)
}

// Pending reports whether a timer is scheduled for tabID.
func (n *Notifier) Pending(tabID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.pending[tabID]
	return ok
}

func (n *Notifier) flushAndNotify(tabID string) {
	if buf := n.source.Buffer(tabID); buf != nil {
		buf.Flush()
	}

	n.mu.Lock()
	set := n.listeners[tabID]
	fns := make([]func(), 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		n.call(tabID, fn)
	}
}

func (n *Notifier) call(tabID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("stream listener panicked", "tab_id", tabID, "panic", r)
		}
	}()
	fn()
}
