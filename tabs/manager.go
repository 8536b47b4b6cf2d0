package tabs

import (
	"context"
	"sort"
	"sync"

	"github.com/Desarso/tabchat/logger"
	"github.com/Desarso/tabchat/models"
	"github.com/Desarso/tabchat/stream"
	"github.com/google/uuid"
)

// Tab is the runtime state of one open conversation tab. All fields are guarded by the
// owning Manager's mutex.
type Tab struct {
	id             string
	signal         *Signal
	requestID      string
	generation     uint64
	tokensReceived bool
	busy           bool
	buffer         *stream.Buffer
	composer       Composer
	conversation   *models.Conversation
}

// ID returns the tab identifier.
func (t *Tab) ID() string { return t.id }

// Buffer returns the tab's stream buffer.
func (t *Tab) Buffer() *stream.Buffer { return t.buffer }

// Status is a point-in-time view of a tab's request bookkeeping.
type Status struct {
	TabID          string `json:"tab_id"`
	RequestID      string `json:"request_id,omitempty"`
	Busy           bool   `json:"busy"`
	TokensReceived bool   `json:"tokens_received"`
	Active         bool   `json:"active"`
}

// Manager owns every open tab. Request state transitions happen under a single mutex,
// and every method taking a request id only acts while that id is still current.
type Manager struct {
	mu     sync.Mutex
	tabs   map[string]*Tab
	scroll map[string]float64
	active string

	notifier *stream.Notifier
	log      *logger.Logger

	onScrollToBottom func(tabID string)
	onConversation   func(tabID string, conv models.Conversation)
}

// Option configures a Manager.
type Option func(*managerConfig)

type managerConfig struct {
	log              *logger.Logger
	notifierOpts     []stream.Option
	onScrollToBottom func(tabID string)
	onConversation   func(tabID string, conv models.Conversation)
}

// WithLogger sets the manager logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *managerConfig) { c.log = l }
}

// WithNotifierOptions passes options through to the manager's notifier.
func WithNotifierOptions(opts ...stream.Option) Option {
	return func(c *managerConfig) { c.notifierOpts = append(c.notifierOpts, opts...) }
}

// WithScrollToBottom installs the hook run when a finished request belongs to the active tab.
func WithScrollToBottom(fn func(tabID string)) Option {
	return func(c *managerConfig) { c.onScrollToBottom = fn }
}

// WithConversationHook installs the hook run whenever a tab's conversation is replaced.
func WithConversationHook(fn func(tabID string, conv models.Conversation)) Option {
	return func(c *managerConfig) { c.onConversation = fn }
}

// NewManager creates an empty manager and its notifier.
func NewManager(opts ...Option) *Manager {
	cfg := managerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	m := &Manager{
		tabs:             make(map[string]*Tab),
		scroll:           make(map[string]float64),
		log:              logger.OrNop(cfg.log).With("component", "tabs"),
		onScrollToBottom: cfg.onScrollToBottom,
		onConversation:   cfg.onConversation,
	}
	notifierOpts := append([]stream.Option{stream.WithLogger(m.log)}, cfg.notifierOpts...)
	m.notifier = stream.NewNotifier(m, notifierOpts...)
	return m
}

// Notifier returns the throttled notifier bound to this manager.
func (m *Manager) Notifier() *stream.Notifier {
	return m.notifier
}

// GetOrCreate returns the tab, allocating it on first use.
func (m *Manager) GetOrCreate(tabID string) *Tab {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(tabID)
}

func (m *Manager) getOrCreateLocked(tabID string) *Tab {
	if t, ok := m.tabs[tabID]; ok {
		return t
	}
	t := &Tab{id: tabID, buffer: stream.NewBuffer()}
	m.tabs[tabID] = t
	m.log.Debug("tab created", "tab_id", tabID)
	return t
}

// Exists reports whether tabID is open.
func (m *Manager) Exists(tabID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tabs[tabID]
	return ok
}

// Tabs returns the open tab ids in sorted order.
func (m *Manager) Tabs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.tabs))
	for id := range m.tabs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dispose cancels any in-flight request and removes every trace of the tab, including
// notifier listeners and pending timers. Continuations that arrive later find no tab.
func (m *Manager) Dispose(tabID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tabs[tabID]
	if ok {
		if t.signal != nil {
			t.signal.Cancel()
		}
		t.signal = nil
		t.requestID = ""
		t.tokensReceived = false
		t.busy = false
		t.buffer.Reset()
		t.composer = nil
		t.conversation = nil
		delete(m.tabs, tabID)
	}
	delete(m.scroll, tabID)
	if m.active == tabID {
		m.active = ""
	}
	m.notifier.Forget(tabID)
	m.log.Debug("tab disposed", "tab_id", tabID, "existed", ok)
}

// SetScrollTop records the scroll offset of a tab.
func (m *Manager) SetScrollTop(tabID string, offset float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tabs[tabID]; !ok {
		return
	}
	m.scroll[tabID] = offset
}

// ScrollTopSnapshot returns the last recorded scroll offset of a tab.
func (m *Manager) ScrollTopSnapshot(tabID string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	offset, ok := m.scroll[tabID]
	return offset, ok
}

// SetActive marks tabID as the visible tab, creating it if needed.
func (m *Manager) SetActive(tabID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreateLocked(tabID)
	m.active = tabID
}

// ActiveTab returns the visible tab id, or "".
func (m *Manager) ActiveTab() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// IsActive implements stream.Source.
func (m *Manager) IsActive(tabID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return tabID != "" && m.active == tabID
}

// Buffer implements stream.Source. It returns nil for unknown tabs.
func (m *Manager) Buffer(tabID string) *stream.Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tabs[tabID]; ok {
		return t.buffer
	}
	return nil
}

// SetComposer attaches c to the tab.
func (m *Manager) SetComposer(tabID string, c Composer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreateLocked(tabID).composer = c
}

// Composer returns the tab's composer, or nil.
func (m *Manager) Composer(tabID string) Composer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tabs[tabID]; ok {
		return t.composer
	}
	return nil
}

// Conversation returns the tab's current conversation.
func (m *Manager) Conversation(tabID string) (models.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[tabID]
	if !ok || t.conversation == nil {
		return models.Conversation{}, false
	}
	return *t.conversation, true
}

// SetConversation replaces the tab's conversation unconditionally. It reports false when
// the tab does not exist.
func (m *Manager) SetConversation(tabID string, conv models.Conversation) bool {
	m.mu.Lock()
	t, ok := m.tabs[tabID]
	if ok {
		c := conv
		t.conversation = &c
	}
	m.mu.Unlock()
	if ok && m.onConversation != nil {
		m.onConversation(tabID, conv)
	}
	return ok
}

// BeginRequest starts a new generation attempt on the tab. Any previous attempt is
// cancelled and superseded.
func (m *Manager) BeginRequest(ctx context.Context, tabID string) (string, *Signal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[tabID]
	if !ok {
		return "", nil, false
	}
	return t.begin(ctx)
}

// BeginRequestAfter starts a new attempt only if no request has begun on the tab since
// generation gen. It never supersedes a newer request.
func (m *Manager) BeginRequestAfter(ctx context.Context, tabID string, gen uint64) (string, *Signal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[tabID]
	if !ok || t.generation != gen {
		return "", nil, false
	}
	return t.begin(ctx)
}

func (t *Tab) begin(ctx context.Context) (string, *Signal, bool) {
	if t.signal != nil {
		t.signal.Cancel()
	}
	t.signal = NewSignal(ctx)
	t.requestID = uuid.NewString()
	t.generation++
	t.tokensReceived = false
	t.busy = true
	return t.requestID, t.signal, true
}

// Generation counts the requests begun on the tab so far.
func (m *Manager) Generation(tabID string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[tabID]
	if !ok {
		return 0, false
	}
	return t.generation, true
}

// Cancel aborts the tab's in-flight request while keeping it current so that its
// partial output can still be recovered.
func (m *Manager) Cancel(tabID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[tabID]
	if !ok || t.signal == nil {
		return false
	}
	t.signal.Cancel()
	return true
}

// IsCurrent reports whether requestID is the tab's current request.
func (m *Manager) IsCurrent(tabID, requestID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.currentLocked(tabID, requestID)
	return ok
}

func (m *Manager) currentLocked(tabID, requestID string) (*Tab, bool) {
	t, ok := m.tabs[tabID]
	if !ok || requestID == "" || t.requestID != requestID {
		return nil, false
	}
	return t, true
}

// AppendChunk appends streamed text for the current request and marks tokens received.
func (m *Manager) AppendChunk(tabID, requestID, text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.currentLocked(tabID, requestID)
	if !ok {
		return false
	}
	t.tokensReceived = true
	t.buffer.Append(text)
	return true
}

// TokensReceived reports whether the current request has streamed any text.
func (m *Manager) TokensReceived(tabID, requestID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.currentLocked(tabID, requestID)
	return ok && t.tokensReceived
}

// PublishIfCurrent replaces the tab's conversation only while requestID is current.
func (m *Manager) PublishIfCurrent(tabID, requestID string, conv models.Conversation) bool {
	m.mu.Lock()
	t, ok := m.currentLocked(tabID, requestID)
	if ok {
		c := conv
		t.conversation = &c
	}
	m.mu.Unlock()
	if ok && m.onConversation != nil {
		m.onConversation(tabID, conv)
	}
	return ok
}

// FinishRequest ends the current request: the buffer is reset and the tab is idle again.
func (m *Manager) FinishRequest(tabID, requestID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.currentLocked(tabID, requestID)
	if !ok {
		return false
	}
	t.buffer.Reset()
	t.busy = false
	t.requestID = ""
	t.tokensReceived = false
	if t.signal != nil {
		t.signal.Cancel()
		t.signal = nil
	}
	return true
}

// ClearBusy marks the current request idle without otherwise ending it.
func (m *Manager) ClearBusy(tabID, requestID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.currentLocked(tabID, requestID)
	if !ok {
		return false
	}
	t.busy = false
	return true
}

// IsBusy reports whether a request is in flight on the tab.
func (m *Manager) IsBusy(tabID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[tabID]
	return ok && t.busy
}

// Status returns the tab's request bookkeeping.
func (m *Manager) Status(tabID string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[tabID]
	if !ok {
		return Status{}, false
	}
	return Status{
		TabID:          tabID,
		RequestID:      t.requestID,
		Busy:           t.busy,
		TokensReceived: t.tokensReceived,
		Active:         m.active == tabID,
	}, true
}

// ScrollToBottom runs the scroll hook for tabID if one is installed.
func (m *Manager) ScrollToBottom(tabID string) {
	if m.onScrollToBottom != nil {
		m.onScrollToBottom(tabID)
	}
}
