package sessions

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Desarso/tabchat/completion"
	"github.com/Desarso/tabchat/logger"
	"github.com/Desarso/tabchat/models"
	"github.com/Desarso/tabchat/tabs"
	"github.com/Desarso/tabchat/toolbox"
	"github.com/gorilla/websocket"
)

// ConversationStore is the persistence the HTTP surface browses directly.
type ConversationStore interface {
	List(ctx context.Context, opts models.ListOptions) ([]models.ConversationSummary, error)
	Search(ctx context.Context, query string, limit int) ([]models.ConversationSummary, error)
	Delete(ctx context.Context, id string) error
}

// Server exposes tabs over HTTP, websocket and SSE. Generations run in the background
// and their progress reaches clients through the tab's notifier.
type Server struct {
	orch          *completion.Orchestrator
	tabs          *tabs.Manager
	store         ConversationStore
	toolbox       *toolbox.Toolbox
	maxToolRounds int
	log           *logger.Logger
	defaults      models.GenerationOptions
	upgrader      websocket.Upgrader
	writeTimeout  time.Duration
	now           func() time.Time
	corsOrigins   []string
	limiter       *sendLimiter

	ctx    context.Context
	cancel context.CancelFunc
	sends  sync.WaitGroup

	mu      sync.Mutex
	streams map[string]map[*subscription]struct{}
}

type Option func(*Server)

func WithStore(store ConversationStore) Option {
	return func(s *Server) { s.store = store }
}

// WithToolbox lets the server run approved tool calls itself instead of waiting for
// the client. At most rounds follow-up generations run per request.
func WithToolbox(tb *toolbox.Toolbox, rounds int) Option {
	return func(s *Server) {
		s.toolbox = tb
		s.maxToolRounds = rounds
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Server) { s.log = logger.OrNop(l) }
}

// WithDefaults sets the options given to composers of newly opened tabs.
func WithDefaults(opts models.GenerationOptions) Option {
	return func(s *Server) { s.defaults = opts }
}

func WithUpgrader(u websocket.Upgrader) Option {
	return func(s *Server) { s.upgrader = u }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// WithCORS allows browser clients from origins.
func WithCORS(origins ...string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithSendRateLimit caps generation requests per tab. perMinute <= 0 disables the cap.
func WithSendRateLimit(perMinute, burst int) Option {
	return func(s *Server) {
		if perMinute <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = newSendLimiter(perMinute, burst)
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a server driving orch.
func NewServer(orch *completion.Orchestrator, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		orch: orch,
		tabs: orch.Tabs(),
		log:  logger.Nop(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		writeTimeout: 10 * time.Second,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
		streams:      make(map[string]map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "sessions")
	return s
}

// Wait blocks until every background generation has returned.
func (s *Server) Wait() {
	s.sends.Wait()
}

// Close cancels in-flight generations and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.sends.Wait()
}

// dispatch runs a generation in the background. Completed generations whose calls
// the toolbox approves are answered and continued, up to maxToolRounds times, for as
// long as no other request begins on the tab.
func (s *Server) dispatch(tabID, op string, opts *models.GenerationOptions, run func(ctx context.Context) completion.Outcome) {
	s.sends.Add(1)
	go func() {
		defer s.sends.Done()
		// run begins exactly one request; if any other begins meanwhile the
		// generation moves past gen and no tool round follows.
		gen, _ := s.tabs.Generation(tabID)
		gen++
		outcome := run(s.ctx)
		s.log.Info("generation finished", "tab_id", tabID, "op", op, "outcome", outcome)

		for round := 1; outcome == completion.OutcomeCompleted && round <= s.maxToolRounds; round++ {
			next, ok := s.runApprovedTools(s.ctx, tabID, gen, s.optionsFor(tabID, opts))
			if !ok {
				return
			}
			gen++
			outcome = next
			s.log.Info("tool round finished", "tab_id", tabID, "round", round, "outcome", outcome)
		}
	}()
}
