package sessions

import (
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// subscription relays notifier callbacks for one stream client.
type subscription struct {
	updates     chan struct{}
	disposed    chan struct{}
	unsubscribe func()
	once        sync.Once
	lastBusy    bool
}

func (s *Server) subscribe(tabID string) *subscription {
	sub := &subscription{
		updates:  make(chan struct{}, 1),
		disposed: make(chan struct{}),
	}
	sub.unsubscribe = s.tabs.Notifier().Subscribe(tabID, func() {
		select {
		case sub.updates <- struct{}{}:
		default:
		}
	})

	s.mu.Lock()
	set, ok := s.streams[tabID]
	if !ok {
		set = make(map[*subscription]struct{})
		s.streams[tabID] = set
	}
	set[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

func (s *Server) unsubscribe(tabID string, sub *subscription) {
	sub.unsubscribe()
	s.mu.Lock()
	if set, ok := s.streams[tabID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(s.streams, tabID)
		}
	}
	s.mu.Unlock()
}

// closeStreams tells every stream on tabID that the tab is gone.
func (s *Server) closeStreams(tabID string) {
	s.mu.Lock()
	set := s.streams[tabID]
	delete(s.streams, tabID)
	s.mu.Unlock()
	for sub := range set {
		sub.once.Do(func() { close(sub.disposed) })
	}
}

// snapshot builds the next event for sub. The hydrated conversation rides along on the
// first event and whenever the tab's busy state flips.
func (s *Server) snapshot(tabID string, sub *subscription, first bool) StreamEvent {
	st, ok := s.tabs.Status(tabID)
	if !ok {
		return StreamEvent{Type: EventDisposed, TabID: tabID}
	}
	ev := StreamEvent{Type: EventSnapshot, TabID: tabID, Status: &st}
	if buf := s.tabs.Buffer(tabID); buf != nil {
		ev.Text = buf.Display()
	}
	if first || sub.lastBusy != st.Busy {
		if conv, ok := s.tabs.Conversation(tabID); ok {
			view := NewConversationView(conv)
			ev.Type = EventConversation
			ev.Conversation = &view
		}
	}
	sub.lastBusy = st.Busy
	return ev
}

func (s *Server) streamTab(c *gin.Context) {
	tabID := c.Param("tabID")
	if !s.tabs.Exists(tabID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "tab not found"})
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "tab_id", tabID, "error", err)
		return
	}
	defer conn.Close()

	log := s.log.With("tab_id", tabID, "stream", "websocket")
	w := &WebSocketWriter{Conn: conn, Logger: log, WriteTimeout: s.writeTimeout}
	sub := s.subscribe(tabID)
	defer s.unsubscribe(tabID, sub)

	clientGone := make(chan struct{})
	go s.readClientMessages(tabID, w, clientGone)

	if err := w.WriteResponse(s.snapshot(tabID, sub, true)); err != nil {
		log.Debug("initial snapshot failed", "error", err)
		return
	}
	for {
		select {
		case <-clientGone:
			return
		case <-sub.disposed:
			_ = w.WriteResponse(StreamEvent{Type: EventDisposed, TabID: tabID})
			return
		case <-sub.updates:
			ev := s.snapshot(tabID, sub, false)
			if err := w.WriteResponse(ev); err != nil {
				log.Debug("stream write failed", "error", err)
				return
			}
			if ev.Type == EventDisposed {
				return
			}
		}
	}
}

// readClientMessages applies client control messages until the connection closes.
func (s *Server) readClientMessages(tabID string, w *WebSocketWriter, done chan<- struct{}) {
	defer close(done)
	for {
		var msg ClientMessage
		if err := w.Conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.Logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		switch msg.Type {
		case "activate":
			s.tabs.SetActive(tabID)
		case "scroll":
			s.tabs.SetScrollTop(tabID, msg.ScrollTop)
		case "stop":
			s.orch.Stop(tabID)
		default:
			w.Logger.Warn("unknown client message", "type", msg.Type)
			_ = w.WriteError("unknown message type: " + msg.Type)
		}
	}
}

// eventsTab streams the same events as streamTab over server-sent events.
func (s *Server) eventsTab(c *gin.Context) {
	tabID := c.Param("tabID")
	if !s.tabs.Exists(tabID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "tab not found"})
		return
	}
	sub := s.subscribe(tabID)
	defer s.unsubscribe(tabID, sub)

	first := true
	c.Stream(func(w io.Writer) bool {
		if first {
			first = false
			ev := s.snapshot(tabID, sub, true)
			c.SSEvent(ev.Type, ev)
			return true
		}
		select {
		case <-c.Request.Context().Done():
			return false
		case <-sub.disposed:
			c.SSEvent(EventDisposed, StreamEvent{Type: EventDisposed, TabID: tabID})
			return false
		case <-sub.updates:
			ev := s.snapshot(tabID, sub, false)
			c.SSEvent(ev.Type, ev)
			return ev.Type != EventDisposed
		}
	})
}
