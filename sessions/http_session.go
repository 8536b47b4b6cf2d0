package sessions

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Desarso/tabchat/completion"
	"github.com/Desarso/tabchat/models"
	"github.com/Desarso/tabchat/stores"
	"github.com/Desarso/tabchat/tabs"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Router returns a gin engine with every route mounted under /api/v1.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	if len(s.corsOrigins) > 0 {
		router.Use(corsMiddleware(s.corsOrigins))
	}
	s.RegisterRoutes(router.Group("/api/v1"))
	return router
}

// RegisterRoutes mounts the tab and conversation routes on r.
func (s *Server) RegisterRoutes(r gin.IRouter) {
	r.GET("/tabs", s.listTabs)
	r.PUT("/tabs/:tabID", s.openTab)
	r.GET("/tabs/:tabID", s.getTab)
	r.DELETE("/tabs/:tabID", s.disposeTab)
	r.POST("/tabs/:tabID/activate", s.activateTab)
	r.POST("/tabs/:tabID/scroll", s.scrollTab)
	r.POST("/tabs/:tabID/messages", s.limitSends(), s.sendMessage)
	r.PUT("/tabs/:tabID/messages/:messageID", s.limitSends(), s.editMessage)
	r.POST("/tabs/:tabID/messages/:messageID/resend", s.limitSends(), s.resendMessage)
	r.POST("/tabs/:tabID/stop", s.stopTab)
	r.GET("/tabs/:tabID/stream", s.streamTab)
	r.GET("/tabs/:tabID/events", s.eventsTab)

	r.GET("/conversations", s.listConversations)
	r.GET("/conversations/search", s.searchConversations)
	r.DELETE("/conversations/:conversationID", s.deleteConversation)
}

func (s *Server) listTabs(c *gin.Context) {
	ids := s.tabs.Tabs()
	out := make([]tabs.Status, 0, len(ids))
	for _, id := range ids {
		if st, ok := s.tabs.Status(id); ok {
			out = append(out, st)
		}
	}
	c.JSON(http.StatusOK, gin.H{"tabs": out, "active": s.tabs.ActiveTab()})
}

func (s *Server) openTab(c *gin.Context) {
	tabID := c.Param("tabID")
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.tabs.GetOrCreate(tabID)
	s.ensureComposer(tabID, req.Options)

	if req.ConversationID == "" {
		now := s.now()
		conv := models.Conversation{ID: uuid.NewString(), Title: req.Title, CreatedAt: now, ModifiedAt: now}
		s.tabs.SetConversation(tabID, conv)
		s.tabs.Notifier().NotifyNow(tabID)
		c.JSON(http.StatusCreated, NewConversationView(conv))
		return
	}

	conv, err := s.orch.Open(c.Request.Context(), tabID, req.ConversationID, req.Title, req.Force)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, stores.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, NewConversationView(conv))
}

func (s *Server) getTab(c *gin.Context) {
	tabID := c.Param("tabID")
	st, ok := s.tabs.Status(tabID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "tab not found"})
		return
	}
	view := TabView{Status: st}
	if buf := s.tabs.Buffer(tabID); buf != nil {
		view.Text = buf.Display()
	}
	if top, ok := s.tabs.ScrollTopSnapshot(tabID); ok {
		view.ScrollTop = &top
	}
	if conv, ok := s.tabs.Conversation(tabID); ok {
		cv := NewConversationView(conv)
		view.Conversation = &cv
	}
	if p, ok := s.tabs.Composer(tabID).(pendingToolCalls); ok {
		view.PendingCalls = p.PendingToolCalls()
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) disposeTab(c *gin.Context) {
	tabID := c.Param("tabID")
	if !s.tabs.Exists(tabID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "tab not found"})
		return
	}
	s.tabs.Dispose(tabID)
	s.closeStreams(tabID)
	if s.limiter != nil {
		s.limiter.forget(tabID)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) activateTab(c *gin.Context) {
	tabID := c.Param("tabID")
	if !s.tabs.Exists(tabID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "tab not found"})
		return
	}
	s.tabs.SetActive(tabID)
	c.Status(http.StatusNoContent)
}

func (s *Server) scrollTab(c *gin.Context) {
	tabID := c.Param("tabID")
	var req ScrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.tabs.Exists(tabID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "tab not found"})
		return
	}
	s.tabs.SetScrollTop(tabID, req.ScrollTop)
	c.Status(http.StatusNoContent)
}

func (s *Server) sendMessage(c *gin.Context) {
	tabID := c.Param("tabID")
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.tabs.Exists(tabID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "tab not found"})
		return
	}
	conv, ok := s.tabs.Conversation(tabID)
	if !ok {
		now := s.now()
		conv = models.Conversation{ID: uuid.NewString(), CreatedAt: now, ModifiedAt: now}
	}
	conv = withoutPlaceholders(conv)

	inputs, err := toolOutputUnits(conv, req.ToolOutputs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Text != "" {
		inputs = append(inputs, models.MessageUnit{Text: req.Text})
	}
	if len(inputs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message must contain text or tool outputs"})
		return
	}

	opts := s.optionsFor(tabID, req.Options)
	msg := models.ConversationMessage{
		ID:          uuid.NewString(),
		CreatedAt:   s.now(),
		Role:        models.RoleUser,
		Status:      models.StatusCompleted,
		Inputs:      inputs,
		ToolChoices: opts.ToolChoices,
	}
	conv.Messages = append(conv.Messages, msg)
	if len(req.ToolOutputs) > 0 {
		if comp := s.tabs.Composer(tabID); comp != nil {
			comp.LoadToolCalls(nil)
		}
	}

	s.dispatch(tabID, "send", &opts, func(ctx context.Context) completion.Outcome {
		return s.orch.Send(ctx, tabID, conv, opts)
	})
	c.JSON(http.StatusAccepted, gin.H{"conversation_id": conv.ID, "message_id": msg.ID})
}

func (s *Server) editMessage(c *gin.Context) {
	tabID, messageID := c.Param("tabID"), c.Param("messageID")
	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv, ok := s.tabs.Conversation(tabID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "tab not found"})
		return
	}
	conv = withoutPlaceholders(conv)
	idx := conv.IndexOf(messageID)
	if idx < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	original := conv.Messages[idx]
	if original.Role != models.RoleUser {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only user messages can be edited"})
		return
	}

	edited := original
	edited.Inputs = nil
	for _, u := range original.Inputs {
		if _, isText := u.(models.MessageUnit); !isText {
			edited.Inputs = append(edited.Inputs, u)
		}
	}
	edited.Inputs = append(edited.Inputs, models.MessageUnit{Text: req.Text})
	opts := s.optionsFor(tabID, req.Options)
	edited.ToolChoices = opts.ToolChoices

	s.dispatch(tabID, "edit", &opts, func(ctx context.Context) completion.Outcome {
		return s.orch.Edit(ctx, tabID, conv, idx, edited, opts)
	})
	c.JSON(http.StatusAccepted, gin.H{"conversation_id": conv.ID, "message_id": edited.ID})
}

func (s *Server) resendMessage(c *gin.Context) {
	tabID, messageID := c.Param("tabID"), c.Param("messageID")
	conv, ok := s.tabs.Conversation(tabID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "tab not found"})
		return
	}
	conv = withoutPlaceholders(conv)
	if conv.IndexOf(messageID) < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	s.dispatch(tabID, "resend", nil, func(ctx context.Context) completion.Outcome {
		return s.orch.Resend(ctx, tabID, conv, messageID)
	})
	c.JSON(http.StatusAccepted, gin.H{"conversation_id": conv.ID, "message_id": messageID})
}

func (s *Server) stopTab(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stopped": s.orch.Stop(c.Param("tabID"))})
}

func (s *Server) listConversations(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no conversation store configured"})
		return
	}
	var opts models.ListOptions
	if err := c.ShouldBindQuery(&opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	list, err := s.store.List(c.Request.Context(), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (s *Server) searchConversations(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no conversation store configured"})
		return
	}
	var q SearchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	list, err := s.store.Search(c.Request.Context(), q.Query, q.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (s *Server) deleteConversation(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no conversation store configured"})
		return
	}
	err := s.store.Delete(c.Request.Context(), c.Param("conversationID"))
	switch {
	case errors.Is(err, stores.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.Status(http.StatusNoContent)
	}
}

// ensureComposer attaches a headless composer to tabs that have none, and applies opts
// to composers that accept new options.
func (s *Server) ensureComposer(tabID string, opts *models.GenerationOptions) {
	comp := s.tabs.Composer(tabID)
	if comp == nil {
		base := s.defaults
		if opts != nil {
			base = *opts
		}
		s.tabs.SetComposer(tabID, tabs.NewHeadlessComposer(base))
		return
	}
	if setter, ok := comp.(generationOptionsSetter); ok && opts != nil {
		setter.SetGenerationOptions(*opts)
	}
}

// optionsFor picks the request override, else the composer's options, else defaults.
func (s *Server) optionsFor(tabID string, override *models.GenerationOptions) models.GenerationOptions {
	if override != nil {
		return *override
	}
	if comp := s.tabs.Composer(tabID); comp != nil {
		return comp.GenerationOptions()
	}
	return s.defaults
}

// withoutPlaceholders drops assistant messages still waiting on a superseded request.
func withoutPlaceholders(conv models.Conversation) models.Conversation {
	out := conv
	out.Messages = make([]models.ConversationMessage, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		if m.Role == models.RoleAssistant && m.Status == models.StatusInProgress && len(m.Outputs) == 0 {
			continue
		}
		out.Messages = append(out.Messages, m)
	}
	return out
}
