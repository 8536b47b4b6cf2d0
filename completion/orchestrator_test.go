package completion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Desarso/tabchat/models"
	"github.com/Desarso/tabchat/tabs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	saved []models.Conversation
	convs map[string]models.Conversation
}

func newMemStore() *memStore {
	return &memStore{convs: make(map[string]models.Conversation)}
}

func (s *memStore) Save(_ context.Context, conv models.Conversation, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, conv)
	s.convs[conv.ID] = conv
	return nil
}

func (s *memStore) Get(_ context.Context, id, title string, _ bool) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return models.Conversation{}, errors.New("not found")
	}
	if c.Title == "" {
		c.Title = title
	}
	return c, nil
}

func (s *memStore) List(context.Context, models.ListOptions) ([]models.ConversationSummary, error) {
	return nil, nil
}

func (s *memStore) Search(context.Context, string, int) ([]models.ConversationSummary, error) {
	return nil, nil
}

func (s *memStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func (s *memStore) last() models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[len(s.saved)-1]
}

type traceRecorder struct {
	mu     sync.Mutex
	traces []Trace
}

func (r *traceRecorder) RecordTrace(_ context.Context, t Trace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces = append(r.traces, t)
	return nil
}

type harness struct {
	manager  *tabs.Manager
	store    *memStore
	composer *tabs.HeadlessComposer
	scrolled chan string
}

func newHarness(t *testing.T, completer Completer, extra ...Option) (*harness, *Orchestrator) {
	t.Helper()
	h := &harness{store: newMemStore(), scrolled: make(chan string, 16)}
	h.manager = tabs.NewManager(tabs.WithScrollToBottom(func(tabID string) { h.scrolled <- tabID }))
	h.manager.SetActive("tab")
	h.composer = tabs.NewHeadlessComposer(models.GenerationOptions{Provider: "composer-provider"})
	h.manager.SetComposer("tab", h.composer)
	opts := append([]Option{WithStore(h.store)}, extra...)
	return h, NewOrchestrator(h.manager, completer, opts...)
}

func userConversation(texts ...string) models.Conversation {
	conv := models.Conversation{ID: "conv-1"}
	for i, text := range texts {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msg := models.ConversationMessage{ID: text, Role: role, Status: models.StatusCompleted}
		if role == models.RoleUser {
			msg.Inputs = models.Units{models.MessageUnit{Text: text}}
		} else {
			msg.Outputs = models.Units{models.MessageUnit{Text: text}}
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return conv
}

func textResult(text string) *Result {
	return &Result{ResponseMessage: models.ConversationMessage{
		Outputs: models.Units{models.MessageUnit{Text: text}},
	}}
}

func TestSend_Completes(t *testing.T) {
	var got Request
	completer := CompleterFunc(func(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
		got = req
		cb.Text("Hi")
		cb.Text(" there")
		res := textResult("Hi there")
		res.ResponseMessage.Outputs = append(res.ResponseMessage.Outputs,
			models.FunctionToolCall{CallID: "c1", Name: "lookup"},
			models.FunctionToolCall{CallID: "c2", Name: "done"},
			models.FunctionToolOutput{CallID: "c2", ChoiceID: "x", Output: "ok"},
		)
		res.UserInputs = models.Units{models.MessageUnit{Text: "hello (processed)"}}
		return res, nil
	})
	tracer := &traceRecorder{}
	h, o := newHarness(t, completer, WithTracer(tracer))

	conv := userConversation("hello")
	outcome := o.Send(context.Background(), "tab", conv, models.GenerationOptions{Provider: "p", Model: "m"})
	require.Equal(t, OutcomeCompleted, outcome)

	assert.Equal(t, "p", got.Provider)
	assert.Equal(t, "m", got.Params.Model)
	assert.Equal(t, "hello", got.NewMessage.ID)
	assert.Empty(t, got.Prior)

	published, ok := h.manager.Conversation("tab")
	require.True(t, ok)
	require.Len(t, published.Messages, 2)
	reply := published.Messages[1]
	assert.Equal(t, got.Placeholder.ID, reply.ID)
	assert.Equal(t, models.StatusCompleted, reply.Status)
	assert.Equal(t, "Hi there", reply.UIContent)
	require.NotNil(t, reply.Debug)
	assert.NotEmpty(t, reply.Debug.RequestID)
	assert.Equal(t, "hello (processed)", published.Messages[0].UIContent)
	assert.Empty(t, conv.Messages[0].UIContent, "input conversation is not modified")

	require.Equal(t, 1, h.store.savedCount())
	assert.Equal(t, published, h.store.last())

	assert.Equal(t, []models.ToolCall{{CallID: "c1", Kind: models.KindFunctionToolCall, Name: "lookup"}}, h.composer.PendingToolCalls())
	assert.False(t, h.manager.IsBusy("tab"))
	assert.Equal(t, "", h.manager.Buffer("tab").FullText())
	assert.Equal(t, "tab", <-h.scrolled)

	require.Len(t, tracer.traces, 1)
	assert.Equal(t, OutcomeCompleted, tracer.traces[0].Outcome)
}

func TestSend_DisablePreviousMessages(t *testing.T) {
	var got Request
	completer := CompleterFunc(func(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
		got = req
		return textResult("ok"), nil
	})
	_, o := newHarness(t, completer)

	conv := userConversation("first", "answer", "second")
	o.Send(context.Background(), "tab", conv, models.GenerationOptions{})
	assert.Len(t, got.Prior, 2)

	o.Send(context.Background(), "tab", conv, models.GenerationOptions{DisablePreviousMessages: true})
	assert.Empty(t, got.Prior)
	assert.Equal(t, "second", got.NewMessage.ID)
}

func TestSend_MissingTabIsSkipped(t *testing.T) {
	called := false
	completer := CompleterFunc(func(context.Context, Request, Callbacks) (*Result, error) {
		called = true
		return textResult("x"), nil
	})
	h, o := newHarness(t, completer)

	outcome := o.Send(context.Background(), "other", userConversation("hello"), models.GenerationOptions{})
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.False(t, called)
	assert.False(t, h.manager.Exists("other"))
}

func TestSend_EmptyWindowIsSkipped(t *testing.T) {
	called := false
	completer := CompleterFunc(func(context.Context, Request, Callbacks) (*Result, error) {
		called = true
		return textResult("x"), nil
	})
	h, o := newHarness(t, completer)

	conv := models.Conversation{ID: "c", Messages: []models.ConversationMessage{{ID: "s", Role: models.RoleSystem}}}
	outcome := o.Send(context.Background(), "tab", conv, models.GenerationOptions{})
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.False(t, called)
	assert.False(t, h.manager.IsBusy("tab"))
	assert.Equal(t, 0, h.store.savedCount())
}

func TestSend_FailureLeavesPlaceholder(t *testing.T) {
	completer := CompleterFunc(func(context.Context, Request, Callbacks) (*Result, error) {
		return nil, errors.New("upstream 500")
	})
	h, o := newHarness(t, completer)

	outcome := o.Send(context.Background(), "tab", userConversation("hello"), models.GenerationOptions{})
	assert.Equal(t, OutcomeFailed, outcome)

	conv, ok := h.manager.Conversation("tab")
	require.True(t, ok)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, models.StatusInProgress, conv.Messages[1].Status)
	assert.False(t, h.manager.IsBusy("tab"))
	assert.Equal(t, 0, h.store.savedCount())
}

func TestSend_NilResultIsFailure(t *testing.T) {
	completer := CompleterFunc(func(context.Context, Request, Callbacks) (*Result, error) {
		return nil, nil
	})
	_, o := newHarness(t, completer)
	assert.Equal(t, OutcomeFailed, o.Send(context.Background(), "tab", userConversation("hello"), models.GenerationOptions{}))
}

// blockingCompleter streams the given chunks, reports that it is waiting, then blocks
// until either its context is cancelled or release is closed.
type blockingCompleter struct {
	chunks   []string
	thinking []string
	started  chan struct{}
	release  chan struct{}
	result   *Result
	// ignoreCancel makes the completer wait for release even after cancellation.
	ignoreCancel bool
}

func newBlockingCompleter(chunks ...string) *blockingCompleter {
	return &blockingCompleter{
		chunks:  chunks,
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
		result:  textResult("final"),
	}
}

func (b *blockingCompleter) Complete(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
	for _, th := range b.thinking {
		cb.Thinking(th)
	}
	for _, c := range b.chunks {
		cb.Text(c)
	}
	b.started <- struct{}{}
	if b.ignoreCancel {
		<-b.release
		return b.result, nil
	}
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("stream interrupted: %w", ErrAborted)
	case <-b.release:
		return b.result, nil
	}
}

func sendAsync(o *Orchestrator, tabID string, conv models.Conversation) <-chan Outcome {
	done := make(chan Outcome, 1)
	go func() { done <- o.Send(context.Background(), tabID, conv, models.GenerationOptions{Provider: "p"}) }()
	return done
}

func TestStop_WithoutTokensRemovesPlaceholder(t *testing.T) {
	bc := newBlockingCompleter()
	h, o := newHarness(t, bc)

	done := sendAsync(o, "tab", userConversation("hello"))
	<-bc.started
	assert.True(t, h.manager.IsBusy("tab"))
	require.True(t, o.Stop("tab"))

	assert.Equal(t, OutcomeAbortedEmpty, <-done)
	conv, ok := h.manager.Conversation("tab")
	require.True(t, ok)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, models.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, 0, h.store.savedCount())
	assert.False(t, h.manager.IsBusy("tab"))
}

func TestStop_WithTokensKeepsPartial(t *testing.T) {
	bc := newBlockingCompleter("Hel", "lo")
	h, o := newHarness(t, bc)

	done := sendAsync(o, "tab", userConversation("hello"))
	<-bc.started
	o.Stop("tab")

	assert.Equal(t, OutcomeAbortedPartial, <-done)
	conv, _ := h.manager.Conversation("tab")
	require.Len(t, conv.Messages, 2)
	reply := conv.Messages[1]
	assert.Equal(t, models.StatusAborted, reply.Status)
	assert.Equal(t, models.Units{models.MessageUnit{Text: "Hello" + AbortedPartialSuffix}}, reply.Outputs)
	assert.Equal(t, "Hello"+AbortedPartialSuffix, reply.UIContent)

	require.Equal(t, 1, h.store.savedCount())
	assert.Equal(t, models.StatusAborted, h.store.last().Messages[1].Status)
	assert.Equal(t, "", h.manager.Buffer("tab").FullText())
}

func TestStop_ThinkingIsQuotedInPartial(t *testing.T) {
	bc := newBlockingCompleter("Answer")
	bc.thinking = []string{"step one\nstep", " two"}
	h, o := newHarness(t, bc)

	done := sendAsync(o, "tab", userConversation("hello"))
	<-bc.started
	o.Stop("tab")
	require.Equal(t, OutcomeAbortedPartial, <-done)

	conv, _ := h.manager.Conversation("tab")
	assert.Equal(t, "> step one\n> step two\n\nAnswer"+AbortedPartialSuffix, conv.Messages[1].UIContent)
}

func TestSend_NewerRequestWins(t *testing.T) {
	first := newBlockingCompleter("old ")
	first.ignoreCancel = true
	first.result = textResult("old answer")
	second := CompleterFunc(func(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
		cb.Text("new")
		return textResult("new answer"), nil
	})

	var calls int
	var mu sync.Mutex
	router := CompleterFunc(func(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return first.Complete(ctx, req, cb)
		}
		return second.Complete(ctx, req, cb)
	})
	h, o := newHarness(t, router)

	done := sendAsync(o, "tab", userConversation("hello"))
	<-first.started
	firstStatus, _ := h.manager.Status("tab")

	require.Equal(t, OutcomeCompleted, o.Send(context.Background(), "tab", userConversation("hello again"), models.GenerationOptions{}))
	assert.False(t, h.manager.IsCurrent("tab", firstStatus.RequestID))

	close(first.release)
	assert.Equal(t, OutcomeStale, <-done)

	conv, _ := h.manager.Conversation("tab")
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "new answer", conv.Messages[1].UIContent)
	assert.Equal(t, 1, h.store.savedCount())
	assert.False(t, h.manager.IsBusy("tab"))
}

func TestSend_ResultForAnotherRequestIsStale(t *testing.T) {
	completer := CompleterFunc(func(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
		res := textResult("misrouted")
		res.RequestID = "some-other-request"
		return res, nil
	})
	h, o := newHarness(t, completer)

	outcome := o.Send(context.Background(), "tab", userConversation("hello"), models.GenerationOptions{})
	assert.Equal(t, OutcomeStale, outcome)

	conv, _ := h.manager.Conversation("tab")
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, models.StatusInProgress, conv.Messages[1].Status)
	assert.Equal(t, 0, h.store.savedCount())
}

func TestSend_CompletionReplacesPendingCalls(t *testing.T) {
	h, o := newHarness(t, CompleterFunc(func(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
		return textResult("plain"), nil
	}))
	h.composer.LoadToolCalls([]models.ToolCall{{CallID: "old", Name: "lookup"}})

	require.Equal(t, OutcomeCompleted, o.Send(context.Background(), "tab", userConversation("hello"), models.GenerationOptions{}))
	assert.Empty(t, h.composer.PendingToolCalls())
}

func TestContinue_SkippedOnceANewerRequestBegan(t *testing.T) {
	var sent []string
	var mu sync.Mutex
	h, o := newHarness(t, CompleterFunc(func(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
		mu.Lock()
		sent = append(sent, req.NewMessage.ID)
		mu.Unlock()
		return textResult("answer to " + req.NewMessage.ID), nil
	}))

	require.Equal(t, OutcomeCompleted, o.Send(context.Background(), "tab", userConversation("first"), models.GenerationOptions{}))
	gen, ok := h.manager.Generation("tab")
	require.True(t, ok)
	require.Equal(t, OutcomeCompleted, o.Send(context.Background(), "tab", userConversation("second"), models.GenerationOptions{}))
	h.composer.LoadToolCalls([]models.ToolCall{{CallID: "c1"}})

	outcome := o.Continue(context.Background(), "tab", gen, userConversation("first", "a", "follow-up"), models.GenerationOptions{})
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, []string{"first", "second"}, sent)
	assert.Equal(t, []models.ToolCall{{CallID: "c1"}}, h.composer.PendingToolCalls())

	conv, _ := h.manager.Conversation("tab")
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "second", conv.Messages[0].ID)
}

func TestContinue_SendsAndClearsPendingCalls(t *testing.T) {
	var got Request
	h, o := newHarness(t, CompleterFunc(func(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
		got = req
		return textResult("done"), nil
	}))

	require.Equal(t, OutcomeCompleted, o.Send(context.Background(), "tab", userConversation("first"), models.GenerationOptions{}))
	gen, _ := h.manager.Generation("tab")
	h.composer.LoadToolCalls([]models.ToolCall{{CallID: "c1"}})

	outcome := o.Continue(context.Background(), "tab", gen, userConversation("first", "a", "follow-up"), models.GenerationOptions{})
	require.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, "follow-up", got.NewMessage.ID)
	assert.Empty(t, h.composer.PendingToolCalls())

	next, _ := h.manager.Generation("tab")
	assert.Equal(t, gen+1, next)
	conv, _ := h.manager.Conversation("tab")
	require.Len(t, conv.Messages, 4)
	assert.Equal(t, "done", conv.Messages[3].UIContent)
}

func TestSend_StaleChunksAreDropped(t *testing.T) {
	var (
		h        *harness
		staleCB  Callbacks
		first    = true
		lateText string
	)
	completer := CompleterFunc(func(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
		if first {
			first = false
			staleCB = cb
			return nil, errors.New("boom")
		}
		staleCB.Text("late chunk")
		lateText = h.manager.Buffer("tab").FullText()
		return textResult("fresh"), nil
	})
	h, o := newHarness(t, completer)

	o.Send(context.Background(), "tab", userConversation("a"), models.GenerationOptions{})
	o.Send(context.Background(), "tab", userConversation("b"), models.GenerationOptions{})

	assert.Equal(t, "", lateText)
	conv, _ := h.manager.Conversation("tab")
	assert.Equal(t, "fresh", conv.Messages[1].UIContent)
}

func TestDispose_MidStreamDropsResult(t *testing.T) {
	bc := newBlockingCompleter("partial")
	bc.ignoreCancel = true
	h, o := newHarness(t, bc)

	done := sendAsync(o, "tab", userConversation("hello"))
	<-bc.started
	h.manager.Dispose("tab")
	close(bc.release)

	assert.Equal(t, OutcomeStale, <-done)
	assert.False(t, h.manager.Exists("tab"))
	_, ok := h.manager.Conversation("tab")
	assert.False(t, ok)
	assert.Equal(t, 0, h.store.savedCount())
	assert.Empty(t, h.composer.PendingToolCalls())
}

func TestDispose_MidStreamWithAbortingCompleter(t *testing.T) {
	bc := newBlockingCompleter("partial")
	h, o := newHarness(t, bc)

	done := sendAsync(o, "tab", userConversation("hello"))
	<-bc.started
	h.manager.Dispose("tab")

	assert.Equal(t, OutcomeStale, <-done)
	assert.False(t, h.manager.Exists("tab"))
	assert.Equal(t, 0, h.store.savedCount())
}

func TestEdit_TruncatesAndSends(t *testing.T) {
	var got Request
	completer := CompleterFunc(func(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
		got = req
		return textResult("edited answer"), nil
	})
	h, o := newHarness(t, completer)

	conv := userConversation("q1", "a1", "q2", "a2")
	edited := models.ConversationMessage{Role: models.RoleUser, Inputs: models.Units{models.MessageUnit{Text: "q1 edited"}}}
	require.Equal(t, OutcomeCompleted, o.Edit(context.Background(), "tab", conv, 0, edited, models.GenerationOptions{}))

	assert.Equal(t, "q1", got.NewMessage.ID, "edited message keeps its id")
	assert.Empty(t, got.Prior)
	published, _ := h.manager.Conversation("tab")
	require.Len(t, published.Messages, 2)
	assert.Equal(t, "q1 edited", published.Messages[0].UIContent)
	assert.Len(t, conv.Messages, 4)

	assert.Equal(t, OutcomeSkipped, o.Edit(context.Background(), "tab", conv, 9, edited, models.GenerationOptions{}))
}

func TestResend(t *testing.T) {
	var got Request
	completer := CompleterFunc(func(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
		got = req
		return textResult("again"), nil
	})
	h, o := newHarness(t, completer)
	conv := userConversation("q1", "a1", "q2", "a2")

	require.Equal(t, OutcomeCompleted, o.Resend(context.Background(), "tab", conv, "a1"))
	assert.Equal(t, "q1", got.NewMessage.ID)
	assert.Equal(t, "composer-provider", got.Provider)
	published, _ := h.manager.Conversation("tab")
	require.Len(t, published.Messages, 2)

	require.Equal(t, OutcomeCompleted, o.Resend(context.Background(), "tab", conv, "q2"))
	assert.Equal(t, "q2", got.NewMessage.ID)
	assert.Len(t, got.Prior, 2)

	assert.Equal(t, OutcomeSkipped, o.Resend(context.Background(), "tab", conv, "missing"))
}

func TestResend_DefaultsWithoutComposer(t *testing.T) {
	var got Request
	completer := CompleterFunc(func(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
		got = req
		return textResult("x"), nil
	})
	manager := tabs.NewManager()
	manager.GetOrCreate("t")
	o := NewOrchestrator(manager, completer, WithDefaults(models.GenerationOptions{Provider: "default"}))

	o.Resend(context.Background(), "t", userConversation("q"), "q")
	assert.Equal(t, "default", got.Provider)
}

func TestOpen_HydratesAndPrimesComposer(t *testing.T) {
	h, o := newHarness(t, nil)
	stored := models.Conversation{ID: "c9", Messages: []models.ConversationMessage{
		{ID: "u", Role: models.RoleUser, Inputs: models.Units{models.MessageUnit{Text: "hi"}}, ToolChoices: []models.ToolStoreChoice{
			{ChoiceID: "f", ToolType: models.ToolTypeFunction, ToolSlug: "calc"},
			{ChoiceID: "w", ToolType: models.ToolTypeWebSearch, ToolSlug: "search"},
		}},
	}}
	require.NoError(t, h.store.Save(context.Background(), stored, true))

	conv, err := o.Open(context.Background(), "tab", "c9", "Fallback", false)
	require.NoError(t, err)
	assert.Equal(t, "Fallback", conv.Title)
	assert.Equal(t, "hi", conv.Messages[0].UIContent)

	inTab, ok := h.manager.Conversation("tab")
	require.True(t, ok)
	assert.Equal(t, conv, inTab)
	assert.Len(t, h.composer.GenerationOptions().ToolChoices, 2)
	require.NotNil(t, h.composer.WebSearch())
	assert.Equal(t, "w", h.composer.WebSearch().ChoiceID)
	assert.Equal(t, 1, h.composer.FocusCount())

	_, err = o.Open(context.Background(), "tab", "missing", "", false)
	assert.Error(t, err)
}

func TestSend_NoCompleterFails(t *testing.T) {
	_, o := newHarness(t, nil)
	assert.Equal(t, OutcomeFailed, o.Send(context.Background(), "tab", userConversation("x"), models.GenerationOptions{}))
}

func TestSend_ContextCanceledCountsAsAbort(t *testing.T) {
	completer := CompleterFunc(func(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
		cb.Text("so far")
		return nil, context.Canceled
	})
	h, o := newHarness(t, completer)
	assert.Equal(t, OutcomeAbortedPartial, o.Send(context.Background(), "tab", userConversation("x"), models.GenerationOptions{}))
	assert.Equal(t, 1, h.store.savedCount())
}

func TestSend_UsesClock(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	completer := CompleterFunc(func(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
		return textResult("x"), nil
	})
	h, o := newHarness(t, completer, WithClock(func() time.Time { return fixed }))
	o.Send(context.Background(), "tab", userConversation("x"), models.GenerationOptions{})
	conv, _ := h.manager.Conversation("tab")
	assert.Equal(t, fixed, conv.ModifiedAt)
	assert.Equal(t, fixed, conv.Messages[1].CreatedAt)
}
