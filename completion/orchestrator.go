package completion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Desarso/tabchat/hydrate"
	"github.com/Desarso/tabchat/logger"
	"github.com/Desarso/tabchat/models"
	"github.com/Desarso/tabchat/tabs"
	"github.com/google/uuid"
)

// AbortedPartialSuffix is appended to the partial text of a cancelled generation.
const AbortedPartialSuffix = "\n\n[aborted after partial response]"

// Orchestrator drives generation attempts for tabs owned by a tabs.Manager.
type Orchestrator struct {
	tabs      *tabs.Manager
	completer Completer
	store     Store
	tracer    Tracer
	defaults  models.GenerationOptions
	log       *logger.Logger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithStore(s Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

func WithTracer(t Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) { o.log = logger.OrNop(l) }
}

// WithDefaults sets the options used by Resend when the tab has no composer.
func WithDefaults(opts models.GenerationOptions) Option {
	return func(o *Orchestrator) { o.defaults = opts }
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator over manager using completer for every request.
func NewOrchestrator(manager *tabs.Manager, completer Completer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tabs:      manager,
		completer: completer,
		log:       logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With("component", "orchestrator")
	return o
}

// Tabs returns the manager this orchestrator drives.
func (o *Orchestrator) Tabs() *tabs.Manager {
	return o.tabs
}

// attempt is the state of one Send call.
type attempt struct {
	ctx         context.Context
	tabID       string
	requestID   string
	signal      *tabs.Signal
	opts        models.GenerationOptions
	userMessage models.ConversationMessage
	placeholder models.ConversationMessage
	working     models.Conversation
	log         *logger.Logger
}

// Send runs one generation for the newest user message in conv. It never returns an
// error; the outcome is reflected in the tab's conversation and the returned Outcome.
func (o *Orchestrator) Send(ctx context.Context, tabID string, conv models.Conversation, opts models.GenerationOptions) Outcome {
	return o.send(ctx, tabID, conv, opts, func() (string, *tabs.Signal, bool) {
		return o.tabs.BeginRequest(ctx, tabID)
	})
}

// Continue sends conv as a follow-up to the request that began at generation after.
// It is skipped when any other request has begun on the tab since, so a newer send
// always wins. The composer's pending calls are cleared once the follow-up begins.
func (o *Orchestrator) Continue(ctx context.Context, tabID string, after uint64, conv models.Conversation, opts models.GenerationOptions) Outcome {
	return o.send(ctx, tabID, conv, opts, func() (string, *tabs.Signal, bool) {
		requestID, signal, ok := o.tabs.BeginRequestAfter(ctx, tabID, after)
		if ok {
			if c := o.tabs.Composer(tabID); c != nil {
				c.LoadToolCalls(nil)
			}
		}
		return requestID, signal, ok
	})
}

func (o *Orchestrator) send(ctx context.Context, tabID string, conv models.Conversation, opts models.GenerationOptions, begin func() (string, *tabs.Signal, bool)) Outcome {
	if !o.tabs.Exists(tabID) {
		return OutcomeSkipped
	}
	requestID, signal, ok := begin()
	if !ok {
		return OutcomeSkipped
	}
	log := o.log.With("tab_id", tabID, "request_id", requestID, "conversation_id", conv.ID)

	userIdx := conv.LastUserIndex()
	if userIdx < 0 {
		log.Debug("nothing to send")
		o.tabs.FinishRequest(tabID, requestID)
		return OutcomeSkipped
	}
	var prior []models.ConversationMessage
	if !opts.DisablePreviousMessages {
		prior = append(prior, conv.Messages[:userIdx]...)
	}

	if buf := o.tabs.Buffer(tabID); buf != nil {
		buf.Reset()
	}
	o.tabs.Notifier().NotifyNow(tabID)

	now := o.now()
	a := &attempt{
		ctx:         ctx,
		tabID:       tabID,
		requestID:   requestID,
		signal:      signal,
		opts:        opts,
		userMessage: conv.Messages[userIdx],
		placeholder: models.ConversationMessage{
			ID:        uuid.NewString(),
			CreatedAt: now,
			Role:      models.RoleAssistant,
			Status:    models.StatusInProgress,
		},
		log: log,
	}
	a.working = conv.Clone()
	a.working.Messages = append(a.working.Messages, a.placeholder)
	a.working.ModifiedAt = now
	o.tabs.PublishIfCurrent(tabID, requestID, a.working)

	req := Request{
		Provider:       opts.Provider,
		Params:         opts.Params(),
		NewMessage:     a.userMessage,
		Prior:          prior,
		ToolChoices:    opts.ToolChoices,
		Placeholder:    a.placeholder,
		RequestID:      requestID,
		ConversationID: conv.ID,
	}

	log.Debug("starting completion", "provider", opts.Provider, "model", opts.Model, "prior", len(prior))
	started := o.now()
	result, err := o.complete(signal.Context(), req, o.callbacks(tabID, requestID))

	var outcome Outcome
	switch {
	case err == nil:
		outcome = o.onSuccess(a, result)
	case o.isAbort(err, signal):
		outcome = o.onAbort(a)
	default:
		outcome = o.onFailure(a, err)
	}

	if o.tabs.FinishRequest(tabID, requestID) {
		o.tabs.Notifier().NotifyNow(tabID)
		if o.tabs.IsActive(tabID) {
			o.tabs.ScrollToBottom(tabID)
		}
	}

	o.recordTrace(a, outcome, started, result, err)
	log.Debug("completion finished", "outcome", outcome)
	return outcome
}

func (o *Orchestrator) complete(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
	if o.completer == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoCompleter, req.Provider)
	}
	result, err := o.completer.Complete(ctx, req, cb)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("completer returned no result")
	}
	return result, nil
}

func (o *Orchestrator) callbacks(tabID, requestID string) Callbacks {
	var mu sync.Mutex
	quoter := &thinkingQuoter{}
	emit := func(text string) {
		if text == "" {
			return
		}
		if o.tabs.AppendChunk(tabID, requestID, text) {
			o.tabs.Notifier().NotifySoon(tabID)
		}
	}
	return Callbacks{
		OnText: func(text string) {
			if !o.tabs.IsCurrent(tabID, requestID) {
				return
			}
			mu.Lock()
			out := quoter.text(text)
			mu.Unlock()
			emit(out)
		},
		OnThinking: func(text string) {
			if !o.tabs.IsCurrent(tabID, requestID) {
				return
			}
			mu.Lock()
			out := quoter.thinking(text)
			mu.Unlock()
			emit(out)
		},
	}
}

func (o *Orchestrator) isAbort(err error, signal *tabs.Signal) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled) || signal.Cancelled()
}

func (o *Orchestrator) onSuccess(a *attempt, result *Result) Outcome {
	if result.RequestID != "" && result.RequestID != a.requestID {
		a.log.Warn("dropping result for another request", "result_request_id", result.RequestID)
		return OutcomeStale
	}
	if !o.tabs.IsCurrent(a.tabID, a.requestID) {
		a.log.Debug("dropping stale result")
		return OutcomeStale
	}

	final := a.working.Clone()
	resp := result.ResponseMessage
	resp.ID = a.placeholder.ID
	resp.Role = models.RoleAssistant
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = a.placeholder.CreatedAt
	}
	if resp.Status == "" || resp.Status == models.StatusInProgress {
		resp.Status = models.StatusCompleted
	}
	resp.Debug = a.debug(resp.Debug)
	if idx := final.IndexOf(a.placeholder.ID); idx >= 0 {
		final.Messages[idx] = resp
	} else {
		final.Messages = append(final.Messages, resp)
	}
	if len(result.UserInputs) > 0 {
		if idx := final.IndexOf(a.userMessage.ID); idx >= 0 {
			final.Messages[idx].Inputs = result.UserInputs
		}
	}
	final.ModifiedAt = o.now()
	final = hydrate.Conversation(final)

	if !o.tabs.PublishIfCurrent(a.tabID, a.requestID, final) {
		return OutcomeStale
	}
	o.save(a, final)

	// Calls from an earlier turn never outlive a completed one.
	if c := o.tabs.Composer(a.tabID); c != nil {
		c.LoadToolCalls(RunnableToolCalls(resp.Outputs))
	}
	return OutcomeCompleted
}

func (o *Orchestrator) onAbort(a *attempt) Outcome {
	if !o.tabs.IsCurrent(a.tabID, a.requestID) {
		a.log.Debug("dropping stale abort")
		return OutcomeStale
	}

	final := a.working.Clone()
	idx := final.IndexOf(a.placeholder.ID)

	if !o.tabs.TokensReceived(a.tabID, a.requestID) {
		if idx >= 0 {
			final.Messages = append(final.Messages[:idx], final.Messages[idx+1:]...)
		}
		final = hydrate.Conversation(final)
		o.tabs.PublishIfCurrent(a.tabID, a.requestID, final)
		a.log.Info("completion aborted before any output")
		return OutcomeAbortedEmpty
	}

	var partial string
	if buf := o.tabs.Buffer(a.tabID); buf != nil {
		partial = buf.FullText()
	}
	msg := a.placeholder
	msg.Outputs = models.Units{models.MessageUnit{Text: partial + AbortedPartialSuffix}}
	msg.Status = models.StatusAborted
	msg.Debug = a.debug(nil)
	if idx >= 0 {
		final.Messages[idx] = msg
	} else {
		final.Messages = append(final.Messages, msg)
	}
	final.ModifiedAt = o.now()
	final = hydrate.Conversation(final)

	if !o.tabs.PublishIfCurrent(a.tabID, a.requestID, final) {
		return OutcomeStale
	}
	o.save(a, final)
	a.log.Info("completion aborted after partial response", "chars", len(partial))
	return OutcomeAbortedPartial
}

func (o *Orchestrator) onFailure(a *attempt, err error) Outcome {
	a.log.Error("completion failed", "error", err)
	if !o.tabs.IsCurrent(a.tabID, a.requestID) {
		return OutcomeStale
	}
	return OutcomeFailed
}

func (a *attempt) debug(d *models.MessageDebug) *models.MessageDebug {
	out := models.MessageDebug{}
	if d != nil {
		out = *d
	}
	if out.RequestID == "" {
		out.RequestID = a.requestID
	}
	if out.Provider == "" {
		out.Provider = a.opts.Provider
	}
	if out.Model == "" {
		out.Model = a.opts.Model
	}
	return &out
}

func (o *Orchestrator) save(a *attempt, conv models.Conversation) {
	if o.store == nil {
		return
	}
	// The user may cancel the request context; the turn must still be persisted.
	ctx := context.WithoutCancel(a.ctx)
	if err := o.store.Save(ctx, conv, false); err != nil {
		a.log.Error("failed to save conversation", "error", err)
	}
}

func (o *Orchestrator) recordTrace(a *attempt, outcome Outcome, started time.Time, result *Result, err error) {
	if o.tracer == nil {
		return
	}
	t := Trace{
		RequestID:      a.requestID,
		TabID:          a.tabID,
		ConversationID: a.working.ID,
		Provider:       a.opts.Provider,
		Model:          a.opts.Model,
		Outcome:        outcome,
		StartedAt:      started,
		Duration:       o.now().Sub(started),
	}
	if err != nil {
		t.Error = err.Error()
	}
	if result != nil {
		t.RawResponse = result.RawResponse
	}
	if err := o.tracer.RecordTrace(context.WithoutCancel(a.ctx), t); err != nil {
		a.log.Warn("failed to record completion trace", "error", err)
	}
}

// RunnableToolCalls returns the function and custom tool calls in outputs that have no
// matching output in the same response.
func RunnableToolCalls(outputs models.Units) []models.ToolCall {
	answered := make(map[string]bool)
	for _, out := range outputs.ToolOutputs() {
		if out.CallID != "" {
			answered[out.CallID] = true
		}
	}
	var calls []models.ToolCall
	for _, u := range outputs {
		switch c := u.(type) {
		case models.FunctionToolCall:
			if !answered[c.CallID] {
				calls = append(calls, c.AsToolCall())
			}
		case models.CustomToolCall:
			if !answered[c.CallID] {
				calls = append(calls, c.AsToolCall())
			}
		}
	}
	return calls
}

// Edit replaces the message at index with edited, drops everything after it and sends.
func (o *Orchestrator) Edit(ctx context.Context, tabID string, conv models.Conversation, index int, edited models.ConversationMessage, opts models.GenerationOptions) Outcome {
	if index < 0 || index >= len(conv.Messages) {
		o.log.Warn("edit index out of range", "tab_id", tabID, "index", index)
		return OutcomeSkipped
	}
	if edited.ID == "" {
		edited.ID = conv.Messages[index].ID
	}
	if edited.CreatedAt.IsZero() {
		edited.CreatedAt = conv.Messages[index].CreatedAt
	}
	next := conv
	next.Messages = make([]models.ConversationMessage, 0, index+1)
	next.Messages = append(next.Messages, conv.Messages[:index]...)
	next.Messages = append(next.Messages, edited)
	return o.Send(ctx, tabID, next, opts)
}

// Resend reruns the turn ending at messageID. Resending an assistant message reruns the
// user turn that produced it.
func (o *Orchestrator) Resend(ctx context.Context, tabID string, conv models.Conversation, messageID string) Outcome {
	idx := conv.IndexOf(messageID)
	if idx < 0 {
		o.log.Warn("resend message not found", "tab_id", tabID, "message_id", messageID)
		return OutcomeSkipped
	}
	cut := idx + 1
	if conv.Messages[idx].Role == models.RoleAssistant {
		cut = idx
	}
	next := conv
	next.Messages = append([]models.ConversationMessage(nil), conv.Messages[:cut]...)

	opts := o.defaults
	if c := o.tabs.Composer(tabID); c != nil {
		opts = c.GenerationOptions()
	}
	return o.Send(ctx, tabID, next, opts)
}

// Stop cancels the tab's in-flight request. Partial output is kept.
func (o *Orchestrator) Stop(tabID string) bool {
	return o.tabs.Cancel(tabID)
}

// Open loads a conversation into the tab and primes its composer from the latest user
// message.
func (o *Orchestrator) Open(ctx context.Context, tabID, conversationID, title string, forceFetch bool) (models.Conversation, error) {
	if o.store == nil {
		return models.Conversation{}, fmt.Errorf("no conversation store configured")
	}
	conv, err := o.store.Get(ctx, conversationID, title, forceFetch)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to open conversation %s: %w", conversationID, err)
	}
	conv = hydrate.Conversation(conv)

	o.tabs.GetOrCreate(tabID)
	o.tabs.SetConversation(tabID, conv)
	o.tabs.Notifier().NotifyNow(tabID)

	if c := o.tabs.Composer(tabID); c != nil {
		var choices []models.ToolStoreChoice
		if idx := conv.LastUserIndex(); idx >= 0 {
			choices = conv.Messages[idx].ToolChoices
		}
		c.SetConversationToolsFromChoices(choices)
		if web, ok := models.WebSearchChoice(choices); ok {
			c.SetWebSearchFromChoices(&web)
		} else {
			c.SetWebSearchFromChoices(nil)
		}
		c.Focus()
	}
	return conv, nil
}
