package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Desarso/tabchat/models"
)

var (
	// ErrAborted is returned by completers when the request context was cancelled.
	ErrAborted = errors.New("completion aborted")
	// ErrNoCompleter is returned when no completer is registered for a provider.
	ErrNoCompleter = errors.New("no completer for provider")
)

// Request is everything a provider needs for one generation attempt.
type Request struct {
	Provider       string
	Params         models.ModelParams
	NewMessage     models.ConversationMessage
	Prior          []models.ConversationMessage
	ToolChoices    []models.ToolStoreChoice
	Placeholder    models.ConversationMessage
	RequestID      string
	ConversationID string
}

// Callbacks receive streamed chunks. Completers call them sequentially.
type Callbacks struct {
	OnText     func(text string)
	OnThinking func(text string)
}

// Text forwards text to OnText when set.
func (c Callbacks) Text(text string) {
	if c.OnText != nil && text != "" {
		c.OnText(text)
	}
}

// Thinking forwards text to OnThinking when set.
func (c Callbacks) Thinking(text string) {
	if c.OnThinking != nil && text != "" {
		c.OnThinking(text)
	}
}

// Result is the final outcome of a successful completion.
type Result struct {
	ResponseMessage models.ConversationMessage
	RawResponse     json.RawMessage
	RequestID       string
	// UserInputs, when set, replaces the inputs of the user message that was sent.
	UserInputs models.Units
}

// Completer performs one streaming completion. Implementations must observe ctx and
// return an error wrapping ErrAborted when it is cancelled.
type Completer interface {
	Complete(ctx context.Context, req Request, cb Callbacks) (*Result, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request, cb Callbacks) (*Result, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
	return f(ctx, req, cb)
}

// Registry routes requests to completers by provider name.
type Registry struct {
	mu         sync.RWMutex
	completers map[string]Completer
	fallback   string
}

func NewRegistry() *Registry {
	return &Registry{completers: make(map[string]Completer)}
}

// Register adds or replaces the completer for name. The first registered provider becomes
// the default.
func (r *Registry) Register(name string, c Completer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completers[name] = c
	if r.fallback == "" {
		r.fallback = name
	}
}

// SetDefault selects the provider used when a request names none.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	r.fallback = name
	r.mu.Unlock()
}

// Default returns the provider used when a request names none.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

// Providers lists registered provider names in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.completers))
	for name := range r.completers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Complete implements Completer.
func (r *Registry) Complete(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
	name := req.Provider
	r.mu.RLock()
	if name == "" {
		name = r.fallback
	}
	c, ok := r.completers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoCompleter, name)
	}
	req.Provider = name
	return c.Complete(ctx, req, cb)
}
