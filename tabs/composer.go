package tabs

import (
	"sync"

	"github.com/Desarso/tabchat/models"
)

// Composer is the input area attached to a tab.
type Composer interface {
	// LoadToolCalls queues tool calls the user may run as the next turn.
	LoadToolCalls(calls []models.ToolCall)
	SetConversationToolsFromChoices(choices []models.ToolStoreChoice)
	SetWebSearchFromChoices(choice *models.ToolStoreChoice)
	Focus()
	GenerationOptions() models.GenerationOptions
}

// HeadlessComposer is an in-memory Composer for servers and tests.
type HeadlessComposer struct {
	mu        sync.Mutex
	options   models.GenerationOptions
	calls     []models.ToolCall
	choices   []models.ToolStoreChoice
	webSearch *models.ToolStoreChoice
	focused   int
}

// NewHeadlessComposer returns a composer that reports opts from GenerationOptions.
func NewHeadlessComposer(opts models.GenerationOptions) *HeadlessComposer {
	return &HeadlessComposer{options: opts}
}

func (c *HeadlessComposer) LoadToolCalls(calls []models.ToolCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append([]models.ToolCall(nil), calls...)
}

func (c *HeadlessComposer) SetConversationToolsFromChoices(choices []models.ToolStoreChoice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.choices = append([]models.ToolStoreChoice(nil), choices...)
}

func (c *HeadlessComposer) SetWebSearchFromChoices(choice *models.ToolStoreChoice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if choice == nil {
		c.webSearch = nil
		return
	}
	cp := *choice
	c.webSearch = &cp
}

func (c *HeadlessComposer) Focus() {
	c.mu.Lock()
	c.focused++
	c.mu.Unlock()
}

// GenerationOptions returns the configured options with the current tool choices,
// including the web search choice when one is set.
func (c *HeadlessComposer) GenerationOptions() models.GenerationOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	opts := c.options
	opts.ToolChoices = append([]models.ToolStoreChoice(nil), c.choices...)
	if c.webSearch != nil {
		if _, ok := models.WebSearchChoice(opts.ToolChoices); !ok {
			opts.ToolChoices = append(opts.ToolChoices, *c.webSearch)
		}
	}
	return opts
}

// SetGenerationOptions replaces the base options.
func (c *HeadlessComposer) SetGenerationOptions(opts models.GenerationOptions) {
	c.mu.Lock()
	c.options = opts
	c.mu.Unlock()
}

// PendingToolCalls returns the calls loaded by the last LoadToolCalls.
func (c *HeadlessComposer) PendingToolCalls() []models.ToolCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ToolCall(nil), c.calls...)
}

// WebSearch returns the active web search choice, if any.
func (c *HeadlessComposer) WebSearch() *models.ToolStoreChoice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webSearch
}

// FocusCount reports how many times Focus was called.
func (c *HeadlessComposer) FocusCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focused
}
