// Package toolbox runs tool calls on the server for tool choices marked AutoExecute.
//
// Calls the toolbox cannot run, or whose choice was not marked AutoExecute, stay
// queued in the tab's composer for the client to answer.
package toolbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/Desarso/tabchat/models"
)

// Func executes a tool with the call's decoded arguments. Custom tools receive their raw
// input under the "input" key.
type Func func(ctx context.Context, args map[string]interface{}) (string, error)

// ErrUnknownTool is returned by Run for slugs that were never registered.
var ErrUnknownTool = errors.New("unknown or unavailable tool")

// Toolbox maps tool slugs to implementations. It is safe for concurrent use.
type Toolbox struct {
	mu    sync.RWMutex
	tools map[string]Func
}

func New() *Toolbox {
	return &Toolbox{tools: make(map[string]Func)}
}

// Register adds or replaces the tool for slug.
func (t *Toolbox) Register(slug string, fn Func) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tools[slug] = fn
}

// RegisterFunc registers a plain func(string) (string, error). The model must call it
// with exactly one string argument, whatever its name.
func (t *Toolbox) RegisterFunc(slug string, fn interface{}) error {
	fnValue := reflect.ValueOf(fn)
	if fnValue.Kind() != reflect.Func {
		return fmt.Errorf("tool %q: input must be a function", slug)
	}
	fnType := fnValue.Type()
	errType := reflect.TypeOf((*error)(nil)).Elem()
	if !(fnType.NumIn() == 1 && fnType.In(0).Kind() == reflect.String &&
		fnType.NumOut() == 2 && fnType.Out(0).Kind() == reflect.String &&
		fnType.Out(1).Implements(errType)) {
		return fmt.Errorf("tool %q: incompatible signature %s", slug, fnType)
	}

	t.Register(slug, func(_ context.Context, args map[string]interface{}) (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("tool %q expects 1 argument, got %d", slug, len(args))
		}
		var name string
		var value interface{}
		for k, v := range args {
			name, value = k, v
		}
		s, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("invalid argument type for %q: expected string for %q, got %T", slug, name, value)
		}
		results := fnValue.Call([]reflect.Value{reflect.ValueOf(s)})
		if errResult := results[1].Interface(); errResult != nil {
			return "", errResult.(error)
		}
		return results[0].String(), nil
	})
	return nil
}

// Has reports whether slug is registered.
func (t *Toolbox) Has(slug string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.tools[slug]
	return ok
}

// Slugs lists the registered tools in sorted order.
func (t *Toolbox) Slugs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	slugs := make([]string, 0, len(t.tools))
	for s := range t.tools {
		slugs = append(slugs, s)
	}
	sort.Strings(slugs)
	return slugs
}

// Approve reports whether call may run without asking the user: its choice must be
// marked AutoExecute and the toolbox must implement it.
func (t *Toolbox) Approve(choices []models.ToolStoreChoice, call models.ToolCall) bool {
	if call.Kind != models.KindFunctionToolCall && call.Kind != models.KindCustomToolCall {
		return false
	}
	for _, c := range choices {
		if !c.AutoExecute {
			continue
		}
		if (call.ChoiceID != "" && c.ChoiceID == call.ChoiceID) || (call.ChoiceID == "" && c.ToolSlug == call.Name) {
			return t.Has(c.ToolSlug)
		}
	}
	return false
}

// Run executes call and returns its output unit. Tool errors and panics become error
// outputs; only an unsupported call kind returns nil.
func (t *Toolbox) Run(ctx context.Context, call models.ToolCall) models.Unit {
	if call.Kind != models.KindFunctionToolCall && call.Kind != models.KindCustomToolCall {
		return nil
	}
	output, err := t.run(ctx, call)
	isError := err != nil
	if isError {
		output = err.Error()
	}
	if call.Kind == models.KindCustomToolCall {
		return models.CustomToolOutput{CallID: call.CallID, ChoiceID: call.ChoiceID, Name: call.Name, Output: output, IsError: isError}
	}
	return models.FunctionToolOutput{CallID: call.CallID, ChoiceID: call.ChoiceID, Name: call.Name, Output: output, IsError: isError}
}

func (t *Toolbox) run(ctx context.Context, call models.ToolCall) (out string, err error) {
	t.mu.RLock()
	fn, ok := t.tools[call.Name]
	t.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}

	args, err := decodeArgs(call)
	if err != nil {
		return "", err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %q panicked: %v", call.Name, r)
		}
	}()
	return fn(ctx, args)
}

func decodeArgs(call models.ToolCall) (map[string]interface{}, error) {
	if call.Kind == models.KindCustomToolCall {
		return map[string]interface{}{"input": call.Arguments}, nil
	}
	args := map[string]interface{}{}
	if call.Arguments == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments for %q: %w", call.Name, err)
	}
	return args, nil
}

// StringArg returns args[name] when it is a string.
func StringArg(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return s
}

// IntArg returns args[name] as an int. JSON numbers decode as float64.
func IntArg(args map[string]interface{}, name string) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
