package toolbox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Desarso/tabchat/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_FunctionCall(t *testing.T) {
	tb := New()
	tb.Register("add", func(_ context.Context, args map[string]interface{}) (string, error) {
		return strings.Repeat("x", IntArg(args, "n")), nil
	})

	unit := tb.Run(context.Background(), models.ToolCall{
		CallID: "c1", ChoiceID: "ch1", Kind: models.KindFunctionToolCall, Name: "add", Arguments: `{"n":3}`,
	})
	out, ok := unit.(models.FunctionToolOutput)
	require.True(t, ok)
	assert.Equal(t, "c1", out.CallID)
	assert.Equal(t, "ch1", out.ChoiceID)
	assert.Equal(t, "xxx", out.Output)
	assert.False(t, out.IsError)
}

func TestRun_CustomCallGetsRawInput(t *testing.T) {
	tb := New()
	tb.Register("echo", func(_ context.Context, args map[string]interface{}) (string, error) {
		return StringArg(args, "input"), nil
	})

	unit := tb.Run(context.Background(), models.ToolCall{
		CallID: "c1", Kind: models.KindCustomToolCall, Name: "echo", Arguments: "not json",
	})
	out, ok := unit.(models.CustomToolOutput)
	require.True(t, ok)
	assert.Equal(t, "not json", out.Output)
}

func TestRun_Errors(t *testing.T) {
	tb := New()
	tb.Register("fail", func(context.Context, map[string]interface{}) (string, error) {
		return "", errors.New("boom")
	})
	tb.Register("panic", func(context.Context, map[string]interface{}) (string, error) {
		panic("bad")
	})

	cases := map[string]models.ToolCall{
		"boom":              {CallID: "1", Kind: models.KindFunctionToolCall, Name: "fail"},
		"panicked":          {CallID: "2", Kind: models.KindFunctionToolCall, Name: "panic"},
		"unknown":           {CallID: "3", Kind: models.KindFunctionToolCall, Name: "missing"},
		"invalid arguments": {CallID: "4", Kind: models.KindFunctionToolCall, Name: "fail", Arguments: "{"},
	}
	for want, call := range cases {
		out, ok := tb.Run(context.Background(), call).(models.FunctionToolOutput)
		require.True(t, ok, want)
		assert.True(t, out.IsError, want)
		assert.Contains(t, out.Output, want)
	}

	assert.Nil(t, tb.Run(context.Background(), models.ToolCall{Kind: models.KindWebSearchCall, Name: "fail"}))
}

func TestRegisterFunc(t *testing.T) {
	tb := New()
	require.NoError(t, tb.RegisterFunc("upper", func(s string) (string, error) { return strings.ToUpper(s), nil }))
	require.Error(t, tb.RegisterFunc("bad", func(n int) string { return "" }))
	require.Error(t, tb.RegisterFunc("notfunc", "x"))

	out := tb.Run(context.Background(), models.ToolCall{
		CallID: "c", Kind: models.KindFunctionToolCall, Name: "upper", Arguments: `{"text":"hi"}`,
	}).(models.FunctionToolOutput)
	assert.Equal(t, "HI", out.Output)

	out = tb.Run(context.Background(), models.ToolCall{
		CallID: "c", Kind: models.KindFunctionToolCall, Name: "upper", Arguments: `{"a":"x","b":"y"}`,
	}).(models.FunctionToolOutput)
	assert.True(t, out.IsError)

	out = tb.Run(context.Background(), models.ToolCall{
		CallID: "c", Kind: models.KindFunctionToolCall, Name: "upper", Arguments: `{"text":1}`,
	}).(models.FunctionToolOutput)
	assert.True(t, out.IsError)
	assert.Equal(t, []string{"upper"}, tb.Slugs())
}

func TestApprove(t *testing.T) {
	tb := New()
	tb.Register("web_fetch", WebFetch(nil))
	choices := []models.ToolStoreChoice{
		{ChoiceID: "auto", ToolType: models.ToolTypeFunction, ToolSlug: "web_fetch", AutoExecute: true},
		{ChoiceID: "manual", ToolType: models.ToolTypeFunction, ToolSlug: "web_fetch"},
		{ChoiceID: "unknown", ToolType: models.ToolTypeFunction, ToolSlug: "other", AutoExecute: true},
	}

	assert.True(t, tb.Approve(choices, models.ToolCall{ChoiceID: "auto", Kind: models.KindFunctionToolCall, Name: "web_fetch"}))
	assert.False(t, tb.Approve(choices, models.ToolCall{ChoiceID: "manual", Kind: models.KindFunctionToolCall, Name: "web_fetch"}))
	assert.False(t, tb.Approve(choices, models.ToolCall{ChoiceID: "unknown", Kind: models.KindFunctionToolCall, Name: "other"}))
	assert.True(t, tb.Approve(choices, models.ToolCall{Kind: models.KindFunctionToolCall, Name: "web_fetch"}))
	assert.False(t, tb.Approve(choices, models.ToolCall{ChoiceID: "auto", Kind: models.KindWebSearchCall, Name: "web_fetch"}))
	assert.False(t, tb.Approve(nil, models.ToolCall{Kind: models.KindFunctionToolCall, Name: "web_fetch"}))
}

func TestWebFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><style>p{}</style><script>x()</script></head><body>` +
			`<h1>Title</h1><p>Some <b>bold</b> &amp; <a href="https://a.example">link</a></p>` +
			`<ul><li>one</li></ul></body></html>`))
	}))
	defer srv.Close()
	fetch := WebFetch(srv.Client())
	ctx := context.Background()

	md, err := fetch(ctx, map[string]interface{}{"url": srv.URL})
	require.NoError(t, err)
	assert.Contains(t, md, "# Title")
	assert.Contains(t, md, "**bold** & [link](https://a.example)")
	assert.Contains(t, md, "- one")
	assert.NotContains(t, md, "x()")

	text, err := fetch(ctx, map[string]interface{}{"url": srv.URL, "extractMode": "text", "maxChars": float64(5)})
	require.NoError(t, err)
	assert.Equal(t, "Title\n...(truncated)", text)

	_, err = fetch(ctx, map[string]interface{}{"url": srv.URL + "/missing"})
	assert.ErrorContains(t, err, "HTTP 404")
	_, err = fetch(ctx, map[string]interface{}{"url": "file:///etc/passwd"})
	assert.Error(t, err)
	_, err = fetch(ctx, map[string]interface{}{})
	assert.Error(t, err)
}

func TestWorkspace(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("l1\nl2\nl3\nl4"), 0o644))
	ws := Workspace{Root: root}
	ctx := context.Background()

	got, err := ws.ReadFile(ctx, map[string]interface{}{"file_path": "a.txt", "offset": float64(2), "limit": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, "l2\nl3", got)

	got, err = ws.ReadFile(ctx, map[string]interface{}{"file_path": "../../a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "l1\nl2\nl3\nl4", got)

	_, err = ws.ReadFile(ctx, map[string]interface{}{"file_path": "nope.txt"})
	assert.Error(t, err)

	listing, err := ws.ListDirectory(ctx, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "a.txt\nsub/", listing)

	listing, err = ws.ListDirectory(ctx, map[string]interface{}{"dir_path": "sub"})
	require.NoError(t, err)
	assert.Equal(t, "(empty directory)", listing)
}

func TestDefaults(t *testing.T) {
	assert.Equal(t, []string{"brave_search", "web_fetch"}, Defaults("", nil).Slugs())
	assert.Equal(t, []string{"brave_search", "list_directory", "read_file", "web_fetch"}, Defaults(t.TempDir(), nil).Slugs())
}

func TestBraveSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"query":{"original":"golang"},"web":{"results":[` +
			`{"title":"The <strong>Go</strong> site","url":"https://www.go.dev/doc","description":"Docs"}]}}`))
	}))
	defer srv.Close()
	search := BraveSearch(srv.Client(), srv.URL)

	t.Setenv("BRAVE_API_KEY", "")
	_, err := search(context.Background(), map[string]interface{}{"query": "golang"})
	assert.ErrorContains(t, err, "BRAVE_API_KEY")

	t.Setenv("BRAVE_API_KEY", "secret")
	out, err := search(context.Background(), map[string]interface{}{"query": "golang"})
	require.NoError(t, err)
	assert.Contains(t, out, "Search Query: golang")
	assert.Contains(t, out, "1. Title: The Go site")
	assert.Contains(t, out, "Source: go.dev")
	assert.Contains(t, out, "No news results found.")

	_, err = search(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}
