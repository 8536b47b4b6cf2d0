package toolbox

import "net/http"

// Defaults returns a toolbox with brave_search and web_fetch, plus read_file and
// list_directory scoped to root when root is not empty.
func Defaults(root string, client *http.Client) *Toolbox {
	t := New()
	t.Register("brave_search", BraveSearch(client, ""))
	t.Register("web_fetch", WebFetch(client))
	if root != "" {
		ws := Workspace{Root: root}
		t.Register("read_file", ws.ReadFile)
		t.Register("list_directory", ws.ListDirectory)
	}
	return t
}
