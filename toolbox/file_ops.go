package toolbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxReadBytes = 50 * 1024

// Workspace confines the file tools to a directory tree.
type Workspace struct {
	Root string
}

// resolve maps a user path into the workspace, rejecting anything that escapes it.
func (w Workspace) resolve(p string) (string, error) {
	root, err := filepath.Abs(w.Root)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, filepath.Clean("/"+p))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", p)
	}
	return full, nil
}

// ReadFile returns the file_path contents. offset is a 1-indexed line, limit a line count.
func (w Workspace) ReadFile(_ context.Context, args map[string]interface{}) (string, error) {
	filePath := StringArg(args, "file_path")
	if filePath == "" {
		return "", fmt.Errorf("file_path is required")
	}
	full, err := w.resolve(filePath)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", filePath, err)
	}

	content := string(data)
	offset, limit := IntArg(args, "offset"), IntArg(args, "limit")
	if offset > 0 || limit > 0 {
		lines := strings.Split(content, "\n")
		start := 0
		if offset > 0 {
			start = offset - 1
		}
		if start > len(lines) {
			return "", nil
		}
		end := len(lines)
		if limit > 0 && start+limit < end {
			end = start + limit
		}
		content = strings.Join(lines[start:end], "\n")
	}
	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] + "\n...(truncated at 50KB)"
	}
	return content, nil
}

// ListDirectory lists dir_path, directories suffixed with "/".
func (w Workspace) ListDirectory(_ context.Context, args map[string]interface{}) (string, error) {
	dirPath := StringArg(args, "dir_path")
	full, err := w.resolve(dirPath)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return "", fmt.Errorf("listing %s: %w", dirPath, err)
	}
	if len(entries) == 0 {
		return "(empty directory)", nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}
	return strings.Join(lines, "\n"), nil
}
