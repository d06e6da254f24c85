// Package workspace locates the project a workflow runs against and reads
// the files the judge needs to see.
package workspace

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// File is the current content of one context file.
type File struct {
	Path     string
	Content  string
	Editable bool
	Err      error
}

// Root returns the git top-level directory containing dir, or dir itself
// (made absolute) when dir is not inside a git repository.
func Root(dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve directory: %w", err)
	}

	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = absDir
	out, err := cmd.Output()
	if err != nil {
		return absDir, nil
	}

	top := strings.TrimSpace(string(out))
	if top == "" {
		return absDir, nil
	}
	return top, nil
}

// ReadFiles reads editable and read-only files relative to root, in order.
// A file that cannot be read is returned with Err set rather than failing
// the whole batch.
func ReadFiles(root string, editable, readOnly []string) []File {
	files := make([]File, 0, len(editable)+len(readOnly))
	for _, p := range editable {
		files = append(files, readFile(root, p, true))
	}
	for _, p := range readOnly {
		files = append(files, readFile(root, p, false))
	}
	return files
}

func readFile(root, path string, editable bool) File {
	full := path
	if !filepath.IsAbs(path) {
		full = filepath.Join(root, path)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return File{Path: path, Editable: editable, Err: fmt.Errorf("failed to read %s: %w", path, err)}
	}
	return File{Path: path, Content: string(data), Editable: editable}
}
