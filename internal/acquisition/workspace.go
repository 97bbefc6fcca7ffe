package acquisition

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is the scratch directory owned by a single incident.
type Workspace struct {
	dir string
}

// NewWorkspace creates a fresh directory under root. Each incident gets its
// own, so concurrent incidents never see each other's files.
func NewWorkspace(root, incidentID string) (*Workspace, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir, err := os.MkdirTemp(root, "incident-"+incidentID+"-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

func (w *Workspace) Dir() string { return w.dir }

// Path returns the location of name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, filepath.Base(name))
}

// Release removes every scratch artifact. Safe to call more than once.
func (w *Workspace) Release() error {
	if w == nil || w.dir == "" {
		return nil
	}
	err := os.RemoveAll(w.dir)
	w.dir = ""
	return err
}
