package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrNoSource reports a workspace whose source file is missing.
var ErrNoSource = errors.New("staged source not found")

const (
	sourceBase = "source"
	outputDir  = "out"
)

var workspaceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,63}$`)

// Workspace is the staging area of one upload.
type Workspace struct {
	root string
	id   string
}

// NewWorkspace resolves the workspace for id under stagingDir. The id must
// be a plain identifier so it can never escape the staging directory.
func NewWorkspace(stagingDir, id string) (Workspace, error) {
	if strings.TrimSpace(stagingDir) == "" {
		return Workspace{}, errors.New("staging directory required")
	}
	if !workspaceIDPattern.MatchString(id) {
		return Workspace{}, fmt.Errorf("invalid workspace id %q", id)
	}
	return Workspace{root: stagingDir, id: id}, nil
}

// ID returns the upload id the workspace belongs to.
func (w Workspace) ID() string { return w.id }

// Dir is the workspace root.
func (w Workspace) Dir() string { return filepath.Join(w.root, w.id) }

// OutputDir holds generated artifacts before they are published.
func (w Workspace) OutputDir() string { return filepath.Join(w.Dir(), outputDir) }

// OutputPath joins elem onto the output directory.
func (w Workspace) OutputPath(elem ...string) string {
	return filepath.Join(append([]string{w.OutputDir()}, elem...)...)
}

// SourcePath is where the source is stored for the given extension
// (including the leading dot).
func (w Workspace) SourcePath(ext string) string {
	return filepath.Join(w.Dir(), sourceBase+strings.ToLower(ext))
}

// Create makes the workspace and its output directory.
func (w Workspace) Create() error {
	if err := os.MkdirAll(w.OutputDir(), 0o755); err != nil {
		return fmt.Errorf("create workspace %s: %w", w.id, err)
	}
	return nil
}

// ResetOutput discards any generated artifacts, keeping the source.
func (w Workspace) ResetOutput() error {
	if err := os.RemoveAll(w.OutputDir()); err != nil {
		return fmt.Errorf("reset workspace output %s: %w", w.id, err)
	}
	return os.MkdirAll(w.OutputDir(), 0o755)
}

// FindSource returns the staged source file path.
func (w Workspace) FindSource() (string, error) {
	matches, err := filepath.Glob(filepath.Join(w.Dir(), sourceBase+".*"))
	if err != nil {
		return "", err
	}
	for _, match := range matches {
		if info, statErr := os.Stat(match); statErr == nil && info.Mode().IsRegular() {
			return match, nil
		}
	}
	return "", fmt.Errorf("%w in workspace %s", ErrNoSource, w.id)
}

// Remove deletes the workspace entirely. Removing a missing workspace is
// not an error.
func (w Workspace) Remove() error {
	if err := os.RemoveAll(w.Dir()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove workspace %s: %w", w.id, err)
	}
	return nil
}
