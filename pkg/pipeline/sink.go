package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/matzehuels/piprecipes/pkg/errors"
	"github.com/matzehuels/piprecipes/pkg/recipe"
)

// Sink receives rendered recipes. Write must not leave a partial file behind
// when it fails or ctx is cancelled.
type Sink interface {
	Write(ctx context.Context, rec recipe.Recipe) error
}

// DirSink writes recipes under a root directory. Each file is written to a
// temporary sibling and renamed into place.
type DirSink struct {
	root string
}

// NewDirSink creates a DirSink rooted at dir, creating dir if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "create output directory %s", dir)
	}
	return &DirSink{root: dir}, nil
}

// Root returns the output directory.
func (s *DirSink) Root() string { return s.root }

// Write stores rec at its path below the root.
func (s *DirSink) Write(ctx context.Context, rec recipe.Recipe) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := errors.ValidatePath(rec.Path); err != nil {
		return err
	}
	dest := filepath.Join(s.root, filepath.FromSlash(rec.Path))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidPath, err, "create %s", filepath.Dir(dest))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".recipe-*.tmp")
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidPath, err, "create temp file for %s", rec.Path)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.WriteString(rec.Content); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write %s", rec.Path)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "chmod %s", rec.Path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "close %s", rec.Path)
	}
	if err := ctx.Err(); err != nil {
		os.Remove(tmp.Name())
		committed = true
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "rename %s", rec.Path)
	}
	committed = true
	return nil
}
