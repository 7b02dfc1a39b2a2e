// Package files removes the files associated with stored entities, such as
// the downloaded content of saved pages.
package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Remover deletes a file, or a directory tree when recursive is set. Paths
// are slash separated and relative to the remover's root; "" is the root
// itself. A path that does not exist is not an error.
type Remover interface {
	Delete(ctx context.Context, name string, recursive bool) error
}

// Clean normalises a relative name and rejects names escaping the root.
func Clean(name string) (string, error) {
	slashed := strings.ReplaceAll(name, "\\", "/")
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid path %q: must not contain ..", name)
		}
	}
	return strings.TrimPrefix(path.Clean("/"+slashed), "/"), nil
}

// Local removes files below a directory on the local filesystem.
type Local struct {
	Root string
}

// NewLocal returns a Local remover rooted at dir.
func NewLocal(dir string) *Local {
	return &Local{Root: dir}
}

// Delete implements Remover.
func (l *Local) Delete(ctx context.Context, name string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.Root == "" {
		return errors.New("local file root is not configured")
	}

	rel, err := Clean(name)
	if err != nil {
		return err
	}
	target := filepath.Join(l.Root, filepath.FromSlash(rel))

	if recursive {
		err = os.RemoveAll(target)
	} else {
		err = os.Remove(target)
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", target, err)
	}

	logrus.WithFields(logrus.Fields{
		"path":      target,
		"recursive": recursive,
	}).Debug("Removed local files")
	return nil
}
