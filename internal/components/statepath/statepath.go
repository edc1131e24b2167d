package statepath

import (
	"os"
	"path/filepath"
	"strings"
)

// Prefix marks a path as relative to the state directory.
const Prefix = "<state>"

// DefaultRoot returns the directory used for "<state>" when none is configured,
// the current working directory.
func DefaultRoot() (string, error) {
	return filepath.Abs(".")
}

// Resolve expands a leading "<state>" in path to root and creates the directory holding the
// resolved path. Paths without the prefix are returned as-is.
func Resolve(root, path string) (string, error) {
	if !strings.HasPrefix(path, Prefix) {
		return path, nil
	}
	if root == "" {
		var err error
		root, err = DefaultRoot()
		if err != nil {
			return "", err
		}
	}

	subpath := strings.TrimLeft(strings.TrimPrefix(path, Prefix), `/\`)
	resolved := filepath.Join(root, filepath.FromSlash(subpath))

	err := os.MkdirAll(filepath.Dir(resolved), 0o755)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// Dir is a state directory, it joins relative paths onto its root and creates parent
// directories on demand.
type Dir struct {
	Root string
}

// Path returns the path of elem under the state root, creating its parent directory.
func (d Dir) Path(elem ...string) (string, error) {
	return Resolve(d.Root, Prefix+"/"+filepath.ToSlash(filepath.Join(elem...)))
}
