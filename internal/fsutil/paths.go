package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

const dirPerm = 0755

// CanonicalPath is the resolved form of a destination path. It identifies one
// in-flight download and is the key of the in-flight registry.
type CanonicalPath string

func (p CanonicalPath) String() string {
	return string(p)
}

// EnsureDirectories creates every ancestor directory of path that does not
// exist yet. The last path component is never created. A directory that
// already exists counts as created; any other error stops the walk and is
// returned as the *fs.PathError reported by os.Mkdir.
func EnsureDirectories(path string) error {
	for i := 0; i < len(path); i++ {
		if !os.IsPathSeparator(path[i]) || i == 0 {
			continue
		}

		dir := path[:i]
		if isRoot(dir) {
			continue
		}

		if err := os.Mkdir(dir, dirPerm); err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
	}

	return nil
}

// Canonicalize resolves path to an absolute, symlink-free form. When that is
// not possible, most often because the file does not exist yet, the input is
// returned unchanged.
func Canonicalize(path string) CanonicalPath {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return CanonicalPath(path)
	}

	abs, err := filepath.Abs(resolved)
	if err != nil {
		return CanonicalPath(path)
	}

	return CanonicalPath(abs)
}

// isRoot reports whether dir is a volume root such as "C:" on windows.
func isRoot(dir string) bool {
	return dir == filepath.VolumeName(dir) && dir != ""
}
