// Package tree maps entries between two directory trees by relative
// identifier and reports what kind of entry lives at a path.
package tree

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/afero"
)

// TempPrefix is the name prefix of the engine's in-flight copies
const TempPrefix = ".dirsyncd-tmp-"

// Kind is the type of a filesystem entry
type Kind int

const (
	Missing Kind = iota
	File
	Dir
	Other
)

func (k Kind) String() string {
	switch k {
	case Missing:
		return "missing"
	case File:
		return "file"
	case Dir:
		return "directory"
	default:
		return "other"
	}
}

// KindOf reports the kind of the entry at path without following a final
// symlink. A path that does not exist, or whose parent is not a directory,
// is Missing.
func KindOf(fs afero.Fs, path string) (Kind, error) {
	info, err := lstat(fs, path)
	if err != nil {
		if isMissing(err) {
			return Missing, nil
		}
		return Missing, fmt.Errorf("stat %s: %w", path, err)
	}
	return KindOfInfo(info), nil
}

// KindOfInfo classifies an already obtained FileInfo
func KindOfInfo(info os.FileInfo) Kind {
	switch {
	case info.IsDir():
		return Dir
	case info.Mode().IsRegular():
		return File
	default:
		return Other
	}
}

// RelativePath returns the relative identifier of target below base
func RelativePath(base, target string) (string, error) {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", target, base)
	}
	return rel, nil
}

// Rebase returns the path with the same relative identifier as path, but
// below toRoot instead of fromRoot.
func Rebase(fromRoot, toRoot, path string) (string, error) {
	rel, err := RelativePath(fromRoot, path)
	if err != nil {
		return "", err
	}
	return filepath.Join(toRoot, rel), nil
}

// IsTempFile returns true if name looks like one of the engine's temporary
// copies
func IsTempFile(name string) bool {
	return strings.HasPrefix(filepath.Base(name), TempPrefix)
}

func lstat(fs afero.Fs, path string) (os.FileInfo, error) {
	if l, ok := fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(path)
		return info, err
	}
	return fs.Stat(path)
}

func isMissing(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
