package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stevegt/readercomp"
)

// FindProjectRoot walks up the directory tree from the current file to find go.mod
func FindProjectRoot() (string, error) {
	// Get the directory of the caller's source file
	_, filename, _, ok := runtime.Caller(1)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)

	// Walk up the directory tree looking for go.mod
	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached the root without finding go.mod
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// WriteTree creates entries below root. Keys are slash separated relative
// paths; a key ending in "/" creates an empty directory, any other key a file
// holding the value.
func WriteTree(t testing.TB, fs afero.Fs, root string, entries map[string]string) {
	t.Helper()

	if err := fs.MkdirAll(root, 0755); err != nil {
		t.Fatalf("mkdir %s: %v", root, err)
	}
	for rel, content := range entries {
		path := filepath.Join(root, filepath.FromSlash(strings.TrimSuffix(rel, "/")))
		if strings.HasSuffix(rel, "/") {
			if err := fs.MkdirAll(path, 0755); err != nil {
				t.Fatalf("mkdir %s: %v", path, err)
			}
			continue
		}
		if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
		}
		if err := afero.WriteFile(fs, path, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
}

// Snapshot returns every entry below root in the format accepted by
// WriteTree. The root itself is not included.
func Snapshot(t testing.TB, fs afero.Fs, root string) map[string]string {
	t.Helper()

	out := make(map[string]string)
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if info.IsDir() {
			out[rel+"/"] = ""
			return nil
		}
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return err
		}
		out[rel] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("snapshot %s: %v", root, err)
	}
	return out
}

// AssertMirrored fails the test unless replica holds exactly the same
// relative paths as source and every file has identical content.
func AssertMirrored(t testing.TB, fs afero.Fs, source, replica string) {
	t.Helper()

	want := Snapshot(t, fs, source)
	got := Snapshot(t, fs, replica)

	for _, rel := range sortedKeys(want) {
		if _, ok := got[rel]; !ok {
			t.Errorf("replica is missing %s", rel)
			continue
		}
		if strings.HasSuffix(rel, "/") {
			continue
		}
		if !sameBytes(t, fs, filepath.Join(source, rel), filepath.Join(replica, rel)) {
			t.Errorf("content of %s differs between source and replica", rel)
		}
	}
	for _, rel := range sortedKeys(got) {
		if _, ok := want[rel]; !ok {
			t.Errorf("replica has extra entry %s", rel)
		}
	}
}

func sameBytes(t testing.TB, fs afero.Fs, a, b string) bool {
	t.Helper()

	fa, err := fs.Open(a)
	if err != nil {
		t.Fatalf("open %s: %v", a, err)
	}
	defer func() { _ = fa.Close() }()

	fb, err := fs.Open(b)
	if err != nil {
		t.Fatalf("open %s: %v", b, err)
	}
	defer func() { _ = fb.Close() }()

	ok, err := readercomp.Equal(fa, fb, 4096)
	if err != nil {
		t.Fatalf("compare %s and %s: %v", a, b, err)
	}
	return ok
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
