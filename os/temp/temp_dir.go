// Package temp makes hierarchical temporary directories.
// The more you use this to create temporary directories, the fewer places
// we need to change when we want to relocate all our tempfiles.
package temp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const DirPrefix = "fsdbview-"

// Create a new TempDir in directory dir with prefix string.
// An empty dir means the system default ($TMPDIR).
func NewTempDir(dir, prefix string) (*TempDir, error) {
	p, err := os.MkdirTemp(dir, prefix)
	if err != nil {
		return nil, err
	}
	return &TempDir{Dir: p}, nil
}

// TempDir is a temporary directory, that may live under other temporary directories.
type TempDir struct {
	Dir string
}

// Create a new directory with a fixed name (this lets us structure our temp files)
func (d *TempDir) FixedDir(name string) (*TempDir, error) {
	if name == "" || strings.ContainsRune(name, os.PathSeparator) {
		return nil, fmt.Errorf("temp.TempDir.FixedDir: Invalid name %q", name)
	}
	p := filepath.Join(d.Dir, name)
	if err := os.MkdirAll(p, 0700); err != nil {
		return nil, err
	}
	return &TempDir{p}, nil
}

// Remove deletes d and everything below it.
func (d *TempDir) Remove() error {
	return os.RemoveAll(d.Dir)
}

// TempDirIn creates a session TempDir under root, or under the default temp
// dir when root is empty.
func TempDirIn(root string) (*TempDir, error) {
	tmpDir, err := NewTempDir(root, DirPrefix)
	if err != nil {
		return nil, fmt.Errorf("temp.TempDirIn: couldn't create temp dir under %q: %w", root, err)
	}
	return tmpDir, nil
}
