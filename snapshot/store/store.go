// This package defines the Store interfaces for reading and writing
// snapshots to some underlying system, and the file backed implementation.
package store

import (
	"io"

	"github.com/fsdbtools/fsdbview/snapshot"
)

// Resource wraps the data of a stored snapshot.
// Length: length in bytes of data to be read
type Resource struct {
	io.ReadCloser
	Length int64
}

// NewResource constructs a new resource.
func NewResource(rc io.ReadCloser, l int64) *Resource {
	return &Resource{ReadCloser: rc, Length: l}
}

// Read-only operations on store.
type StoreRead interface {
	// Check if the snapshot exists.
	Exists(id snapshot.ID) (bool, error)

	// Open the snapshot for streaming read. It is the caller's responsibility to call Close().
	OpenForRead(id snapshot.ID) (*Resource, error)

	// Get the base location, like a directory, that the Store writes to
	Root() string
}

// Write operations on store. Snapshots are immutable, so writing is limited
// to creating new ones and removing unreferenced ones.
type StoreWrite interface {
	// Stage starts a new snapshot. Nothing is visible until Commit.
	Stage() (*Staged, error)

	// Import copies an external stream in as a snapshot with no producing command.
	Import(r io.Reader) (snapshot.Snapshot, error)

	// StartImport is Import without waiting for the stream to end. The
	// snapshot can be read while it is still being copied.
	StartImport(r io.Reader) (*Import, error)

	// Remove deletes a snapshot's storage. Removing a missing snapshot is not an error.
	Remove(id snapshot.ID) error

	// SaveAs publishes a copy of a snapshot at path, never leaving a partial file there.
	SaveAs(id snapshot.ID, path string, overwrite bool) error
}

// Combines read and write operations on store. This is what most of the code will use.
type Store interface {
	StoreRead
	StoreWrite
}
