package store

import (
	"bytes"
	"io"
	"os"

	fserrors "github.com/fsdbtools/fsdbview/common/errors"
	"github.com/fsdbtools/fsdbview/snapshot"
)

// Implements StoreRead. FakeStore just keeps snapshot bytes in memory.
type FakeStore struct {
	Files map[snapshot.ID][]byte
}

var _ StoreRead = (*FakeStore)(nil)

func (f *FakeStore) Exists(id snapshot.ID) (bool, error) {
	if _, ok := f.Files[id]; !ok {
		return false, nil
	}
	return true, nil
}

func (f *FakeStore) OpenForRead(id snapshot.ID) (*Resource, error) {
	b, ok := f.Files[id]
	if !ok {
		return nil, &fserrors.IOError{Op: "open", Path: string(id), Err: os.ErrNotExist}
	}
	return NewResource(io.NopCloser(bytes.NewReader(b)), int64(len(b))), nil
}

func (f *FakeStore) Root() string { return "" }

// Put stores data under id, replacing anything already there.
func (f *FakeStore) Put(id snapshot.ID, data []byte) {
	// Initialize map on first entry
	if f.Files == nil {
		f.Files = make(map[snapshot.ID][]byte)
	}
	f.Files[id] = data
}
