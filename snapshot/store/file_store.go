package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	uuid "github.com/nu7hatch/gouuid"
	log "github.com/sirupsen/logrus"

	fserrors "github.com/fsdbtools/fsdbview/common/errors"
	"github.com/fsdbtools/fsdbview/fsdb"
	"github.com/fsdbtools/fsdbview/os/temp"
	"github.com/fsdbtools/fsdbview/snapshot"
)

const (
	snapshotSuffix = ".fsdb"
	stagePattern   = ".stage-*"
)

// Create a fixed "snapshots" dir inside tmp. The store owns tmp and removes
// it on Close.
func MakeFileStoreInTemp(tmp *temp.TempDir) (*FileStore, error) {
	dir, err := tmp.FixedDir("snapshots")
	if err != nil {
		return nil, &fserrors.IOError{Op: "create store", Path: tmp.Dir, Err: err}
	}
	s, err := MakeFileStore(dir.Dir)
	if err != nil {
		return nil, err
	}
	s.owned = tmp
	return s, nil
}

func MakeFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, &fserrors.IOError{Op: "create store", Path: dir, Err: err}
	}
	log.Infof("Making new FileStore at dir: %s", dir)
	return &FileStore{dir: dir}, nil
}

// FileStore keeps each snapshot as one file named by a random UUID.
type FileStore struct {
	dir   string
	owned *temp.TempDir

	mu      sync.Mutex
	closed  bool
	imports map[snapshot.ID]*Import
}

var _ Store = (*FileStore)(nil)

func (s *FileStore) path(id snapshot.ID) (string, error) {
	name := string(id)
	if name == "" || strings.ContainsRune(name, os.PathSeparator) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid snapshot id %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// OpenForRead opens a committed snapshot, or follows an import that is
// still copying. A followed Resource has Length -1.
func (s *FileStore) OpenForRead(id snapshot.ID) (*Resource, error) {
	if im := s.importing(id); im != nil {
		if res, ok, err := im.follow(); ok {
			return res, err
		}
	}
	p, err := s.path(id)
	if err != nil {
		return nil, &fserrors.IOError{Op: "open", Path: string(id), Err: err}
	}
	r, err := os.Open(p)
	if err != nil {
		return nil, &fserrors.IOError{Op: "open", Path: p, Err: err}
	}
	fi, err := r.Stat()
	if err != nil {
		r.Close()
		return nil, &fserrors.IOError{Op: "stat", Path: p, Err: err}
	}
	return NewResource(r, fi.Size()), nil
}

func (s *FileStore) importing(id snapshot.ID) *Import {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imports[id]
}

func (s *FileStore) Exists(id snapshot.ID) (bool, error) {
	if im := s.importing(id); im != nil {
		if done, err := im.state(); !done || err != nil {
			return err == nil, nil
		}
	}
	p, err := s.path(id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *FileStore) Root() string {
	return s.dir
}

func (s *FileStore) Stage() (*Staged, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, &fserrors.IOError{Op: "stage", Path: s.dir, Err: os.ErrClosed}
	}
	f, err := os.CreateTemp(s.dir, stagePattern)
	if err != nil {
		return nil, &fserrors.IOError{Op: "stage", Path: s.dir, Err: err}
	}
	return &Staged{f: f, store: s}, nil
}

// Commit stores data as a new snapshot produced by rec.
func (s *FileStore) Commit(data []byte, rec *snapshot.CommandRecord) (snapshot.Snapshot, error) {
	st, err := s.Stage()
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	if _, err := st.Write(data); err != nil {
		st.Discard()
		return snapshot.Snapshot{}, &fserrors.IOError{Op: "commit", Path: st.f.Name(), Err: err}
	}
	return st.Commit(rec)
}

// Import copies all of r in and returns the committed snapshot.
func (s *FileStore) Import(r io.Reader) (snapshot.Snapshot, error) {
	im, err := s.StartImport(r)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return im.Wait()
}

func (s *FileStore) Remove(id snapshot.ID) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	log.Debugf("Removing snapshot %s", p)
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return &fserrors.IOError{Op: "remove", Path: p, Err: err}
	}
	return nil
}

// SaveAs copies the snapshot to a temporary file beside path, syncs it and
// then publishes it with a hard link (refusing to replace an existing file)
// or, when overwrite is set, a rename. Either way path is never observed
// half written. The snapshot itself is left in place.
func (s *FileStore) SaveAs(id snapshot.ID, path string, overwrite bool) error {
	src, err := s.OpenForRead(id)
	if err != nil {
		return err
	}
	defer src.Close()

	if !overwrite {
		if _, err := os.Lstat(path); err == nil {
			return &fserrors.IOError{Op: "save", Path: path, Err: os.ErrExist}
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &fserrors.IOError{Op: "save", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return &fserrors.IOError{Op: "save", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &fserrors.IOError{Op: "save", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &fserrors.IOError{Op: "save", Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return &fserrors.IOError{Op: "save", Path: path, Err: err}
	}

	if overwrite {
		err = os.Rename(tmpName, path)
	} else {
		err = os.Link(tmpName, path)
	}
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			err = os.ErrExist
		}
		return &fserrors.IOError{Op: "save", Path: path, Err: err}
	}
	log.WithFields(
		log.Fields{
			"snapshot": id,
			"path":     path,
			"bytes":    src.Length,
		}).Info("Saved snapshot")
	return nil
}

// Close removes every snapshot. The store must not be used afterwards.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, im := range s.imports {
		im.abort(&fserrors.IOError{Op: "import", Path: s.dir, Err: os.ErrClosed})
	}
	s.imports = nil
	var err error
	if s.owned != nil {
		err = s.owned.Remove()
	} else {
		err = os.RemoveAll(s.dir)
	}
	if err != nil {
		log.WithFields(
			log.Fields{
				"dir":   s.dir,
				"error": err,
			}).Error("Error removing snapshot store")
	}
	return err
}

// Staged is a snapshot being written. It becomes visible only on Commit;
// Discard throws it away.
type Staged struct {
	f     *os.File
	store *FileStore
	n     int64
	done  bool
}

func (st *Staged) Write(p []byte) (int, error) {
	n, err := st.f.Write(p)
	st.n += int64(n)
	return n, err
}

func newID() (snapshot.ID, error) {
	u, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return snapshot.ID(u.String() + snapshotSuffix), nil
}

// Commit syncs the staged data and renames it to a fresh snapshot ID.
func (st *Staged) Commit(rec *snapshot.CommandRecord) (snapshot.Snapshot, error) {
	id, err := newID()
	if err != nil {
		st.Discard()
		return snapshot.Snapshot{}, &fserrors.IOError{Op: "commit", Path: st.f.Name(), Err: err}
	}
	return st.commitAs(id, rec)
}

func (st *Staged) commitAs(id snapshot.ID, rec *snapshot.CommandRecord) (snapshot.Snapshot, error) {
	if st.done {
		return snapshot.Snapshot{}, &fserrors.IOError{Op: "commit", Path: st.f.Name(), Err: os.ErrClosed}
	}
	st.done = true
	name := st.f.Name()
	if err := st.f.Sync(); err != nil {
		st.f.Close()
		os.Remove(name)
		return snapshot.Snapshot{}, &fserrors.IOError{Op: "commit", Path: name, Err: err}
	}
	if err := st.f.Close(); err != nil {
		os.Remove(name)
		return snapshot.Snapshot{}, &fserrors.IOError{Op: "commit", Path: name, Err: err}
	}

	final, _ := st.store.path(id)
	if err := os.Rename(name, final); err != nil {
		os.Remove(name)
		return snapshot.Snapshot{}, &fserrors.IOError{Op: "commit", Path: final, Err: err}
	}

	snap := snapshot.Snapshot{
		ID:         id,
		Columns:    readColumns(final),
		ProducedBy: rec,
		Size:       st.n,
		Created:    time.Now(),
	}
	log.WithFields(
		log.Fields{
			"snapshot": id,
			"bytes":    st.n,
			"columns":  snap.Columns,
		}).Debug("Committed snapshot")
	return snap, nil
}

// Discard removes the staged data. It is a no-op after Commit.
func (st *Staged) Discard() error {
	if st.done {
		return nil
	}
	st.done = true
	name := st.f.Name()
	st.f.Close()
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return &fserrors.IOError{Op: "discard", Path: name, Err: err}
	}
	return nil
}

// Name is the staging file path.
func (st *Staged) Name() string {
	return st.f.Name()
}

// readColumns returns the header columns of a committed file, or nil if the
// header does not parse; the loader reports that case when it binds.
func readColumns(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	h, err := fsdb.ParseHeader(bufio.NewReader(f), path)
	if err != nil {
		return nil
	}
	return h.Columns
}
