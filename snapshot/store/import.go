package store

import (
	"io"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	fserrors "github.com/fsdbtools/fsdbview/common/errors"
	"github.com/fsdbtools/fsdbview/snapshot"
)

const importChunk = 32 * 1024

// Import is an original snapshot still being copied in from its source.
// Its ID is fixed when the copy starts. Until the copy finishes,
// OpenForRead on that ID returns a reader that follows the copy: it waits
// when it catches up and reports io.EOF only once the source is exhausted.
type Import struct {
	id      snapshot.ID
	staged  *Staged
	created time.Time

	mu   sync.Mutex
	cond *sync.Cond
	n    int64
	done bool
	err  error
	snap snapshot.Snapshot
}

// StartImport begins copying r into the store as a snapshot with no
// producing command and returns without waiting for r to be exhausted.
func (s *FileStore) StartImport(r io.Reader) (*Import, error) {
	st, err := s.Stage()
	if err != nil {
		return nil, err
	}
	id, err := newID()
	if err != nil {
		st.Discard()
		return nil, &fserrors.IOError{Op: "import", Path: st.Name(), Err: err}
	}
	im := &Import{id: id, staged: st, created: time.Now()}
	im.cond = sync.NewCond(&im.mu)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		st.Discard()
		return nil, &fserrors.IOError{Op: "import", Path: s.dir, Err: os.ErrClosed}
	}
	if s.imports == nil {
		s.imports = make(map[snapshot.ID]*Import)
	}
	s.imports[id] = im
	s.mu.Unlock()

	go s.copyIn(im, r)
	return im, nil
}

func (s *FileStore) copyIn(im *Import, r io.Reader) {
	buf := make([]byte, importChunk)
	var err error
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := im.staged.Write(buf[:n]); werr != nil {
				err = werr
				break
			}
			im.mu.Lock()
			aborted := im.done
			im.n = im.staged.n
			im.cond.Broadcast()
			im.mu.Unlock()
			if aborted {
				im.staged.Discard()
				return
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			err = rerr
			break
		}
	}

	im.mu.Lock()
	if im.done {
		im.mu.Unlock()
		im.staged.Discard()
		return
	}
	var snap snapshot.Snapshot
	if err == nil {
		snap, err = im.staged.commitAs(im.id, nil)
	} else {
		err = &fserrors.IOError{Op: "import", Path: im.staged.Name(), Err: err}
		im.staged.Discard()
	}
	im.done, im.err, im.snap = true, err, snap
	im.cond.Broadcast()
	im.mu.Unlock()

	if err != nil {
		log.WithFields(
			log.Fields{
				"snapshot": im.id,
				"bytes":    im.n,
				"error":    err,
			}).Error("Import failed")
		return
	}
	s.mu.Lock()
	delete(s.imports, im.id)
	s.mu.Unlock()
	log.WithFields(
		log.Fields{
			"snapshot": im.id,
			"bytes":    snap.Size,
		}).Info("Imported snapshot")
}

// abort ends the import with err. Followers get err once they have read
// what was copied so far.
func (im *Import) abort(err error) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.done {
		return
	}
	im.done, im.err = true, err
	im.cond.Broadcast()
}

func (im *Import) ID() snapshot.ID { return im.id }

func (im *Import) state() (done bool, err error) {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.done, im.err
}

// Wait blocks until the source is exhausted and returns the committed
// snapshot, or the error that ended the copy.
func (im *Import) Wait() (snapshot.Snapshot, error) {
	im.mu.Lock()
	defer im.mu.Unlock()
	for !im.done {
		im.cond.Wait()
	}
	if im.err != nil {
		return im.partial(), im.err
	}
	return im.snap, nil
}

// Snapshot describes the import as it stands: the committed snapshot once
// the copy has succeeded, otherwise the bytes copied so far.
func (im *Import) Snapshot() snapshot.Snapshot {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.done && im.err == nil {
		return im.snap
	}
	return im.partial()
}

// partial is Snapshot with im.mu held and the copy not committed.
func (im *Import) partial() snapshot.Snapshot {
	return snapshot.Snapshot{ID: im.id, Size: im.n, Created: im.created}
}

// follow opens a reader on the copy in progress. ok is false once the copy
// has been committed, and the caller should open the snapshot itself.
func (im *Import) follow() (res *Resource, ok bool, err error) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.done {
		return nil, im.err != nil, im.err
	}
	f, err := os.Open(im.staged.Name())
	if err != nil {
		return nil, true, &fserrors.IOError{Op: "open", Path: im.staged.Name(), Err: err}
	}
	return NewResource(&follower{im: im, f: f}, -1), true, nil
}

// follower reads a staging file while it is still being written.
type follower struct {
	im  *Import
	f   *os.File
	off int64
}

func (fr *follower) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := fr.f.Read(p)
		fr.off += int64(n)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}

		im := fr.im
		im.mu.Lock()
		for !im.done && im.n <= fr.off {
			im.cond.Wait()
		}
		done, total, ierr := im.done, im.n, im.err
		im.mu.Unlock()
		if done && fr.off >= total {
			if ierr != nil {
				return 0, ierr
			}
			return 0, io.EOF
		}
	}
}

func (fr *follower) Close() error {
	return fr.f.Close()
}
