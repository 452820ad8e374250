// Package versions keeps a session's timeline: the original input followed
// by every snapshot a transform has produced, newest last.
package versions

import (
	"sync"

	fserrors "github.com/fsdbtools/fsdbview/common/errors"
	"github.com/fsdbtools/fsdbview/snapshot"
)

// ErrNothingToUndo is returned by Undo when only the original remains.
var ErrNothingToUndo = &fserrors.UndoError{Msg: "nothing to undo"}

// Stack is never empty. Readers may call it from any goroutine; every
// mutation replaces the top in one step under the lock.
type Stack struct {
	mu        sync.RWMutex
	snapshots []snapshot.Snapshot
}

func New(original snapshot.Snapshot) *Stack {
	return &Stack{snapshots: []snapshot.Snapshot{original}}
}

// Push makes snap the current version. A non-nil rec overrides snap.ProducedBy.
func (s *Stack) Push(snap snapshot.Snapshot, rec *snapshot.CommandRecord) {
	if rec != nil {
		snap.ProducedBy = rec
	}
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

func (s *Stack) Current() snapshot.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshots[len(s.snapshots)-1]
}

func (s *Stack) Original() snapshot.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshots[0]
}

// Undo drops the current version and returns the new current one along
// with the dropped one, so the caller can release its storage.
func (s *Stack) Undo() (current, popped snapshot.Snapshot, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.snapshots)
	if n == 1 {
		return s.snapshots[0], snapshot.Snapshot{}, ErrNothingToUndo
	}
	popped = s.snapshots[n-1]
	s.snapshots[n-1] = snapshot.Snapshot{}
	s.snapshots = s.snapshots[:n-1]
	return s.snapshots[n-2], popped, nil
}

// History returns the producing command of every version, oldest first.
// The original's entry is nil.
func (s *Stack) History() []*snapshot.CommandRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := make([]*snapshot.CommandRecord, len(s.snapshots))
	for i, snap := range s.snapshots {
		h[i] = snap.ProducedBy
	}
	return h
}

// Entries returns a copy of the versions, oldest first.
func (s *Stack) Entries() []snapshot.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]snapshot.Snapshot(nil), s.snapshots...)
}

func (s *Stack) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}
