// Package session ties the pipeline together: a Session owns one snapshot
// store, the version stack over it, and a loader cursor on the current
// version. Transforms run external programs against the current version
// and push what they write as the next one.
package session

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	fserrors "github.com/fsdbtools/fsdbview/common/errors"
	"github.com/fsdbtools/fsdbview/common/stats"
	"github.com/fsdbtools/fsdbview/fsdb"
	"github.com/fsdbtools/fsdbview/history"
	"github.com/fsdbtools/fsdbview/loader"
	"github.com/fsdbtools/fsdbview/os/temp"
	"github.com/fsdbtools/fsdbview/runner/execer"
	osexecer "github.com/fsdbtools/fsdbview/runner/execer/os"
	"github.com/fsdbtools/fsdbview/snapshot"
	"github.com/fsdbtools/fsdbview/snapshot/store"
	"github.com/fsdbtools/fsdbview/snapshot/versions"
)

// ErrBusy is returned when a transform or undo is requested while another
// transform is still running.
var ErrBusy = errors.New("a transform is already running")

// ErrClosed is returned by operations on a closed Session.
var ErrClosed = errors.New("session is closed")

type Options struct {
	// RowLimit is the batch size LoadMore uses when asked for 0 rows.
	RowLimit int
	// TempDir is where the snapshot store is created; empty means $TMPDIR.
	TempDir string
	// Execer runs transforms; nil means the OS execer.
	Execer execer.Execer
	// Stats receives session metrics; nil means none are kept.
	Stats stats.StatsReceiver
	// Matcher finds provenance in the original input; nil means the default.
	Matcher fsdb.HistoryMatcher
	// MaxStderr bounds the diagnostic text kept from a failed transform.
	MaxStderr int
}

func (o Options) withDefaults() Options {
	if o.RowLimit <= 0 {
		o.RowLimit = loader.DefaultBatch
	}
	if o.Execer == nil {
		o.Execer = osexecer.NewExecer()
	}
	if o.Stats == nil {
		o.Stats = stats.NilStatsReceiver()
	}
	if o.MaxStderr <= 0 {
		o.MaxStderr = execer.DefaultMaxStderr
	}
	return o
}

type Session struct {
	name        string
	opts        Options
	store       *store.FileStore
	original    *store.Import
	closeSource func()
	stack       *versions.Stack
	tracker     *history.Tracker
	stat        stats.StatsReceiver

	ctx    context.Context
	cancel context.CancelFunc

	// Held for the whole of a transform or undo; acquired with TryLock.
	running sync.Mutex

	mu      sync.Mutex
	cursor  *loader.Cursor
	bindErr error
	closed  atomic.Bool
}

// Open starts copying source into a new snapshot store as version 0 and
// binds a cursor to it. It returns once the header has been read: rows can
// be loaded while the rest of source is still arriving, and LoadMore only
// waits for the rows it asks for. Failure to create the store is returned
// as an IOError with no Session. If the header does not parse, the Session
// is returned together with the FormatError: it has no columns but can
// still be saved and transformed. ctx bounds every transform the Session
// runs. The caller keeps ownership of source and should not close it
// before the copy is done (see WaitOriginal) or the Session is closed.
func Open(ctx context.Context, source io.Reader, name string, opts Options) (*Session, error) {
	return open(ctx, source, nil, name, opts)
}

// OpenFile opens the file at path, or stdin when path is "" or "-". The
// file is closed when the copy finishes or the Session is closed.
func OpenFile(ctx context.Context, path string, opts Options) (*Session, error) {
	if path == "" || path == "-" {
		return Open(ctx, os.Stdin, "<stdin>", opts)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &fserrors.IOError{Op: "open", Path: path, Err: err}
	}
	s, err := open(ctx, f, f, path, opts)
	if s == nil {
		f.Close()
	}
	return s, err
}

func open(ctx context.Context, source io.Reader, owned io.Closer, name string, opts Options) (*Session, error) {
	opts = opts.withDefaults()

	tmp, err := temp.TempDirIn(opts.TempDir)
	if err != nil {
		return nil, &fserrors.IOError{Op: "create store", Path: opts.TempDir, Err: err}
	}
	st, err := store.MakeFileStoreInTemp(tmp)
	if err != nil {
		tmp.Remove()
		return nil, err
	}
	imp, err := st.StartImport(source)
	if err != nil {
		st.Close()
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	original := imp.Snapshot()
	s := &Session{
		name:     name,
		opts:     opts,
		store:    st,
		original: imp,
		stack:    versions.New(original),
		tracker:  history.NewTracker(opts.Matcher),
		stat:     opts.Stats.Scope("session"),
		ctx:      sctx,
		cancel:   cancel,
	}
	if owned != nil {
		var once sync.Once
		s.closeSource = func() { once.Do(func() { owned.Close() }) }
		go func() {
			imp.Wait()
			s.closeSource()
		}()
	}
	s.stat.Gauge(stats.SessionVersionDepthGauge).Update(1)

	log.WithFields(
		log.Fields{
			"source":   name,
			"snapshot": original.ID,
			"store":    st.Root(),
		}).Info("Opened session")

	s.mu.Lock()
	err = s.bindLocked(original)
	s.mu.Unlock()
	return s, err
}

// WaitOriginal blocks until the source has been copied in completely and
// returns version 0 as committed.
func (s *Session) WaitOriginal() (snapshot.Snapshot, error) {
	return s.original.Wait()
}

// latest fills in the size and columns of the original once its copy has
// finished.
func (s *Session) latest(snap snapshot.Snapshot) snapshot.Snapshot {
	if snap.ID == s.original.ID() {
		return s.original.Snapshot()
	}
	return snap
}

// bindLocked replaces the cursor with a fresh one on snap. s.mu must be held.
func (s *Session) bindLocked(snap snapshot.Snapshot) error {
	if s.cursor != nil {
		s.cursor.Close()
	}
	c, err := loader.Bind(s.store, snap)
	s.cursor, s.bindErr = c, err
	if err != nil {
		s.stat.Counter(stats.SessionBindFailureCounter).Inc(1)
	}
	return err
}

// Name is what the session was opened from.
func (s *Session) Name() string { return s.name }

// CurrentColumns returns the columns of the current version; it is empty
// when that version's header did not parse.
func (s *Session) CurrentColumns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cols := s.cursor.Columns()
	if cols == nil {
		return []string{}
	}
	return append([]string(nil), cols...)
}

func (s *Session) Current() snapshot.Snapshot {
	return s.latest(s.stack.Current())
}

// LoadMore reads up to max more rows of the current version. max == 0
// means the configured RowLimit and max < 0 means every remaining row.
func (s *Session) LoadMore(max int) ([]fsdb.Row, error) {
	if max == 0 {
		max = s.opts.RowLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.cursor.LoadMore(max)
	s.stat.Counter(stats.SessionRowsLoadedCounter).Inc(int64(len(rows)))
	return rows, err
}

// Rows returns every row loaded from the current version so far.
func (s *Session) Rows() []fsdb.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor.Rows()
}

// Loaded is the number of rows loaded from the current version.
func (s *Session) Loaded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor.Loaded()
}

// Done reports whether the current version has been read to the end.
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor.Done()
}

// Metadata returns the comment lines of the current version read so far.
func (s *Session) Metadata() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor.Metadata()
}

// Header is the parsed header of the current version, nil if it did not parse.
func (s *Session) Header() *fsdb.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor.Header()
}

// LastBindError is the error from binding the current version, if any.
func (s *Session) LastBindError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindErr
}

// ApplyTransform runs program with args, feeding it the current version and
// storing what it writes as a new version. On any failure the staged
// output is discarded and the current version is unchanged. If the new
// version's header does not parse, the version is still pushed and
// returned together with the FormatError so the caller can undo it.
func (s *Session) ApplyTransform(ctx context.Context, program string, args ...string) (snapshot.Snapshot, error) {
	if !s.running.TryLock() {
		s.stat.Counter(stats.SessionTransformBusyCounter).Inc(1)
		return snapshot.Snapshot{}, ErrBusy
	}
	defer s.running.Unlock()
	if s.isClosed() {
		return snapshot.Snapshot{}, ErrClosed
	}

	argv := append([]string{program}, args...)
	start := stats.Time.Now()
	rec := snapshot.NewCommandRecord(argv, start)

	snap, err := s.run(ctx, argv, rec)
	elapsed := stats.Time.Since(start)
	s.stat.Latency(stats.SessionTransformLatency_ms).Observe(elapsed)
	if err != nil {
		s.stat.Counter(stats.SessionTransformFailureCounter).Inc(1)
		log.WithFields(
			log.Fields{
				"argv":  argv,
				"error": err,
			}).Info("Transform failed")
		return snapshot.Snapshot{}, err
	}

	s.stack.Push(snap, rec)
	s.stat.Counter(stats.SessionTransformSuccessCounter).Inc(1)
	s.stat.Gauge(stats.SessionVersionDepthGauge).Update(int64(s.stack.Len()))
	log.WithFields(
		log.Fields{
			"argv":     argv,
			"snapshot": snap.ID,
			"bytes":    snap.Size,
			"elapsed":  elapsed,
		}).Info("Transform committed")

	s.mu.Lock()
	defer s.mu.Unlock()
	return snap, s.bindLocked(snap)
}

// run streams the current version through argv into a staged snapshot and
// commits it. Nothing is committed unless the program exits 0.
func (s *Session) run(ctx context.Context, argv []string, rec *snapshot.CommandRecord) (snapshot.Snapshot, error) {
	cur := s.stack.Current()
	input, err := s.store.OpenForRead(cur.ID)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	defer input.Close()

	staged, err := s.store.Stage()
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	// No-op once committed.
	defer staged.Discard()

	// Either the caller or Close may stop the program.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	stderr := execer.NewTailBuffer(s.opts.MaxStderr)
	p, err := s.opts.Execer.Exec(runCtx, execer.Command{
		Argv:   argv,
		Stdin:  input,
		Stdout: staged,
		Stderr: stderr,
	})
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	st := p.Wait()
	if err := execer.Classify(argv, st, stderr.String()); err != nil {
		return snapshot.Snapshot{}, err
	}

	rec.Duration = stats.Time.Since(rec.Timestamp)
	return staged.Commit(rec)
}

// Undo drops the current version, releases its storage and rebinds the
// cursor to the previous one, which is returned. At the original it fails
// with an UndoError and changes nothing.
func (s *Session) Undo() (snapshot.Snapshot, error) {
	if !s.running.TryLock() {
		s.stat.Counter(stats.SessionTransformBusyCounter).Inc(1)
		return snapshot.Snapshot{}, ErrBusy
	}
	defer s.running.Unlock()
	if s.isClosed() {
		return snapshot.Snapshot{}, ErrClosed
	}

	cur, popped, err := s.stack.Undo()
	if err != nil {
		return cur, err
	}
	if err := s.store.Remove(popped.ID); err != nil {
		log.WithFields(
			log.Fields{
				"snapshot": popped.ID,
				"error":    err,
			}).Warn("Could not remove undone snapshot")
	}
	s.stat.Counter(stats.SessionUndoCounter).Inc(1)
	s.stat.Gauge(stats.SessionVersionDepthGauge).Update(int64(s.stack.Len()))
	log.WithFields(
		log.Fields{
			"undone":   popped.ID,
			"snapshot": cur.ID,
		}).Info("Undo")

	s.mu.Lock()
	defer s.mu.Unlock()
	return cur, s.bindLocked(cur)
}

// History returns the commands behind the current version, oldest first.
// Before any transform it reports the provenance recorded in the original
// input; it never fails.
func (s *Session) History() []string {
	return s.tracker.Describe(s.stack.History(), s.openOriginal)
}

func (s *Session) openOriginal() (io.ReadCloser, error) {
	res, err := s.store.OpenForRead(s.stack.Original().ID)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Versions returns every version on the stack, oldest first.
func (s *Session) Versions() []snapshot.Snapshot {
	entries := s.stack.Entries()
	for i := range entries {
		entries[i] = s.latest(entries[i])
	}
	return entries
}

// SaveAs writes the current version to path. An existing file is replaced
// only when overwrite is set.
func (s *Session) SaveAs(path string, overwrite bool) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.store.SaveAs(s.stack.Current().ID, path, overwrite); err != nil {
		return err
	}
	s.stat.Counter(stats.SessionSaveCounter).Inc(1)
	return nil
}

// WriteCurrent copies the current version's bytes to w.
func (s *Session) WriteCurrent(w io.Writer) (int64, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	cur := s.stack.Current()
	res, err := s.store.OpenForRead(cur.ID)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	n, err := io.Copy(w, res)
	if err != nil {
		return n, &fserrors.IOError{Op: "write", Path: string(cur.ID), Err: err}
	}
	return n, nil
}

// Stats is the receiver the session reports to.
func (s *Session) Stats() stats.StatsReceiver { return s.stat }

func (s *Session) isClosed() bool {
	return s.closed.Load()
}

// Close kills any running transform, waits for it to unwind and removes
// every snapshot. It is safe to call more than once.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.cancel()
	// Releases readers still waiting on the source; a LoadMore or a
	// transform feed may be one of them.
	err := s.store.Close()
	if s.closeSource != nil {
		s.closeSource()
	}
	start := time.Now()
	s.running.Lock()
	defer s.running.Unlock()
	if waited := time.Since(start); waited > time.Second {
		log.Infof("Waited %v for running transform to stop", waited)
	}

	s.mu.Lock()
	s.cursor.Close()
	s.mu.Unlock()
	log.Infof("Closed session on %s", s.name)
	return err
}
