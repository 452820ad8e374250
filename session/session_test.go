package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/fsdbtools/fsdbview/common/errors"
	"github.com/fsdbtools/fsdbview/common/stats"
	"github.com/fsdbtools/fsdbview/fsdb"
	"github.com/fsdbtools/fsdbview/history"
	"github.com/fsdbtools/fsdbview/runner/execer"
	"github.com/fsdbtools/fsdbview/runner/execer/execers"
)

const table = "#fsdb -F t a b c\n3\tz\tq\n1\tx\to\n2\ty\tp\n"

func openSession(t *testing.T, input string, opts Options) *Session {
	t.Helper()
	opts.TempDir = t.TempDir()
	s, err := Open(context.Background(), strings.NewReader(input), "test", opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func currentBytes(t *testing.T, s *Session) []byte {
	t.Helper()
	out := filepath.Join(t.TempDir(), "out.fsdb")
	require.NoError(t, s.SaveAs(out, false))
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	return b
}

func firstColumn(rows []fsdb.Row) []string {
	var col []string
	for _, r := range rows {
		col = append(col, r[0])
	}
	return col
}

// Store entries other than committed snapshots.
func strayFiles(t *testing.T, s *Session) []string {
	t.Helper()
	_, err := s.WaitOriginal()
	require.NoError(t, err)
	entries, err := os.ReadDir(s.store.Root())
	require.NoError(t, err)
	var stray []string
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".fsdb") || strings.HasPrefix(e.Name(), ".") {
			stray = append(stray, e.Name())
		}
	}
	return stray
}

func TestOpenAndLoad(t *testing.T) {
	s := openSession(t, table, Options{RowLimit: 2})
	assert.Equal(t, []string{"a", "b", "c"}, s.CurrentColumns())
	assert.True(t, s.Current().IsOriginal())

	rows, err := s.LoadMore(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "1"}, firstColumn(rows))
	rows, err = s.LoadMore(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, firstColumn(rows))
	assert.True(t, s.Done())
	assert.Equal(t, 3, s.Loaded())

	rows, err = s.LoadMore(0)
	assert.NoError(t, err)
	assert.Empty(t, rows)
	assert.Len(t, s.Rows(), 3)
}

func TestSortThenUndo(t *testing.T) {
	t.Setenv("LC_ALL", "C")
	s := openSession(t, table, Options{})
	original := currentBytes(t, s)

	snap, err := s.ApplyTransform(context.Background(), "sort", "-k1")
	require.NoError(t, err)
	assert.Equal(t, snap.ID, s.Current().ID)
	assert.Equal(t, []string{"a", "b", "c"}, snap.Columns)

	rows, err := s.LoadMore(-1)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, firstColumn(rows))
	assert.Equal(t, []string{"sort -k1"}, s.History())

	prev, err := s.Undo()
	require.NoError(t, err)
	assert.True(t, prev.IsOriginal())
	rows, err = s.LoadMore(-1)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "1", "2"}, firstColumn(rows))
	assert.Equal(t, original, currentBytes(t, s))

	exists, err := s.store.Exists(snap.ID)
	require.NoError(t, err)
	assert.False(t, exists, "undone snapshot should be removed")
}

func TestFailedTransformChangesNothing(t *testing.T) {
	s := openSession(t, table, Options{})
	_, err := s.LoadMore(1)
	require.NoError(t, err)
	before := s.Current()

	_, err = s.ApplyTransform(context.Background(), "false")
	var ee *fserrors.ExecutionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 1, ee.ExitCode)

	assert.Equal(t, before, s.Current())
	assert.Equal(t, 1, s.Loaded())
	assert.Empty(t, s.History())
	assert.Len(t, s.Versions(), 1)
	assert.Empty(t, strayFiles(t, s))
}

func TestFailedTransformKeepsStderr(t *testing.T) {
	s := openSession(t, table, Options{MaxStderr: 8})
	_, err := s.ApplyTransform(context.Background(), "sh", "-c", "cat; echo 'something went wrong' >&2; exit 4")
	var ee *fserrors.ExecutionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 4, ee.ExitCode)
	assert.Equal(t, "...t wrong\n", ee.Stderr)
	assert.Empty(t, strayFiles(t, s))
}

func TestLaunchFailure(t *testing.T) {
	s := openSession(t, table, Options{})
	_, err := s.ApplyTransform(context.Background(), "/nonexistent/fsdbview-transform")
	var le *fserrors.LaunchError
	assert.True(t, errors.As(err, &le))
	assert.Len(t, s.Versions(), 1)
	assert.Empty(t, strayFiles(t, s))
}

func TestUndoRestoresOriginalBytes(t *testing.T) {
	t.Setenv("LC_ALL", "C")
	s := openSession(t, table, Options{})
	original := currentBytes(t, s)

	transforms := [][]string{
		{"sort", "-k1"},
		{"head", "-n", "3"},
		{"cat"},
		{"sort"},
	}
	for _, argv := range transforms {
		_, err := s.ApplyTransform(context.Background(), argv[0], argv[1:]...)
		require.NoError(t, err)
	}
	assert.Len(t, s.Versions(), len(transforms)+1)

	for range transforms {
		_, err := s.Undo()
		require.NoError(t, err)
	}
	assert.Equal(t, original, currentBytes(t, s))

	_, err := s.Undo()
	var ue *fserrors.UndoError
	assert.True(t, errors.As(err, &ue))
	assert.Equal(t, original, currentBytes(t, s))
}

func TestHistory(t *testing.T) {
	s := openSession(t, table+"#  | dbcolcreate c\n#  | dbsort a\n", Options{})
	assert.Equal(t, []string{"dbcolcreate c", "dbsort a"}, s.History())

	_, err := s.ApplyTransform(context.Background(), "cat")
	require.NoError(t, err)
	_, err = s.ApplyTransform(context.Background(), "grep", "-v", "z q")
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "grep -v 'z q'"}, s.History())

	versions := s.Versions()
	require.Len(t, versions, 3)
	assert.Nil(t, versions[0].ProducedBy)
	assert.Equal(t, "cat", versions[1].ProducedBy.Name)
	assert.Equal(t, []string{"-v", "z q"}, versions[2].ProducedBy.Args)
}

func TestTruncatedHeader(t *testing.T) {
	input := "#fsdb -F t a b"
	s, err := Open(context.Background(), strings.NewReader(input), "truncated", Options{TempDir: t.TempDir()})
	var fe *fserrors.FormatError
	require.True(t, errors.As(err, &fe))
	require.NotNil(t, s)
	defer s.Close()

	assert.Equal(t, err, s.LastBindError())
	assert.Empty(t, s.CurrentColumns())
	rows, err := s.LoadMore(-1)
	assert.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, []string{history.Unavailable}, s.History())

	assert.Equal(t, []byte(input), currentBytes(t, s))
	_, err = s.Undo()
	var ue *fserrors.UndoError
	assert.True(t, errors.As(err, &ue))
}

func TestTransformProducingBadHeader(t *testing.T) {
	s := openSession(t, table, Options{})
	snap, err := s.ApplyTransform(context.Background(), "sh", "-c", "cat >/dev/null; printf '#fsdb a'")
	var fe *fserrors.FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, snap.ID, s.Current().ID)
	assert.Nil(t, snap.Columns)
	assert.Empty(t, s.CurrentColumns())

	assert.Equal(t, []byte("#fsdb a"), currentBytes(t, s))

	_, err = s.Undo()
	require.NoError(t, err)
	assert.NoError(t, s.LastBindError())
	assert.Equal(t, []string{"a", "b", "c"}, s.CurrentColumns())
}

func TestEmptyOutputIsSuccess(t *testing.T) {
	s := openSession(t, table, Options{})
	_, err := s.ApplyTransform(context.Background(), "sh", "-c", "cat >/dev/null")
	var fe *fserrors.FormatError
	assert.True(t, errors.As(err, &fe))
	assert.Len(t, s.Versions(), 2)
	assert.Equal(t, int64(0), s.Current().Size)
}

func TestSaveAsRefusesExisting(t *testing.T) {
	s := openSession(t, table, Options{})
	out := filepath.Join(t.TempDir(), "exists.fsdb")
	require.NoError(t, os.WriteFile(out, []byte("keep"), 0644))

	err := s.SaveAs(out, false)
	var ioe *fserrors.IOError
	require.True(t, errors.As(err, &ioe))
	assert.True(t, errors.Is(err, os.ErrExist))
	b, _ := os.ReadFile(out)
	assert.Equal(t, "keep", string(b))

	require.NoError(t, s.SaveAs(out, true))
	b, _ = os.ReadFile(out)
	assert.Equal(t, table, string(b))
}

func TestStats(t *testing.T) {
	defer func(old stats.StatsTime) { stats.Time = old }(stats.Time)
	stats.Time = stats.NewTestTime(time.Unix(100, 0), 7*time.Millisecond)

	stat := stats.DefaultStatsReceiver()
	s := openSession(t, table, Options{Stats: stat.Precision(time.Millisecond)})
	_, err := s.LoadMore(-1)
	require.NoError(t, err)
	snap, err := s.ApplyTransform(context.Background(), "cat")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(100, 0), snap.ProducedBy.Timestamp)
	assert.Equal(t, 7*time.Millisecond, snap.ProducedBy.Duration)
	_, err = s.ApplyTransform(context.Background(), "false")
	require.Error(t, err)
	_, err = s.Undo()
	require.NoError(t, err)

	scoped := stat.Scope("session")
	assert.Equal(t, int64(1), scoped.Counter(stats.SessionTransformSuccessCounter).Count())
	assert.Equal(t, int64(1), scoped.Counter(stats.SessionTransformFailureCounter).Count())
	assert.Equal(t, int64(1), scoped.Counter(stats.SessionUndoCounter).Count())
	assert.Equal(t, int64(3), scoped.Counter(stats.SessionRowsLoadedCounter).Count())
	assert.Equal(t, int64(1), scoped.Gauge(stats.SessionVersionDepthGauge).Value())
	var rendered map[string]interface{}
	require.NoError(t, json.Unmarshal(stat.Render(false), &rendered))
	assert.Equal(t, float64(1), rendered["session/undoCounter"])
	assert.Equal(t, float64(7), rendered["session/transformLatency_ms.max"])
}

func TestCloseRemovesStore(t *testing.T) {
	s := openSession(t, table, Options{})
	root := s.store.Root()
	require.NoError(t, s.Close())
	_, err := os.Stat(root)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, s.Close())
	_, err = s.ApplyTransform(context.Background(), "cat")
	assert.Equal(t, ErrClosed, err)
	_, err = s.LoadMore(1)
	assert.Equal(t, ErrClosed, err)
}

func TestCloseKillsRunningTransform(t *testing.T) {
	s := openSession(t, table, Options{})
	done := make(chan error)
	go func() {
		_, err := s.ApplyTransform(context.Background(), "sh", "-c", "cat; sleep 1000")
		done <- err
	}()
	// The staging file appears once the transform holds the lock.
	require.Eventually(t, func() bool { return len(strayFiles(t, s)) > 0 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Close())
	err := <-done
	var ee *fserrors.ExecutionError
	assert.True(t, errors.As(err, &ee))
}

func TestMockedFailureDiscardsPartialOutput(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	proc := execers.NewMockProcess(mockCtrl)
	proc.EXPECT().Wait().Return(execer.ProcessStatus{State: execer.COMPLETE, ExitCode: 2})

	ex := execers.NewMockExecer(mockCtrl)
	ex.EXPECT().Exec(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cmd execer.Command) (execer.Process, error) {
			assert.Equal(t, []string{"dbcol", "a"}, cmd.Argv)
			cmd.Stdout.Write([]byte("#fsdb -F t a\npartial\n"))
			cmd.Stderr.Write([]byte("dbcol: broke"))
			return proc, nil
		})

	s := openSession(t, table, Options{Execer: ex})
	before := currentBytes(t, s)
	_, err := s.ApplyTransform(context.Background(), "dbcol", "a")
	var ee *fserrors.ExecutionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "dbcol: broke", ee.Stderr)

	assert.Len(t, s.Versions(), 1)
	assert.Equal(t, before, currentBytes(t, s))
	assert.Empty(t, strayFiles(t, s))
	entries, err := os.ReadDir(s.store.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMockedTransformReadsCurrentVersion(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	proc := execers.NewMockProcess(mockCtrl)
	proc.EXPECT().Wait().Return(execer.ProcessStatus{State: execer.COMPLETE})

	var fed bytes.Buffer
	ex := execers.NewMockExecer(mockCtrl)
	ex.EXPECT().Exec(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cmd execer.Command) (execer.Process, error) {
			fed.ReadFrom(cmd.Stdin)
			cmd.Stdout.Write([]byte("#fsdb x\n9\n"))
			return proc, nil
		})

	s := openSession(t, table, Options{Execer: ex})
	snap, err := s.ApplyTransform(context.Background(), "fake")
	require.NoError(t, err)
	assert.Equal(t, table, fed.String())
	assert.Equal(t, []string{"x"}, snap.Columns)
	assert.Equal(t, int64(len("#fsdb x\n9\n")), snap.Size)
}

func TestConcurrentTransformIsBusy(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	started := make(chan struct{})
	release := make(chan struct{})
	proc := execers.NewMockProcess(mockCtrl)
	proc.EXPECT().Wait().DoAndReturn(func() execer.ProcessStatus {
		<-release
		return execer.ProcessStatus{State: execer.COMPLETE}
	})

	ex := execers.NewMockExecer(mockCtrl)
	ex.EXPECT().Exec(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cmd execer.Command) (execer.Process, error) {
			cmd.Stdout.Write([]byte("#fsdb a\n1\n"))
			close(started)
			return proc, nil
		}).Times(1)

	stat := stats.DefaultStatsReceiver()
	s := openSession(t, table, Options{Execer: ex, Stats: stat})

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = s.ApplyTransform(context.Background(), "slow")
	}()
	<-started

	_, err := s.ApplyTransform(context.Background(), "second")
	assert.Equal(t, ErrBusy, err)
	_, err = s.Undo()
	assert.Equal(t, ErrBusy, err)

	close(release)
	wg.Wait()
	assert.NoError(t, firstErr)
	assert.Len(t, s.Versions(), 2)
	assert.Equal(t, int64(2), stat.Scope("session").Counter(stats.SessionTransformBusyCounter).Count())
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.fsdb")
	require.NoError(t, os.WriteFile(path, []byte(table), 0644))
	s, err := OpenFile(context.Background(), path, Options{TempDir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Name())

	// Once copied in, editing the file does not change the session.
	_, err = s.WaitOriginal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("#fsdb z\n"), 0644))
	assert.Equal(t, []byte(table), currentBytes(t, s))

	_, err = OpenFile(context.Background(), filepath.Join(t.TempDir(), "missing"), Options{})
	var ioe *fserrors.IOError
	assert.True(t, errors.As(err, &ioe))
}

func TestWriteCurrentAndHeader(t *testing.T) {
	s := openSession(t, table, Options{})
	var buf bytes.Buffer
	n, err := s.WriteCurrent(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(table)), n)
	assert.Equal(t, table, buf.String())

	h := s.Header()
	require.NotNil(t, h)
	assert.Equal(t, "t", h.Separator.Code)
}

func TestOpenStreamsOpenSource(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	go pw.Write([]byte("#fsdb -F t a\n1\n2\n"))

	opened := make(chan *Session, 1)
	go func() {
		s, err := Open(context.Background(), pr, "pipe", Options{TempDir: t.TempDir()})
		assert.NoError(t, err)
		opened <- s
	}()

	var s *Session
	select {
	case s = <-opened:
	case <-time.After(5 * time.Second):
		t.Fatal("Open blocked on a source that is still open")
	}
	defer s.Close()
	assert.Equal(t, []string{"a"}, s.CurrentColumns())

	rows, err := s.LoadMore(1)
	require.NoError(t, err)
	assert.Equal(t, []fsdb.Row{{"1"}}, rows)
	assert.False(t, s.Done())

	go pw.Write([]byte("3\n"))
	rows, err = s.LoadMore(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, firstColumn(rows))

	require.NoError(t, pw.Close())
	rows, err = s.LoadMore(-1)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.True(t, s.Done())

	snap, err := s.WaitOriginal()
	require.NoError(t, err)
	assert.Equal(t, int64(len("#fsdb -F t a\n1\n2\n3\n")), snap.Size)
	assert.Equal(t, snap.Size, s.Versions()[0].Size)
	assert.Equal(t, snap.Size, s.Current().Size)
}

func TestCloseReleasesBlockedLoad(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	go pw.Write([]byte("#fsdb -F t a\n"))
	s, err := Open(context.Background(), pr, "pipe", Options{TempDir: t.TempDir()})
	require.NoError(t, err)

	loaded := make(chan error, 1)
	go func() {
		_, err := s.LoadMore(1)
		loaded <- err
	}()
	// Give LoadMore time to block on the source.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, s.Close())
	select {
	case err := <-loaded:
		if err != nil {
			assert.True(t, errors.Is(err, os.ErrClosed) || errors.Is(err, ErrClosed))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("LoadMore still blocked after Close")
	}
}
