package execer

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/fsdbtools/fsdbview/common/errors"
)

func TestClassify(t *testing.T) {
	argv := []string{"prog"}
	assert.NoError(t, Classify(argv, ProcessStatus{State: COMPLETE}, "noise"))

	err := Classify(argv, ProcessStatus{State: COMPLETE, ExitCode: 3}, "bad input\n")
	var ee *fserrors.ExecutionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 3, ee.ExitCode)
	assert.Equal(t, "bad input\n", ee.Stderr)
	assert.Nil(t, ee.Err)

	err = Classify(argv, ProcessStatus{State: FAILED, ExitCode: -1, Error: "Aborted"}, "")
	require.True(t, errors.As(err, &ee))
	assert.EqualError(t, ee.Err, "Aborted")
}

func TestTailBuffer(t *testing.T) {
	tb := NewTailBuffer(8)
	tb.Write([]byte("abc"))
	assert.Equal(t, "abc", tb.String())
	tb.Write([]byte("defgh"))
	assert.Equal(t, "abcdefgh", tb.String())
	tb.Write([]byte("ij"))
	assert.Equal(t, "...cdefghij", tb.String())
	tb.Write([]byte(strings.Repeat("z", 20)))
	assert.Equal(t, "..."+strings.Repeat("z", 8), tb.String())
}

func TestProcessStateString(t *testing.T) {
	assert.Equal(t, "COMPLETE", COMPLETE.String())
	assert.True(t, FAILED.IsDone())
	assert.False(t, RUNNING.IsDone())
}
