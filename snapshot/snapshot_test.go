package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCommandRecordString(t *testing.T) {
	rec := NewCommandRecord([]string{"pdbrow", "a > 3"}, time.Now())
	assert.Equal(t, "pdbrow", rec.Name)
	assert.Equal(t, []string{"a > 3"}, rec.Args)
	assert.Equal(t, "pdbrow 'a > 3'", rec.String())
	assert.Equal(t, []string{"pdbrow", "a > 3"}, rec.Argv())

	assert.Equal(t, "sort -k1", NewCommandRecord([]string{"sort", "-k1"}, time.Now()).String())
}

func TestSnapshotIsOriginal(t *testing.T) {
	assert.True(t, Snapshot{ID: "a"}.IsOriginal())
	assert.False(t, Snapshot{ID: "b", ProducedBy: &CommandRecord{Name: "cat"}}.IsOriginal())
}
