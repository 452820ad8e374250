package snapshot

import (
	"time"

	"github.com/kballard/go-shellquote"
)

// ID names a Snapshot within its store.
type ID string

// CommandRecord describes the transform that produced a Snapshot.
type CommandRecord struct {
	Name      string
	Args      []string
	Timestamp time.Time
	Duration  time.Duration
}

func NewCommandRecord(argv []string, ts time.Time) *CommandRecord {
	rec := &CommandRecord{Timestamp: ts}
	if len(argv) > 0 {
		rec.Name = argv[0]
		rec.Args = append([]string(nil), argv[1:]...)
	}
	return rec
}

func (c *CommandRecord) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

// String renders the command the way a user would type it in a shell.
func (c *CommandRecord) String() string {
	return shellquote.Join(c.Argv()...)
}

// Snapshot is one committed version. Columns is nil when the stream's
// header could not be parsed.
type Snapshot struct {
	ID         ID
	Columns    []string
	ProducedBy *CommandRecord
	Size       int64
	Created    time.Time
}

func (s Snapshot) IsOriginal() bool {
	return s.ProducedBy == nil
}
