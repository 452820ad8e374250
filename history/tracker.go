// Package history derives the command lineage shown to a user: the
// transforms applied in this session, or, before any have been applied,
// whatever provenance the original input recorded about itself.
package history

import (
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/fsdbtools/fsdbview/fsdb"
	"github.com/fsdbtools/fsdbview/snapshot"
)

// Unavailable is the single entry returned when the original's provenance
// cannot be read.
const Unavailable = "<history unavailable>"

// Source opens the original input from its first byte.
type Source func() (io.ReadCloser, error)

type Tracker struct {
	// Matcher recognizes provenance comments; nil means fsdb.DefaultHistoryMatcher.
	Matcher fsdb.HistoryMatcher
}

func NewTracker(m fsdb.HistoryMatcher) *Tracker {
	return &Tracker{Matcher: m}
}

// Describe returns the display form of records, skipping nil entries. If
// no record is left it falls back to the history recorded in the original's
// metadata. It never fails: unreadable metadata yields []string{Unavailable}.
func (t *Tracker) Describe(records []*snapshot.CommandRecord, original Source) []string {
	var out []string
	for _, rec := range records {
		if rec != nil {
			out = append(out, rec.String())
		}
	}
	if len(out) > 0 {
		return out
	}
	if original == nil {
		return []string{}
	}

	entries, err := t.scan(original)
	if err != nil {
		log.Infof("Falling back to unavailable history: %v", err)
		return []string{Unavailable}
	}
	if entries == nil {
		return []string{}
	}
	return entries
}

func (t *Tracker) scan(original Source) ([]string, error) {
	rc, err := original()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return fsdb.CommandHistory(rc, "original", t.Matcher)
}
