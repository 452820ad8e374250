// Package loader reads a snapshot's rows in bounded batches so a viewer can
// paint the first screen without reading the whole file.
package loader

import (
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/fsdbtools/fsdbview/fsdb"
	"github.com/fsdbtools/fsdbview/snapshot"
	"github.com/fsdbtools/fsdbview/snapshot/store"
)

// DefaultBatch is the number of rows fetched per LoadMore when the caller
// has no better quota.
const DefaultBatch = 128

// Cursor is the read position within one snapshot. A new snapshot always
// gets a new Cursor, so Loaded only ever grows.
type Cursor struct {
	snap   snapshot.Snapshot
	rc     io.Closer
	reader *fsdb.Reader
	rows   []fsdb.Row
	done   bool
	err    error
}

// Bind opens snap and parses its header. If that fails the error is
// returned together with an exhausted Cursor that has no columns, so the
// caller can keep showing an empty table.
func Bind(st store.StoreRead, snap snapshot.Snapshot) (*Cursor, error) {
	c := &Cursor{snap: snap}
	res, err := st.OpenForRead(snap.ID)
	if err != nil {
		c.done, c.err = true, err
		return c, err
	}
	r, err := fsdb.NewReader(res, string(snap.ID))
	if err != nil {
		res.Close()
		c.done, c.err = true, err
		log.WithFields(
			log.Fields{
				"snapshot": snap.ID,
				"error":    err,
			}).Warn("Could not parse snapshot header")
		return c, err
	}
	c.rc, c.reader = res, r
	return c, nil
}

// LoadMore reads up to max further rows, or every remaining row when max
// <= 0, and returns only those. Once the stream is exhausted it returns an
// empty slice and no error. A malformed row ends loading: the rows before
// it are returned with the error and nothing more is read.
func (c *Cursor) LoadMore(max int) ([]fsdb.Row, error) {
	if c.done {
		return nil, nil
	}
	var batch []fsdb.Row
	for max <= 0 || len(batch) < max {
		row, err := c.reader.Read()
		if err == io.EOF {
			c.finish(nil)
			break
		}
		if err != nil {
			c.finish(err)
			c.rows = append(c.rows, batch...)
			return batch, err
		}
		batch = append(batch, row)
	}
	c.rows = append(c.rows, batch...)
	log.Debugf("Loaded %d rows from %s (%d total)", len(batch), c.snap.ID, len(c.rows))
	return batch, nil
}

func (c *Cursor) finish(err error) {
	c.done, c.err = true, err
	if c.rc != nil {
		c.rc.Close()
		c.rc = nil
	}
}

// Columns is empty when the header could not be parsed.
func (c *Cursor) Columns() []string {
	if c.reader == nil {
		return nil
	}
	return c.reader.Header.Columns
}

func (c *Cursor) Header() *fsdb.Header {
	if c.reader == nil {
		return nil
	}
	return c.reader.Header
}

// Metadata returns the comment lines seen so far.
func (c *Cursor) Metadata() []string {
	if c.reader == nil {
		return nil
	}
	return c.reader.Metadata()
}

func (c *Cursor) Loaded() int { return len(c.rows) }

// Rows returns every row loaded so far. The slice must not be modified.
func (c *Cursor) Rows() []fsdb.Row { return c.rows }

// Done reports whether no more rows will be returned.
func (c *Cursor) Done() bool { return c.done }

// Err is the error that stopped loading, if any.
func (c *Cursor) Err() error { return c.err }

// Close releases the underlying file. Loaded rows stay readable.
func (c *Cursor) Close() error {
	if c.rc == nil {
		c.done = true
		return nil
	}
	err := c.rc.Close()
	c.rc = nil
	c.done = true
	return err
}
