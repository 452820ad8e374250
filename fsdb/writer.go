package fsdb

import (
	"bufio"
	"io"
)

// Writer serializes a stream. The header is written by NewWriter; rows and
// comments follow in call order.
type Writer struct {
	w      *bufio.Writer
	header *Header
	err    error
}

func NewWriter(w io.Writer, h *Header) (*Writer, error) {
	fw := &Writer{w: bufio.NewWriter(w), header: h}
	fw.writeLine(h.String())
	return fw, fw.err
}

func (w *Writer) writeLine(s string) {
	if w.err != nil {
		return
	}
	if _, err := w.w.WriteString(s); err != nil {
		w.err = err
		return
	}
	w.err = w.w.WriteByte('\n')
}

func (w *Writer) Write(row Row) error {
	w.writeLine(w.header.Separator.Join(row))
	return w.err
}

// Comment writes a metadata line. The line should already start with "#".
func (w *Writer) Comment(line string) error {
	w.writeLine(line)
	return w.err
}

func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	return w.w.Flush()
}

// WriteStream writes a complete stream: header, rows, then metadata.
//
// The header is written as read. Everything after it is written in
// canonical form, so reading a stream and writing it back normalizes it:
//   - comments in the middle of the body move after the last row, which is
//     where the FSDB tools put their trailers;
//   - fields are joined with the separator's canonical text: one space for
//     "D" and "s", two spaces for "S", so runs of whitespace collapse;
//   - short rows come back padded with empty fields;
//   - blank lines skipped by the Reader are gone;
//   - every line ends in a single "\n".
//
// A stream already in that form is reproduced byte for byte.
func WriteStream(w io.Writer, h *Header, metadata []string, rows []Row) error {
	fw, err := NewWriter(w, h)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := fw.Write(row); err != nil {
			return err
		}
	}
	for _, line := range metadata {
		if err := fw.Comment(line); err != nil {
			return err
		}
	}
	return fw.Flush()
}
