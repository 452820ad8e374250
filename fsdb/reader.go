package fsdb

import (
	"bufio"
	"io"
	"strings"

	fserrors "github.com/fsdbtools/fsdbview/common/errors"
)

// Reader pulls rows from a stream one at a time. Comment lines met along
// the way are collected into Metadata and never returned as rows.
type Reader struct {
	Header *Header

	br       *bufio.Reader
	source   string
	line     int
	metadata []string
	err      error
}

// ParseHeader reads the header line of r. It fails with a FormatError when
// the stream is empty, the header is truncated or malformed, or a column
// name repeats.
func ParseHeader(br *bufio.Reader, source string) (*Header, error) {
	line, err := br.ReadString('\n')
	switch {
	case err == io.EOF && line == "":
		return nil, fserrors.NewFormatError(source, 0, "empty stream")
	case err == io.EOF:
		return nil, fserrors.NewFormatError(source, 1, "truncated header %q", line)
	case err != nil:
		return nil, err
	}
	return ParseHeaderLine(trimNewline(line), source)
}

// NewReader parses the header of r and returns a Reader positioned at the
// first body line. source names the stream in error messages.
func NewReader(r io.Reader, source string) (*Reader, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	h, err := ParseHeader(br, source)
	if err != nil {
		return nil, err
	}
	return &Reader{Header: h, br: br, source: source, line: 1}, nil
}

// trimNewline drops a trailing "\n" or "\r\n".
func trimNewline(s string) string {
	return strings.TrimSuffix(strings.TrimSuffix(s, "\n"), "\r")
}

// nextLine returns the next line without its newline. A final line with no
// newline is still returned.
func (r *Reader) nextLine() (string, error) {
	s, err := r.br.ReadString('\n')
	if err == io.EOF && s == "" {
		return "", io.EOF
	}
	if err != nil && err != io.EOF {
		return "", err
	}
	r.line++
	return trimNewline(s), nil
}

// Read returns the next row, or io.EOF once the stream is exhausted. Lines
// may end in "\n" or "\r\n". A blank line is skipped when the header has
// more than one column; with a single column it is a row holding one empty
// value. Short rows are padded with empty fields; a row with more fields
// than columns is a FormatError. Errors are sticky.
func (r *Reader) Read() (Row, error) {
	if r.err != nil {
		return nil, r.err
	}
	for {
		line, err := r.nextLine()
		if err != nil {
			r.err = err
			return nil, err
		}
		if line == "" && len(r.Header.Columns) > 1 {
			continue
		}
		if IsComment(line) {
			r.metadata = append(r.metadata, line)
			continue
		}
		fields := r.Header.Separator.Split(line)
		n := len(r.Header.Columns)
		if len(fields) > n {
			r.err = fserrors.NewFormatError(r.source, r.line, "%d fields for %d columns", len(fields), n)
			return nil, r.err
		}
		for len(fields) < n {
			fields = append(fields, "")
		}
		return Row(fields), nil
	}
}

// ReadAll reads rows until end of stream.
func (r *Reader) ReadAll() ([]Row, error) {
	var rows []Row
	for {
		row, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}

// Metadata returns the comment lines read so far, in stream order.
func (r *Reader) Metadata() []string {
	return r.metadata
}
