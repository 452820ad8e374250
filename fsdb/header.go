// Package fsdb reads and writes FSDB streams: a "#fsdb" header line naming
// the columns, rows of separator-delimited fields, and "#" comment lines
// that carry free-form metadata such as the commands that produced the data.
//
// Values are untyped strings. Column type annotations ("a:l") are kept in
// the header but are not interpreted.
package fsdb

import (
	"regexp"
	"strings"

	fserrors "github.com/fsdbtools/fsdbview/common/errors"
)

const (
	headerPrefix  = "#fsdb"
	commentPrefix = "#"
)

// Separator describes how the fields of a row are split and joined.
type Separator struct {
	// Code is the value of the header's -F option ("t", "s", "S", "D" or "C<char>").
	Code  string
	split func(string) []string
	join  string
}

var doubleSpace = regexp.MustCompile(`\s\s+`)

var (
	TabSeparator         = Separator{Code: "t", split: splitOn("\t"), join: "\t"}
	SpaceSeparator       = Separator{Code: "s", split: splitOn(" "), join: " "}
	DoubleSpaceSeparator = Separator{Code: "S", split: func(s string) []string { return doubleSpace.Split(s, -1) }, join: "  "}
	WhitespaceSeparator  = Separator{Code: "D", split: strings.Fields, join: " "}
)

func splitOn(sep string) func(string) []string {
	return func(s string) []string { return strings.Split(s, sep) }
}

// CharSeparator returns the separator for "-F C<c>".
func CharSeparator(c string) Separator {
	return Separator{Code: "C" + c, split: splitOn(c), join: c}
}

// ParseSeparator maps an -F code to a Separator.
func ParseSeparator(code string) (Separator, bool) {
	switch {
	case code == "t":
		return TabSeparator, true
	case code == "s":
		return SpaceSeparator, true
	case code == "S":
		return DoubleSpaceSeparator, true
	case code == "D":
		return WhitespaceSeparator, true
	case len(code) > 1 && code[0] == 'C':
		return CharSeparator(code[1:]), true
	}
	return Separator{}, false
}

func (s Separator) Split(line string) []string {
	if s.split == nil {
		return WhitespaceSeparator.split(line)
	}
	return s.split(line)
}

func (s Separator) Join(fields []string) string {
	if s.split == nil {
		return strings.Join(fields, WhitespaceSeparator.join)
	}
	return strings.Join(fields, s.join)
}

// Header is the parsed first line of a stream.
type Header struct {
	// Raw is the header line as read, without its newline. Writers emit it
	// unchanged so a copied stream keeps its exact header.
	Raw       string
	Separator Separator
	Columns   []string
	// Types holds the ":type" annotation of each column, "" if none.
	Types []string
}

// NewHeader builds a header for the given separator and column names.
func NewHeader(sep Separator, columns ...string) (*Header, error) {
	raw := headerPrefix + " -F " + sep.Code + " " + strings.Join(columns, " ")
	return ParseHeaderLine(raw, "")
}

// ParseHeaderLine parses a single "#fsdb ..." line.
func ParseHeaderLine(line, source string) (*Header, error) {
	if line != headerPrefix && !strings.HasPrefix(line, headerPrefix+" ") && !strings.HasPrefix(line, headerPrefix+"\t") {
		return nil, fserrors.NewFormatError(source, 1, "missing %q header", headerPrefix)
	}

	h := &Header{Raw: line, Separator: WhitespaceSeparator}
	tokens := strings.Fields(line)[1:]
	i := 0
	for ; i < len(tokens); i++ {
		tok := tokens[i]
		if len(tok) < 2 || tok[0] != '-' {
			break
		}
		opt, val := tok[1:2], tok[2:]
		if val == "" {
			if i+1 >= len(tokens) {
				return nil, fserrors.NewFormatError(source, 1, "option %s has no value", tok)
			}
			i++
			val = tokens[i]
		}
		if opt == "F" {
			sep, ok := ParseSeparator(val)
			if !ok {
				return nil, fserrors.NewFormatError(source, 1, "unknown field separator %q", val)
			}
			h.Separator = sep
		}
	}

	seen := make(map[string]bool)
	for _, tok := range tokens[i:] {
		name, typ := tok, ""
		if idx := strings.IndexByte(tok, ':'); idx > 0 {
			name, typ = tok[:idx], tok[idx+1:]
		}
		if seen[name] {
			return nil, fserrors.NewFormatError(source, 1, "duplicate column %q", name)
		}
		seen[name] = true
		h.Columns = append(h.Columns, name)
		h.Types = append(h.Types, typ)
	}
	if len(h.Columns) == 0 {
		return nil, fserrors.NewFormatError(source, 1, "header declares no columns")
	}
	return h, nil
}

// Index returns the position of the named column, or -1.
func (h *Header) Index(name string) int {
	for i, c := range h.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

func (h *Header) String() string {
	return h.Raw
}

// Row is one record, fields in header column order.
type Row []string

// Map keys the row by column name.
func (r Row) Map(columns []string) map[string]string {
	m := make(map[string]string, len(columns))
	for i, c := range columns {
		if i < len(r) {
			m[c] = r[i]
		} else {
			m[c] = ""
		}
	}
	return m
}

// IsComment reports whether a body line is a metadata line.
func IsComment(line string) bool {
	return strings.HasPrefix(line, commentPrefix)
}
