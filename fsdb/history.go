package fsdb

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
)

// DefaultHistoryPattern matches the trailer lines FSDB tools append, e.g.
// "#  | dbcol a b".
const DefaultHistoryPattern = `^#\s+\|\s*(.*\S)\s*$`

// ErrHistoryUnavailable is returned when a stream's metadata could not be
// read at all, as opposed to a stream that simply records no commands.
var ErrHistoryUnavailable = errors.New("command history unavailable")

// HistoryMatcher recognizes provenance entries among comment lines.
type HistoryMatcher interface {
	// Match returns the command recorded by line, if it is a history entry.
	Match(line string) (string, bool)
}

// MatcherFunc adapts a function to HistoryMatcher.
type MatcherFunc func(line string) (string, bool)

func (f MatcherFunc) Match(line string) (string, bool) { return f(line) }

// RegexpMatcher treats the first capture group of a pattern as the command.
type RegexpMatcher struct {
	re *regexp.Regexp
}

func NewRegexpMatcher(pattern string) (*RegexpMatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("history pattern %q has no capture group", pattern)
	}
	return &RegexpMatcher{re: re}, nil
}

func (m *RegexpMatcher) Match(line string) (string, bool) {
	sub := m.re.FindStringSubmatch(line)
	if sub == nil {
		return "", false
	}
	return sub[1], true
}

var DefaultHistoryMatcher HistoryMatcher = func() HistoryMatcher {
	m, err := NewRegexpMatcher(DefaultHistoryPattern)
	if err != nil {
		panic(err)
	}
	return m
}()

// ExtractCommandHistory returns the history entries of metadata in order.
// A nil matcher means DefaultHistoryMatcher.
func ExtractCommandHistory(metadata []string, m HistoryMatcher) []string {
	if m == nil {
		m = DefaultHistoryMatcher
	}
	var entries []string
	for _, line := range metadata {
		if cmd, ok := m.Match(line); ok {
			entries = append(entries, cmd)
		}
	}
	return entries
}

// ScanMetadata reads a whole stream and returns its comment lines without
// splitting any rows. If the header cannot be parsed the error wraps both
// ErrHistoryUnavailable and the underlying FormatError.
func ScanMetadata(r io.Reader, source string) ([]string, error) {
	fr, err := NewReader(bufio.NewReader(r), source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHistoryUnavailable, err)
	}
	for {
		line, err := fr.nextLine()
		if err == io.EOF {
			return fr.metadata, nil
		}
		if err != nil {
			return fr.metadata, fmt.Errorf("%w: %w", ErrHistoryUnavailable, err)
		}
		if IsComment(line) {
			fr.metadata = append(fr.metadata, line)
		}
	}
}

// CommandHistory scans r and extracts its history entries.
func CommandHistory(r io.Reader, source string, m HistoryMatcher) ([]string, error) {
	metadata, err := ScanMetadata(r, source)
	if err != nil {
		return nil, err
	}
	return ExtractCommandHistory(metadata, m), nil
}
