// Package hooks holds logrus hooks shared by the binaries.
package hooks

import (
	"runtime/debug"
	"strings"

	log "github.com/sirupsen/logrus"
)

// contextHook annotates each entry with the file:line of the caller.
type contextHook struct {
}

func NewContextHook() contextHook {
	return contextHook{}
}

func (hook contextHook) Levels() []log.Level {
	return log.AllLevels
}

func (hook contextHook) Fire(entry *log.Entry) error {
	stack := debug.Stack()
	lines := strings.Split(string(stack), "\n")
	foundLoggerBlock := false
	incr := 1
	for i := 0; i < len(lines); i = i + incr {
		if strings.Contains(lines[i], "context_hook.go:") {
			foundLoggerBlock = true
			incr = 2
			continue
		}
		if !foundLoggerBlock {
			continue
		}
		if strings.Contains(lines[i], "sirupsen/logrus") {
			continue
		}
		ctx := strings.Split(lines[i], "fsdbview/")
		entry.Data["file:line"] = strings.TrimSpace(stripOffset(ctx[len(ctx)-1]))
		break
	}
	return nil
}

// stripOffset drops the " +0x1f" program counter suffix of a stack line.
func stripOffset(line string) string {
	if idx := strings.LastIndex(line, " +0x"); idx > 0 {
		return line[:idx]
	}
	return line
}
