// Package logging hands out the per-component loggers. All of them share the
// level and output configured at startup and use the same JSON header as the
// echo logger.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/labstack/gommon/log"
)

const header = `{"time":"${time_rfc3339}","level":"${level}","prefix":"${prefix}","file":"${short_file}","line":"${line}"}`

var (
	mu     sync.RWMutex
	level  log.Lvl   = log.INFO
	output io.Writer = os.Stdout
)

// Configure sets the level (debug, info, warn, error, off) and output used by
// loggers created afterwards.
func Configure(lvl string, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	level = ParseLevel(lvl)
	if w != nil {
		output = w
	}
}

// ParseLevel maps a level name to a gommon level. Unknown names give INFO.
func ParseLevel(s string) log.Lvl {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	}
	return log.INFO
}

// New returns a logger tagged with prefix.
func New(prefix string) *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := log.New(prefix)
	l.SetHeader(header)
	l.SetLevel(level)
	l.SetOutput(output)
	return l
}

// Or returns l, or a fresh logger for prefix when l is nil.
func Or(l *log.Logger, prefix string) *log.Logger {
	if l != nil {
		return l
	}
	return New(prefix)
}
