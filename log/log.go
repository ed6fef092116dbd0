// Package log is a small levelled logger whose lines carry the correlation
// id found in the context.
package log

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

type LogLevel int32

const (
	DEBUG LogLevel = iota + 1
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	}
	return fmt.Sprintf("LEVEL(%d)", int32(l))
}

// ParseLevel maps a configuration string onto a level. Unknown values fall
// back to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	}
	return INFO
}

var (
	level  = int32(INFO)
	logger = stdlog.New(os.Stderr, "", stdlog.LstdFlags)
)

func SetLevel(lvl LogLevel) {
	atomic.StoreInt32(&level, int32(lvl))
}

func enabled(lvl LogLevel) bool {
	return LogLevel(atomic.LoadInt32(&level)) <= lvl
}

// SetOutput redirects all log lines, mostly useful in tests.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// F holds the structured fields of a log line.
type F map[string]interface{}

func (f F) String() string {
	if len(f) == 0 {
		return ""
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, f[k])
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func logln(ctx context.Context, lvl LogLevel, loc bool, msg string, fields F) {
	line := fmt.Sprintf("%s: %s %s", lvl, msg, fields)
	if loc {
		if pc, file, no, ok := runtime.Caller(2); ok {
			line = fmt.Sprintf("%s [%s %s:%d]", line, runtime.FuncForPC(pc).Name(), file, no)
		}
	}
	if id := GetID(ctx); id != uuid.Nil {
		line = fmt.Sprintf("[%s] %s", id, line)
	}
	logger.Print(line)
}

func Debug(ctx context.Context, msg string, fields F) {
	if enabled(DEBUG) {
		logln(ctx, DEBUG, false, msg, fields)
	}
}

func Info(ctx context.Context, msg string, fields F) {
	if enabled(INFO) {
		logln(ctx, INFO, false, msg, fields)
	}
}

func Warn(ctx context.Context, msg string, fields F) {
	if enabled(WARN) {
		logln(ctx, WARN, true, msg, fields)
	}
}

// Error logs msg and returns it as an error, so it can be used inline:
//
//	return log.Error(ctx, err, log.F{"stream": id})
func Error(ctx context.Context, msg interface{}, fields F) error {
	err := interfaceToError(msg)
	if enabled(ERROR) {
		logln(ctx, ERROR, true, err.Error(), fields)
	}
	return err
}

func interfaceToError(msg interface{}) error {
	switch v := msg.(type) {
	case error:
		return v
	case string:
		return errors.New(v)
	default:
		return errors.New(fmt.Sprint(v))
	}
}
