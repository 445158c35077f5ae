// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/govoltron/reactor/base"
	"github.com/govoltron/reactor/buffer"
)

// Level mirrors the source's six-level scheme.
type Level int

const (
	TRACE Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	FATAL
)

// levelTags are pre-padded to 6 characters, exactly as spec.md's
// record format requires.
var levelTags = [...]string{"TRACE ", "DEBUG ", "INFO  ", "WARN  ", "ERROR ", "FATAL "}

// lineBufferPool recycles the per-record SmallBufferSize scratch
// buffer: the Go stand-in for the source's per-thread-static line
// buffer, since Go has no actual thread-local storage.
var lineBufferPool = sync.Pool{
	New: func() any { return buffer.NewFixedBuffer(buffer.SmallBufferSize) },
}

// Logger formats records as "YYYY/MM/DD HH:MM:SS.uuuuuu LEVEL
// message - file:line" and hands the finished line to an AsyncLog.
// It is the framework-level primitive; user services log through
// this, not through the ambient zap logger reactord uses for its own
// operational messages.
type Logger struct {
	sink  *AsyncLog
	level Level
}

// NewLogger wraps sink with level filtering; records below level are
// suppressed before they ever reach the async pipeline.
func NewLogger(sink *AsyncLog, level Level) *Logger {
	return &Logger{sink: sink, level: level}
}

// SetLevel changes the minimum level that reaches the sink.
func (l *Logger) SetLevel(level Level) { l.level = level }

// ParseLevel maps a config-file level name to a Level, defaulting to
// INFO for anything unrecognized.
func ParseLevel(s string) Level {
	switch s {
	case "trace":
		return TRACE
	case "debug":
		return DEBUG
	case "warn":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

func (l *Logger) log(level Level, file string, line int, msg string) {
	if level < l.level {
		return
	}
	lb := lineBufferPool.Get().(*buffer.FixedBuffer)
	lb.Reset()
	defer lineBufferPool.Put(lb)

	lb.Append([]byte(base.Now().Format(true)))
	lb.Append([]byte(" "))
	lb.Append([]byte(levelTags[level]))
	lb.Append([]byte(msg))
	lb.Append([]byte(" - "))
	lb.Append([]byte(filepath.Base(file)))
	lb.Append([]byte(":"))
	lb.Append([]byte(fmt.Sprintf("%d", line)))
	lb.Append([]byte("\n"))

	l.sink.Append(lb.Bytes())

	if level == FATAL {
		l.sink.file.Flush()
		panic(msg)
	}
}

// Tracef, Debugf, Infof, Warnf, Errorf format and emit a record at
// their respective level. Fatalf additionally flushes and aborts the
// process, matching spec.md §6's record-format contract.
func (l *Logger) Tracef(file string, line int, format string, args ...any) {
	l.log(TRACE, file, line, fmt.Sprintf(format, args...))
}
func (l *Logger) Debugf(file string, line int, format string, args ...any) {
	l.log(DEBUG, file, line, fmt.Sprintf(format, args...))
}
func (l *Logger) Infof(file string, line int, format string, args ...any) {
	l.log(INFO, file, line, fmt.Sprintf(format, args...))
}
func (l *Logger) Warnf(file string, line int, format string, args ...any) {
	l.log(WARN, file, line, fmt.Sprintf(format, args...))
}
func (l *Logger) Errorf(file string, line int, format string, args ...any) {
	l.log(ERROR, file, line, fmt.Sprintf(format, args...))
}
func (l *Logger) Fatalf(file string, line int, format string, args ...any) {
	l.log(FATAL, file, line, fmt.Sprintf(format, args...))
}
