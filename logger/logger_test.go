package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogFileRollsOnSize(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "test")
	lf, err := NewLogFile(base, 64*1024, time.Hour, 1024, false)
	if err != nil {
		t.Fatalf("NewLogFile() error = %v", err)
	}
	defer lf.Close()

	chunk := bytes.Repeat([]byte("x"), 4096)
	for i := 0; i < 20; i++ {
		if err := lf.Append(chunk); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	// Rolls are limited to one per second (file names have one-second
	// resolution), so the roll owed for exceeding rollSize happens on
	// the first append in a later second.
	time.Sleep(1100 * time.Millisecond)
	if err := lf.Append(chunk); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	lf.Flush()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected at least 2 rolled files after exceeding rollSize, got %d", len(entries))
	}
}

func TestLogFileNameFormat(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 30, 45, 0, time.UTC)
	name := logFileName("/var/log/app", now, false)
	want := "/var/log/app.20260731-123045.log"
	if name != want {
		t.Fatalf("logFileName() = %q, want %q", name, want)
	}
}

func TestLogFileNameIncludesHostAndPID(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 30, 45, 0, time.UTC)
	name := logFileName("/var/log/app", now, true)
	if !bytes.Contains([]byte(name), []byte(".log")) {
		t.Fatalf("logFileName() = %q, want suffix .log", name)
	}
	if name == "/var/log/app.20260731-123045.log" {
		t.Fatalf("logFileName() did not append host/pid: %q", name)
	}
}

func TestAsyncLogAppendAndStop(t *testing.T) {
	dir := t.TempDir()
	lf, err := NewLogFile(filepath.Join(dir, "async"), 1<<20, time.Hour, 1024, false)
	if err != nil {
		t.Fatalf("NewLogFile() error = %v", err)
	}
	a := NewAsyncLog(lf)
	a.Start()

	for i := 0; i < 1000; i++ {
		a.Append([]byte("a log line\n"))
	}
	a.Stop()
	lf.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var total int64
	for _, e := range entries {
		info, _ := e.Info()
		total += info.Size()
	}
	if total == 0 {
		t.Fatalf("no bytes were written to disk")
	}
}

func TestLoggerSuppressesBelowLevel(t *testing.T) {
	dir := t.TempDir()
	lf, err := NewLogFile(filepath.Join(dir, "lvl"), 1<<20, time.Hour, 1024, false)
	if err != nil {
		t.Fatalf("NewLogFile() error = %v", err)
	}
	defer lf.Close()
	a := NewAsyncLog(lf)
	a.Start()
	defer a.Stop()

	l := NewLogger(a, WARN)
	l.Debugf("x.go", 1, "should be suppressed")
	l.Warnf("x.go", 2, "should appear")

	a.mu.Lock()
	appended := a.current.String()
	a.mu.Unlock()
	if len(appended) == 0 {
		t.Fatalf("expected the WARN record to have been appended")
	}
	if strings.Contains(appended, "should be suppressed") {
		t.Fatalf("DEBUG record reached the sink below the WARN level: %q", appended)
	}
}
