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
	"os"
	"sync"
	"time"
)

const secondsPerRollPeriod = 60 * 60 * 24

// LogFile is the backing file for AsyncLog: it rolls onto a new,
// timestamped path whenever accumulated bytes exceed rollSize or the
// UTC day boundary has been crossed since the last roll. The size
// check runs on every append; the day-boundary and periodic-flush
// checks are amortized to every checkEveryN appends. File names carry
// one-second resolution, so rolls happen at most once per second: a
// size roll due within the same second as the previous roll is
// skipped, and the next append in a later second performs it.
type LogFile struct {
	basename       string
	rollSize       int64
	flushInterval  time.Duration
	checkEveryN    int
	includeHost    bool

	mu             sync.Mutex
	file           *appendFile
	count          int
	startOfPeriod  int64
	lastRoll       int64
	lastFlush      int64
}

// NewLogFile creates a LogFile rooted at basename (a path prefix; the
// roll timestamp, and optionally hostname/pid, are appended to form
// each generation's actual filename) and performs the first roll.
func NewLogFile(basename string, rollSize int64, flushInterval time.Duration, checkEveryN int, includeHostAndPID bool) (*LogFile, error) {
	if checkEveryN <= 0 {
		checkEveryN = 1024
	}
	if flushInterval <= 0 {
		flushInterval = 3 * time.Second
	}
	lf := &LogFile{
		basename:      basename,
		rollSize:      rollSize,
		flushInterval: flushInterval,
		checkEveryN:   checkEveryN,
		includeHost:   includeHostAndPID,
	}
	if err := lf.rollFile(); err != nil {
		return nil, err
	}
	return lf, nil
}

// Append writes data to the current file, rolling first if needed.
func (lf *LogFile) Append(data []byte) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.appendLocked(data)
}

func (lf *LogFile) appendLocked(data []byte) error {
	if err := lf.file.append(data); err != nil {
		return err
	}
	if lf.file.writtenBytes > lf.rollSize {
		return lf.rollFile()
	}
	lf.count++
	if lf.count >= lf.checkEveryN {
		lf.count = 0
		now := time.Now().Unix()
		thisPeriod := now / secondsPerRollPeriod * secondsPerRollPeriod
		if thisPeriod != lf.startOfPeriod {
			return lf.rollFile()
		}
		if now-lf.lastFlush > int64(lf.flushInterval/time.Second) {
			lf.lastFlush = now
			return lf.file.flush()
		}
	}
	return nil
}

// Flush forces the current file's buffered writes to the OS.
func (lf *LogFile) Flush() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.file.flush()
}

// rollFile closes the current generation (if any) and opens the next,
// named from the current wall-clock time. Must be called with mu
// held.
func (lf *LogFile) rollFile() error {
	now := time.Now()
	nowUnix := now.Unix()
	start := nowUnix / secondsPerRollPeriod * secondsPerRollPeriod

	if nowUnix <= lf.lastRoll {
		return nil
	}
	name := logFileName(lf.basename, now, lf.includeHost)
	next, err := newAppendFile(name)
	if err != nil {
		return err
	}
	if lf.file != nil {
		lf.file.close()
	}
	lf.file = next
	lf.lastRoll = nowUnix
	lf.lastFlush = nowUnix
	lf.startOfPeriod = start
	return nil
}

// Close flushes and releases the current generation.
func (lf *LogFile) Close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.file.close()
}

// logFileName renders basename + ".YYYYmmdd-HHMMSS" [+ ".host.pid"] +
// ".log", matching the original's getLogFileName field order.
func logFileName(basename string, now time.Time, includeHostAndPID bool) string {
	name := basename + now.UTC().Format(".20060102-150405")
	if includeHostAndPID {
		host, err := os.Hostname()
		if err != nil {
			host = "unknownhost"
		}
		name += fmt.Sprintf(".%s.%d", host, os.Getpid())
	}
	return name + ".log"
}
