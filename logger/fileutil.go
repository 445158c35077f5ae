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

// Package logger implements the framework's own asynchronous,
// double-buffered logging pipeline (AsyncLog/LogFile/Logger), the
// primitive user services log through directly — kept separate from
// the zap-based operational logger the reactor core (TcpServer
// included) logs through.
package logger

import (
	"bufio"
	"os"
)

const fileBufferSize = 64 * 1024

// appendFile is an append-only file wrapper tracking the number of
// bytes written so far, the signal LogFile's roll-size trigger
// watches. It buffers writes the way the source's setbuffer(..., 64
// KiB) call does, via bufio.Writer.
type appendFile struct {
	f            *os.File
	w            *bufio.Writer
	writtenBytes int64
}

func newAppendFile(path string) (*appendFile, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &appendFile{f: f, w: bufio.NewWriterSize(f, fileBufferSize)}, nil
}

func (a *appendFile) append(data []byte) error {
	n, err := a.w.Write(data)
	a.writtenBytes += int64(n)
	return err
}

func (a *appendFile) flush() error {
	return a.w.Flush()
}

func (a *appendFile) close() error {
	if err := a.flush(); err != nil {
		a.f.Close()
		return err
	}
	return a.f.Close()
}
