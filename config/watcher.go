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

package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Config from disk whenever its backing file
// changes and hands the new value to OnChange. It watches the file's
// parent directory rather than the file itself, since editors and
// config-management tools commonly replace a file via rename rather
// than an in-place write, which fsnotify would otherwise miss if it
// were watching the (now-stale) inode directly.
type Watcher struct {
	path string
	w    *fsnotify.Watcher

	// OnChange is called with the freshly reloaded Config after each
	// write/create event touching path. Reload errors (a transiently
	// truncated file mid-write, for instance) are delivered via
	// OnError instead of crashing the watch loop.
	OnChange func(Config)
	OnError  func(error)

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher starts watching path's parent directory.
func NewWatcher(path string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	return &Watcher{
		path:   path,
		w:      w,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start launches the watch loop in the background.
func (wt *Watcher) Start() {
	go wt.loop()
}

func (wt *Watcher) loop() {
	defer close(wt.doneCh)
	target := filepath.Clean(wt.path)

	for {
		select {
		case <-wt.stopCh:
			return
		case ev, ok := <-wt.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(wt.path)
			if err != nil {
				if wt.OnError != nil {
					wt.OnError(err)
				}
				continue
			}
			if wt.OnChange != nil {
				wt.OnChange(cfg)
			}
		case err, ok := <-wt.w.Errors:
			if !ok {
				return
			}
			if wt.OnError != nil {
				wt.OnError(err)
			}
		}
	}
}

// Close stops the watch loop and releases the underlying fsnotify
// watch.
func (wt *Watcher) Close() error {
	close(wt.stopCh)
	err := wt.w.Close()
	<-wt.doneCh
	return err
}
