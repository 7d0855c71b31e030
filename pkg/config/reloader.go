// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change is emitted after every reload attempt.
type Change struct {
	// Settings is the merged configuration after the reload. Nil when Err is set.
	Settings map[string]interface{}
	Err      error
}

// HotReloader re-merges the configuration files when one of them changes.
// Keys removed from a file keep their previous value until restart.
type HotReloader struct {
	manager  *Manager
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	events  chan Change
	stop    chan struct{}
	done    chan struct{}
}

// NewHotReloader creates a reloader for manager. Bursts of file events
// within debounce collapse into one reload.
func NewHotReloader(manager *Manager, debounce time.Duration) *HotReloader {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &HotReloader{
		manager:  manager,
		debounce: debounce,
		events:   make(chan Change, 8),
	}
}

// Events returns the channel of reload results. It is closed by Stop.
func (r *HotReloader) Events() <-chan Change {
	return r.events
}

// Start watches the configuration directory.
func (r *HotReloader) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher != nil {
		return errors.New("hot reloader already started")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir, err := filepath.Abs(r.manager.Dir())
	if err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	r.watcher = w
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(w, r.watchedFiles(), r.stop, r.done)
	return nil
}

// Stop ends watching and closes Events.
func (r *HotReloader) Stop() error {
	r.mu.Lock()
	w, stop, done := r.watcher, r.stop, r.done
	r.watcher = nil
	r.mu.Unlock()
	if w == nil {
		return nil
	}
	close(stop)
	<-done
	close(r.events)
	return w.Close()
}

func (r *HotReloader) watchedFiles() map[string]struct{} {
	files := make(map[string]struct{}, 3)
	for _, path := range r.manager.Files() {
		if abs, err := filepath.Abs(path); err == nil {
			files[abs] = struct{}{}
		}
	}
	return files
}

func (r *HotReloader) loop(w *fsnotify.Watcher, files map[string]struct{}, stop, done chan struct{}) {
	defer close(done)
	var fire <-chan time.Time
	for {
		select {
		case <-stop:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if _, watched := files[filepath.Clean(event.Name)]; !watched {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				fire = time.After(r.debounce)
			}
		case <-fire:
			fire = nil
			change := Change{Err: r.manager.Load()}
			if change.Err == nil {
				change.Settings = r.manager.AllSettings()
			}
			select {
			case r.events <- change:
			case <-stop:
				return
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			select {
			case r.events <- Change{Err: err}:
			case <-stop:
				return
			}
		}
	}
}
