package sandbox

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher records files created under the project tree while a command runs,
// so programs executed by the sandbox still land in the file index. It
// implements Tracker.
type Watcher struct {
	mu      sync.Mutex
	root    string
	watcher *fsnotify.Watcher
	created map[string]struct{}
	done    chan struct{}
	// Ignored filters paths; nil keeps everything.
	Ignored func(rel string) bool
}

// NewWatcher builds an idle watcher; Start arms it for one command.
func NewWatcher() *Watcher { return &Watcher{} }

// Start begins watching dir and its subdirectories.
func (w *Watcher) Start(dir string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.root = dir
	w.watcher = fw
	w.created = make(map[string]struct{})
	w.done = make(chan struct{})
	w.mu.Unlock()

	// Recursive add: fsnotify watches single directories only.
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return nil
		}
		_ = fw.Add(path)
		return nil
	})

	go w.loop(fw)
	return nil
}

func (w *Watcher) loop(fw *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			info, err := os.Stat(ev.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				// New directories get watched too so nested creates are seen.
				if ev.Op&fsnotify.Create != 0 {
					_ = fw.Add(ev.Name)
				}
				continue
			}
			w.recordFile(ev.Name)
		case _, ok := <-fw.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) recordFile(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if w.Ignored != nil && w.Ignored(rel) {
		return
	}
	w.created[rel] = struct{}{}
}

// Stop ends the watch and returns the created file paths, sorted.
func (w *Watcher) Stop() []string {
	w.mu.Lock()
	fw := w.watcher
	done := w.done
	created := w.created
	w.watcher = nil
	w.created = nil
	w.done = nil
	w.mu.Unlock()

	if done != nil {
		close(done)
	}
	if fw != nil {
		_ = fw.Close()
	}

	out := make([]string, 0, len(created))
	for rel := range created {
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}
