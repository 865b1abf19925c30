// Package signals lets external processes pause and resume spending in a
// running orchestrator through files in the project's .mcc/signals
// directory. A daemon watches the directory; the CLI writes the files.
package signals

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zaggy/mcc/internal/budget"
)

const (
	pauseFile  = "pause"
	resumeFile = "resume"
)

// Watcher monitors the signals directory and drives the pause controller.
type Watcher struct {
	dir   string
	pause *budget.PauseController

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a watcher over <projectRoot>/.mcc/signals. If the
// filesystem watcher cannot start, the returned Watcher still works
// through CheckNow polling.
func NewWatcher(projectRoot string, pause *budget.PauseController) (*Watcher, error) {
	dir := filepath.Join(projectRoot, ".mcc", "signals")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	w := &Watcher{
		dir:   dir,
		pause: pause,
		done:  make(chan struct{}),
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		// Continue without watcher - callers fall back to CheckNow
		return w, nil
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return w, nil
	}
	w.watcher = fsw

	go w.watch()
	return w, nil
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			switch filepath.Base(event.Name) {
			case pauseFile:
				w.applyPause()
			case resumeFile:
				w.applyResume()
			}
		case <-w.watcher.Errors:
			// Keep watching
		}
	}
}

// CheckNow inspects the signal files directly, for callers without a
// running filesystem watcher.
func (w *Watcher) CheckNow() {
	if _, err := os.Stat(filepath.Join(w.dir, pauseFile)); err == nil {
		w.applyPause()
	}
	if _, err := os.Stat(filepath.Join(w.dir, resumeFile)); err == nil {
		w.applyResume()
	}
}

func (w *Watcher) applyPause() {
	w.mu.Lock()
	defer w.mu.Unlock()

	reason := "pause signal file"
	if content, err := os.ReadFile(filepath.Join(w.dir, pauseFile)); err == nil {
		if s := strings.TrimSpace(string(content)); s != "" {
			reason = s
		}
	}
	if err := w.pause.Pause("signal", reason); err != nil {
		log.Printf("[signals] pause failed: %v", err)
	}
	os.Remove(filepath.Join(w.dir, resumeFile))
}

func (w *Watcher) applyResume() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.pause.Resume("signal"); err != nil {
		log.Printf("[signals] resume failed: %v", err)
	}
	os.Remove(filepath.Join(w.dir, pauseFile))
	os.Remove(filepath.Join(w.dir, resumeFile))
}

// SendPause writes a pause signal with the given reason for a watching
// process to pick up.
func SendPause(projectRoot, reason string) error {
	dir := filepath.Join(projectRoot, ".mcc", "signals")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if reason == "" {
		reason = time.Now().Format(time.RFC3339)
	}
	return os.WriteFile(filepath.Join(dir, pauseFile), []byte(reason), 0644)
}

// SendResume writes a resume signal.
func SendResume(projectRoot string) error {
	dir := filepath.Join(projectRoot, ".mcc", "signals")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, resumeFile), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Clear removes any signal files.
func Clear(projectRoot string) {
	dir := filepath.Join(projectRoot, ".mcc", "signals")
	os.Remove(filepath.Join(dir, pauseFile))
	os.Remove(filepath.Join(dir, resumeFile))
}

// Close stops the watcher.
func (w *Watcher) Close() {
	close(w.done)
	if w.watcher != nil {
		w.watcher.Close()
	}
}
