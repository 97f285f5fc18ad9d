package app

import (
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// HotReloader watches the running binary and calls back once it has been
// rebuilt, so a development session can offer a restart. Enabled by
// ui.hot_reload.
type HotReloader struct {
	execPath string
	watcher  *fsnotify.Watcher
	log      zerolog.Logger

	mu          sync.Mutex
	onNewBinary func()
	fired       bool
	done        chan struct{}
}

// NewHotReloader watches the directory of path (the current executable when
// empty). Directories are watched rather than the file because a rebuild
// replaces the file.
func NewHotReloader(path string, log zerolog.Logger) (*HotReloader, error) {
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, err
		}
		path = exe
	}
	if real, err := filepath.EvalSymlinks(path); err == nil {
		path = real
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}

	return &HotReloader{
		execPath: path,
		watcher:  w,
		log:      log.With().Str("component", "hotreload").Logger(),
		done:     make(chan struct{}),
	}, nil
}

// OnNewBinary sets the callback. It runs on the watcher goroutine.
func (h *HotReloader) OnNewBinary(callback func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onNewBinary = callback
}

// Start begins watching in a background goroutine.
func (h *HotReloader) Start() {
	go h.watchLoop()
}

// Stop ends watching.
func (h *HotReloader) Stop() error {
	err := h.watcher.Close()
	<-h.done
	return err
}

// ExecPath returns the watched binary.
func (h *HotReloader) ExecPath() string {
	return h.execPath
}

// ResetBaseline re-arms the callback after the user declined a restart.
func (h *HotReloader) ResetBaseline() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fired = false
}

func (h *HotReloader) watchLoop() {
	defer close(h.done)
	for {
		select {
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != h.execPath || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			h.trigger()
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (h *HotReloader) trigger() {
	h.mu.Lock()
	if h.fired || h.onNewBinary == nil {
		h.mu.Unlock()
		return
	}
	h.fired = true
	cb := h.onNewBinary
	h.mu.Unlock()

	h.log.Info().Str("path", h.execPath).Msg("binary changed")
	cb()
}

// Restart replaces the current process with the rebuilt binary. It does not
// return on success.
func (h *HotReloader) Restart() error {
	return syscall.Exec(h.execPath, os.Args, os.Environ())
}
