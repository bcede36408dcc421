package manifest

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const defaultDebounce = 100 * time.Millisecond

// RoutingOptions of a Routing.
type RoutingOptions struct {
	Options

	// Path of the manifest file.
	Path string

	// Watch enables reloading the manifest when the file changes.
	Watch bool

	// Debounce is the quiet period after a change before the reload.
	// Default: 100ms.
	Debounce time.Duration

	// Reloaded is called after each reload attempt, optional.
	Reloaded func(*Routes, error)
}

// Routing holds the current generation of the compiled manifest.
type Routing struct {
	options RoutingOptions
	current atomic.Pointer[Routes]
	watcher *fsnotify.Watcher
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewRouting loads and compiles the manifest. The initial load failing
// is fatal.
func NewRouting(o RoutingOptions) (*Routing, error) {
	if o.Debounce <= 0 {
		o.Debounce = defaultDebounce
	}

	r := &Routing{options: o, quit: make(chan struct{}), done: make(chan struct{})}
	routes, err := r.load()
	if err != nil {
		return nil, err
	}

	r.current.Store(routes)
	if !o.Watch {
		close(r.done)
		return r, nil
	}

	r.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest watcher: %w", err)
	}

	// the directory is watched, editors and deployments replace files
	// by renaming
	if err := r.watcher.Add(filepath.Dir(o.Path)); err != nil {
		r.watcher.Close()
		return nil, fmt.Errorf("failed to watch manifest: %w", err)
	}

	go r.watch()
	return r, nil
}

// FromRoutes creates a static Routing from a compiled generation.
func FromRoutes(routes *Routes) *Routing {
	r := &Routing{quit: make(chan struct{}), done: make(chan struct{})}
	r.current.Store(routes)
	close(r.done)
	return r
}

func (r *Routing) load() (*Routes, error) {
	m, err := Load(r.options.Path)
	if err != nil {
		return nil, err
	}

	return Compile(m, r.options.Options)
}

// Get returns the current generation.
func (r *Routing) Get() *Routes {
	return r.current.Load()
}

// Reload loads and compiles the manifest again. On failure, the current
// generation is kept.
func (r *Routing) Reload() error {
	routes, err := r.load()
	if err == nil {
		r.current.Store(routes)
		log.Infof("manifest reloaded: %d routes", len(routes.Table.Definitions()))
	} else {
		log.Errorf("manifest rejected, keeping the previous one: %v", err)
	}

	if r.options.Reloaded != nil {
		r.options.Reloaded(routes, err)
	}

	return err
}

func (r *Routing) watch() {
	defer close(r.done)

	name := filepath.Clean(r.options.Path)
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-r.quit:
			if timer != nil {
				timer.Stop()
			}

			return
		case e, ok := <-r.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(e.Name) != name || e.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			log.Debugf("manifest change: %s", e)
			if timer == nil {
				timer = time.NewTimer(r.options.Debounce)
			} else {
				timer.Reset(r.options.Debounce)
			}

			fire = timer.C
		case <-fire:
			fire = nil
			_ = r.Reload()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}

			log.Errorf("manifest watcher: %v", err)
		}
	}
}

// Close stops watching.
func (r *Routing) Close() {
	r.once.Do(func() {
		close(r.quit)
		<-r.done
		if r.watcher != nil {
			r.watcher.Close()
		}
	})
}
