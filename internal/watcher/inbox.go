// Package watcher feeds files dropped into inbox directories to a handler,
// with fsnotify events debounced per path.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/ids"
)

const (
	defaultDebounce   = 400 * time.Millisecond
	defaultRetryDelay = 30 * time.Second
	defaultRetries    = 4
)

// Handler is called once a file has settled. A failed file is retried with
// backoff unless the error is wrapped with Permanent.
type Handler func(ctx context.Context, path string) error

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error as final for this version of the file.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// fingerprint identifies a version of a file; an unchanged file is not
// handed over twice.
type fingerprint struct {
	size    int64
	modTime time.Time
}

func (f fingerprint) same(o fingerprint) bool {
	return f.size == o.size && f.modTime.Equal(o.modTime)
}

// Inbox watches directories and hands new or modified files to a Handler.
type Inbox struct {
	dirs        []string
	handle      Handler
	accept      func(path string) bool
	recursive   bool
	initialScan bool
	debounce    time.Duration
	retryDelay  time.Duration
	maxRetries  int
	logger      *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	timers  map[string]*time.Timer
	handled map[string]fingerprint
	retries map[string]int
	running sync.WaitGroup
	loop    chan struct{}
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Inbox) { in.logger = l }
}

// WithDebounce sets how long a path must stay quiet before it is handled.
func WithDebounce(d time.Duration) Option {
	return func(in *Inbox) { in.debounce = d }
}

// WithRetry sets the first retry delay after a failed handler call and how
// many retries follow. The delay doubles on each attempt. Zero retries
// leaves a failed file until it changes.
func WithRetry(delay time.Duration, retries int) Option {
	return func(in *Inbox) { in.retryDelay, in.maxRetries = delay, retries }
}

// WithFilter restricts the files handed to the handler.
func WithFilter(accept func(path string) bool) Option {
	return func(in *Inbox) { in.accept = accept }
}

// WithRecursive controls whether subdirectories are watched.
func WithRecursive(recursive bool) Option {
	return func(in *Inbox) { in.recursive = recursive }
}

// WithInitialScan hands files already present at Start to the handler.
func WithInitialScan(scan bool) Option {
	return func(in *Inbox) { in.initialScan = scan }
}

// New creates an inbox over dirs. Missing directories are created on Start.
func New(dirs []string, handle Handler, opts ...Option) *Inbox {
	in := &Inbox{
		dirs:      dirs,
		handle:    handle,
		accept:    func(string) bool { return true },
		recursive: true,
		debounce:   defaultDebounce,
		retryDelay: defaultRetryDelay,
		maxRetries: defaultRetries,
		logger:     zap.NewNop(),
		timers:     make(map[string]*time.Timer),
		handled:    make(map[string]fingerprint),
		retries:    make(map[string]int),
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// Start begins watching. Handlers run with a context derived from ctx.
func (in *Inbox) Start(ctx context.Context) error {
	if in.handle == nil {
		return errors.New("watcher: handler is required")
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.fsw != nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range in.dirs {
		if err := addTree(fsw, dir, in.recursive); err != nil {
			_ = fsw.Close()
			return err
		}
	}
	in.fsw = fsw
	in.ctx, in.cancel = context.WithCancel(ctx)
	in.loop = make(chan struct{})
	in.logger.Info("watching inbox", zap.Strings("directories", in.dirs), zap.Bool("recursive", in.recursive))

	go in.run(fsw, in.loop)
	if in.initialScan {
		for _, dir := range in.dirs {
			in.scanLocked(dir)
		}
	}
	return nil
}

// Stop stops watching, drops pending events and waits for running handlers.
func (in *Inbox) Stop() {
	in.mu.Lock()
	if in.fsw == nil {
		in.mu.Unlock()
		return
	}
	for path, t := range in.timers {
		if t.Stop() {
			in.running.Done()
		}
		delete(in.timers, path)
	}
	in.cancel()
	_ = in.fsw.Close()
	loop := in.loop
	in.fsw = nil
	in.mu.Unlock()

	<-loop
	in.running.Wait()
}

func (in *Inbox) run(fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			in.onEvent(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			in.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (in *Inbox) onEvent(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	path := ev.Name
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) && in.recursive {
				if err := addTree(fsw, path, true); err != nil {
					in.logger.Warn("watch new directory failed", zap.String("path", path), zap.Error(err))
				}
				in.mu.Lock()
				in.scanLocked(path)
				in.mu.Unlock()
			}
			return
		}
		in.mu.Lock()
		in.scheduleLocked(path)
		in.mu.Unlock()
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		in.mu.Lock()
		if t, ok := in.timers[path]; ok && t.Stop() {
			in.running.Done()
		}
		delete(in.timers, path)
		delete(in.handled, ids.PathKey(path))
		delete(in.retries, ids.PathKey(path))
		in.mu.Unlock()
	}
}

// scheduleLocked (re)arms the debounce timer of path.
func (in *Inbox) scheduleLocked(path string) {
	in.scheduleAfterLocked(path, in.debounce)
}

func (in *Inbox) scheduleAfterLocked(path string, delay time.Duration) {
	if in.fsw == nil || !in.accept(path) {
		return
	}
	if t, ok := in.timers[path]; ok {
		if t.Stop() {
			in.running.Done()
		}
	}
	in.running.Add(1)
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		defer in.running.Done()
		in.fire(path, func() bool { return in.timers[path] == t })
	})
	in.timers[path] = t
}

func (in *Inbox) scanLocked(root string) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && !in.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		in.scheduleLocked(path)
		return nil
	})
	if err != nil {
		in.logger.Warn("inbox scan failed", zap.String("root", root), zap.Error(err))
	}
}

// fire hands a settled file to the handler unless this version was
// already handled. current reports, under the lock, whether the firing
// timer is still the one registered for path.
func (in *Inbox) fire(path string, current func() bool) {
	in.mu.Lock()
	if !current() {
		in.mu.Unlock()
		return
	}
	delete(in.timers, path)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		in.mu.Unlock()
		return
	}
	key := ids.PathKey(path)
	fp := fingerprint{size: info.Size(), modTime: info.ModTime()}
	if prev, ok := in.handled[key]; ok {
		if prev.same(fp) {
			in.mu.Unlock()
			return
		}
		delete(in.retries, key)
	}
	// Recorded up front so events during the handler call do not re-run it.
	in.handled[key] = fp
	ctx := in.ctx
	in.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	in.logger.Debug("inbox file settled", zap.String("path", path), zap.Int64("bytes", fp.size))
	err = in.handle(ctx, path)

	in.mu.Lock()
	defer in.mu.Unlock()
	switch {
	case err == nil:
		delete(in.retries, key)
	case IsPermanent(err):
		delete(in.retries, key)
		in.logger.Warn("inbox file rejected", zap.String("path", path), zap.Error(err))
	default:
		if prev, ok := in.handled[key]; ok && prev.same(fp) {
			delete(in.handled, key)
		}
		attempt := in.retries[key]
		if attempt >= in.maxRetries || ctx.Err() != nil {
			in.logger.Warn("inbox file not ingested", zap.String("path", path), zap.Int("retries", attempt), zap.Error(err))
			return
		}
		in.retries[key] = attempt + 1
		delay := in.retryDelay << attempt
		in.logger.Warn("inbox file not ingested, will retry",
			zap.String("path", path), zap.Duration("in", delay), zap.Error(err))
		if _, pending := in.timers[path]; !pending {
			in.scheduleAfterLocked(path, delay)
		}
	}
}

func addTree(fsw *fsnotify.Watcher, root string, recursive bool) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	if !recursive {
		return fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}
