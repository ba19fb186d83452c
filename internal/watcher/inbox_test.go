package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) handle(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func txtOnly(path string) bool { return filepath.Ext(path) == ".txt" }

func startInbox(t *testing.T, dir string, rec *recorder, opts ...Option) *Inbox {
	t.Helper()
	opts = append([]Option{WithDebounce(30 * time.Millisecond), WithFilter(txtOnly)}, opts...)
	in := New([]string{dir}, rec.handle, opts...)
	if err := in.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(in.Stop)
	return in
}

func TestInbox_HandlesNewFileOnce(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startInbox(t, dir, rec)

	path := filepath.Join(dir, "notes.txt")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for range 5 {
		if _, err := f.WriteString("more text\n"); err != nil {
			t.Fatal(err)
		}
	}
	_ = f.Close()

	waitFor(t, func() bool { return len(rec.snapshot()) >= 1 })
	time.Sleep(100 * time.Millisecond)
	got := rec.snapshot()
	if len(got) != 1 || got[0] != path {
		t.Errorf("handled = %v, want exactly [%s]", got, path)
	}
}

func TestInbox_FilterSkipsOtherFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startInbox(t, dir, rec)

	if err := os.WriteFile(filepath.Join(dir, "image.bin"), []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ok.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
	time.Sleep(100 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 || filepath.Base(got[0]) != "ok.txt" {
		t.Errorf("handled = %v", got)
	}
}

func TestInbox_InitialScan(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "existing.txt"), []byte("before start"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	startInbox(t, dir, rec, WithInitialScan(true))
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
}

func TestInbox_NoInitialScanByDefault(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "existing.txt"), []byte("before start"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	startInbox(t, dir, rec)
	time.Sleep(150 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("handled = %v, want none", got)
	}
}

func TestInbox_NewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startInbox(t, dir, rec)

	sub := filepath.Join(dir, "batch")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a moment to register the new directory.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(sub, "a.txt"), []byte("in a subdirectory"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(rec.snapshot()) >= 1 })
}

func TestInbox_CreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbox", "nested")
	rec := &recorder{}
	startInbox(t, dir, rec)
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("inbox directory should exist after Start: %v", err)
	}
}

func TestInbox_UnchangedFileNotHandledTwice(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "same.txt")
	if err := os.WriteFile(path, []byte("stable"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	in := startInbox(t, dir, rec)

	always := func() bool { return true }
	in.fire(path, always)
	in.fire(path, always)
	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("handled %d times, want 1", len(got))
	}

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	in.fire(path, always)
	if got := rec.snapshot(); len(got) != 2 {
		t.Errorf("modified file handled %d times in total, want 2", len(got))
	}
}

func TestInbox_StopWaitsForHandler(t *testing.T) {
	dir := t.TempDir()
	started := make(chan struct{})
	var once sync.Once
	var finished bool
	var mu sync.Mutex
	handle := func(ctx context.Context, path string) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
		return ctx.Err()
	}
	in := New([]string{dir}, handle, WithDebounce(10*time.Millisecond))
	if err := in.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "slow.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never started")
	}
	in.Stop()
	mu.Lock()
	defer mu.Unlock()
	if !finished {
		t.Error("Stop returned before the running handler finished")
	}
}

func TestInbox_RequiresHandler(t *testing.T) {
	in := New([]string{t.TempDir()}, nil)
	if err := in.Start(context.Background()); err == nil {
		t.Error("expected error without handler")
	}
}

func TestInbox_HandlerErrorDoesNotStopWatching(t *testing.T) {
	dir := t.TempDir()
	var mu sync.Mutex
	calls := 0
	handle := func(ctx context.Context, path string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("rejected")
	}
	in := New([]string{dir}, handle, WithDebounce(20*time.Millisecond))
	if err := in.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer in.Stop()
	for _, name := range []string{"a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	})
}

// countingHandler fails with the error returned by result for each call.
type countingHandler struct {
	mu     sync.Mutex
	calls  int
	result func(call int) error
}

func (h *countingHandler) handle(ctx context.Context, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	return h.result(h.calls)
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func runInboxWith(t *testing.T, h *countingHandler, retries int) {
	t.Helper()
	dir := t.TempDir()
	in := New([]string{dir}, h.handle, WithDebounce(10*time.Millisecond), WithRetry(20*time.Millisecond, retries))
	if err := in.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(in.Stop)
	if err := os.WriteFile(filepath.Join(dir, "doc.txt"), []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestInbox_RetriesTransientFailure(t *testing.T) {
	h := &countingHandler{result: func(call int) error {
		if call < 3 {
			return errors.New("embedder unavailable")
		}
		return nil
	}}
	runInboxWith(t, h, 3)
	waitFor(t, func() bool { return h.count() == 3 })
	time.Sleep(200 * time.Millisecond)
	if n := h.count(); n != 3 {
		t.Errorf("handled %d times after success, want 3", n)
	}
}

func TestInbox_PermanentFailureNotRetried(t *testing.T) {
	h := &countingHandler{result: func(int) error { return Permanent(errors.New("corrupt document")) }}
	runInboxWith(t, h, 3)
	waitFor(t, func() bool { return h.count() == 1 })
	time.Sleep(200 * time.Millisecond)
	if n := h.count(); n != 1 {
		t.Errorf("permanent failure handled %d times, want 1", n)
	}
}

func TestInbox_RetriesAreBounded(t *testing.T) {
	h := &countingHandler{result: func(int) error { return errors.New("still down") }}
	runInboxWith(t, h, 2)
	waitFor(t, func() bool { return h.count() == 3 })
	time.Sleep(300 * time.Millisecond)
	if n := h.count(); n != 3 {
		t.Errorf("handled %d times, want 1 attempt and 2 retries", n)
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad input")
	err := Permanent(base)
	if !IsPermanent(err) || !errors.Is(err, base) {
		t.Errorf("Permanent(%v) = %v", base, err)
	}
	if IsPermanent(base) || Permanent(nil) != nil {
		t.Error("plain errors and nil are not permanent")
	}
}
