package screenshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/splax/deploydeck/internal/remote"
	"github.com/splax/deploydeck/pkg/config"
)

// fileExecutor writes the output argument like a real capture tool would.
type fileExecutor struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (f *fileExecutor) RunScript(_ context.Context, _, script string) (remote.Result, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return remote.Result{Stderr: "chromium missing"}, f.err
	}
	fields := strings.Fields(script)
	out := strings.Trim(fields[len(fields)-1], "'")
	return remote.Result{}, os.WriteFile(out, []byte("png"), 0o600)
}

func newService(t *testing.T, exec Executor) Service {
	t.Helper()
	cfg := config.APIConfig{ScreenshotCommand: "shot", ScreenshotDir: t.TempDir(), ScreenshotTimeout: time.Second}
	return New(exec, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
}

func TestCaptureDeduplicatesConcurrentCallers(t *testing.T) {
	exec := &fileExecutor{release: make(chan struct{})}
	svc := newService(t, exec)

	var wg sync.WaitGroup
	paths := make([]string, 5)
	errs := make([]error, 5)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = svc.Capture(context.Background(), "Acme App", "ABC123", "https://acme.example.com")
		}(i)
	}
	for exec.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(exec.release)
	wg.Wait()

	if n := exec.calls.Load(); n != 1 {
		t.Fatalf("expected one capture, got %d", n)
	}
	want := filepath.Join(svc.dir, "acme-app", "ABC123.png")
	for i := range paths {
		if errs[i] != nil || paths[i] != want {
			t.Fatalf("caller %d got %q %v", i, paths[i], errs[i])
		}
	}
	// A later request is served from disk.
	if _, err := svc.Capture(context.Background(), "acme-app", "ABC123", "https://acme.example.com"); err != nil {
		t.Fatalf("cached capture: %v", err)
	}
	if n := exec.calls.Load(); n != 1 {
		t.Fatalf("expected cached result, got %d captures", n)
	}
}

func TestCaptureFailureLeavesNoFile(t *testing.T) {
	exec := &fileExecutor{err: errors.New("exit status 1")}
	svc := newService(t, exec)
	if _, err := svc.Capture(context.Background(), "acme", "d1", "https://x.example.com"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(svc.Path("acme", "d1")); !os.IsNotExist(err) {
		t.Fatalf("expected no screenshot file, stat err=%v", err)
	}
}

func TestCaptureGuards(t *testing.T) {
	svc := New(&fileExecutor{}, slog.New(slog.NewTextHandler(io.Discard, nil)), config.APIConfig{})
	if _, err := svc.Capture(context.Background(), "a", "b", "https://x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}
	svc = newService(t, &fileExecutor{})
	if _, err := svc.Capture(context.Background(), "a", "b", " "); !errors.Is(err, ErrNoURL) {
		t.Fatalf("expected no url, got %v", err)
	}
}

func TestPathSanitizesDeploymentID(t *testing.T) {
	svc := newService(t, &fileExecutor{})
	p := svc.Path("acme", "../../etc/passwd")
	if filepath.Dir(p) != filepath.Join(svc.dir, "acme") {
		t.Fatalf("path escaped its directory: %s", p)
	}
}
