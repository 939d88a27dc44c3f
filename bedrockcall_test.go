package bedrockcall

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jxucoder/bedrockcall/pkg/bedrock"
	"github.com/jxucoder/bedrockcall/pkg/store"
	sqliteStore "github.com/jxucoder/bedrockcall/pkg/store/sqlite"
)

type stubLLM struct{}

func (stubLLM) Complete(_ context.Context, _ string) ([]string, error) {
	return []string{"ok"}, nil
}

// slowLLM takes a while to answer and ignores cancellation.
type slowLLM struct {
	once    sync.Once
	started chan struct{}
}

func (s *slowLLM) Complete(_ context.Context, _ string) ([]string, error) {
	s.once.Do(func() { close(s.started) })
	time.Sleep(300 * time.Millisecond)
	return []string{"ok"}, nil
}

// closeTracker records whether the wrapped store was closed.
type closeTracker struct {
	store.InvocationStore
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return c.InvocationStore.Close()
}

func writeJob(t *testing.T, jobsDir, name, body string) {
	t.Helper()
	if err := os.MkdirAll(jobsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(jobsDir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

type fakeChannel struct {
	started chan struct{}
}

func (f *fakeChannel) Name() string { return "fake" }

func (f *fakeChannel) Run(ctx context.Context) error {
	close(f.started)
	<-ctx.Done()
	return nil
}

func TestBuild_RequiresLLM(t *testing.T) {
	_, err := NewBuilder().WithConfig(Config{DataDir: t.TempDir()}).Build()
	if !errors.Is(err, ErrNoLLM) {
		t.Fatalf("Build() error = %v, want ErrNoLLM", err)
	}
}

func TestBuild_Defaults(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	b := NewBuilder().WithConfig(Config{DataDir: dataDir}).WithLLM(stubLLM{})

	app, err := b.Build()
	if err != nil {
		t.Fatalf("Build() returned unexpected error: %v", err)
	}
	t.Cleanup(func() { app.Engine().Store().Close() })

	if b.config.ServerAddr != ":7090" {
		t.Errorf("ServerAddr = %q, want :7090", b.config.ServerAddr)
	}
	if want := filepath.Join(dataDir, "bedrockcall.db"); b.config.DatabasePath != want {
		t.Errorf("DatabasePath = %q, want %q", b.config.DatabasePath, want)
	}
	if b.config.ModelID != bedrock.DefaultModelID || b.config.MaxTokens != bedrock.DefaultMaxTokens {
		t.Errorf("ModelID/MaxTokens = %q/%d, want defaults", b.config.ModelID, b.config.MaxTokens)
	}
	if _, err := os.Stat(b.config.DatabasePath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
	if app.Engine().Bus() == nil {
		t.Error("expected a default event bus")
	}

	inv, err := app.Engine().Run(context.Background(), "test", "hello")
	if err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}
	if _, err := app.Engine().Store().GetInvocation(context.Background(), inv.ID); err != nil {
		t.Errorf("invocation was not recorded: %v", err)
	}
}

func TestBuild_LoadsJobs(t *testing.T) {
	dataDir := t.TempDir()
	writeJob(t, filepath.Join(dataDir, "jobs"), "gold.yaml", "prompt: why gold?\n")

	app, err := NewBuilder().WithConfig(Config{DataDir: dataDir}).WithLLM(stubLLM{}).Build()
	if err != nil {
		t.Fatalf("Build() returned unexpected error: %v", err)
	}
	t.Cleanup(func() { app.Engine().Store().Close() })

	if _, ok := app.Scheduler().Find("gold"); !ok {
		t.Error("expected job gold to be loaded")
	}
}

func TestApp_StartStops(t *testing.T) {
	app, err := NewBuilder().
		WithConfig(Config{DataDir: t.TempDir(), ServerAddr: "127.0.0.1:0"}).
		WithLLM(stubLLM{}).
		Build()
	if err != nil {
		t.Fatalf("Build() returned unexpected error: %v", err)
	}

	ch := &fakeChannel{started: make(chan struct{})}
	app.AddChannel(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Start(ctx) }()

	select {
	case <-ch.started:
	case <-time.After(2 * time.Second):
		t.Fatal("channel was not started")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}

func TestBuild_BadJobClosesDefaultStore(t *testing.T) {
	dataDir := t.TempDir()
	writeJob(t, filepath.Join(dataDir, "jobs"), "broken.yaml", "every: 1h\n")

	var opened *closeTracker
	orig := openDefaultStore
	openDefaultStore = func(path string) (store.InvocationStore, error) {
		st, err := orig(path)
		if err != nil {
			return nil, err
		}
		opened = &closeTracker{InvocationStore: st}
		return opened, nil
	}
	t.Cleanup(func() { openDefaultStore = orig })

	if _, err := NewBuilder().WithConfig(Config{DataDir: dataDir}).WithLLM(stubLLM{}).Build(); err == nil {
		t.Fatal("expected an error for an invalid job")
	}
	if opened == nil || !opened.closed {
		t.Error("the default store should be closed when Build fails")
	}
}

func TestBuild_BadJobLeavesSuppliedStoreOpen(t *testing.T) {
	dataDir := t.TempDir()
	writeJob(t, filepath.Join(dataDir, "jobs"), "broken.yaml", "every: 1h\n")

	st, err := sqliteStore.New(filepath.Join(dataDir, "own.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	tracked := &closeTracker{InvocationStore: st}
	t.Cleanup(func() { st.Close() })

	if _, err := NewBuilder().WithConfig(Config{DataDir: dataDir}).WithLLM(stubLLM{}).WithStore(tracked).Build(); err == nil {
		t.Fatal("expected an error for an invalid job")
	}
	if tracked.closed {
		t.Error("a supplied store belongs to the caller and must stay open")
	}
}

func TestApp_StartWaitsForRunningJob(t *testing.T) {
	dataDir := t.TempDir()
	writeJob(t, filepath.Join(dataDir, "jobs"), "gold.yaml", "prompt: why gold?\nevery: 20ms\n")

	client := &slowLLM{started: make(chan struct{})}
	app, err := NewBuilder().
		WithConfig(Config{DataDir: dataDir, ServerAddr: "127.0.0.1:0"}).
		WithLLM(client).
		Build()
	if err != nil {
		t.Fatalf("Build() returned unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Start(ctx) }()

	select {
	case <-client.started:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}

	st, err := sqliteStore.New(filepath.Join(dataDir, "bedrockcall.db"))
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer st.Close()

	invs, err := st.ListInvocations(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListInvocations: %v", err)
	}
	if len(invs) == 0 {
		t.Fatal("expected the job invocation to be recorded")
	}
	for _, inv := range invs {
		if !inv.Done() {
			t.Errorf("invocation %s left %s after shutdown", inv.ID, inv.Status)
		}
	}
}
