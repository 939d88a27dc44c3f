// Package bedrockcall is the top-level entry point for running bedrockcall
// as a long-lived service.
//
// Use the Builder to compose an application:
//
//	app, err := bedrockcall.NewBuilder().
//	    WithConfig(cfg).
//	    WithLLM(bedrock.NewClient(api)).
//	    Build()
//	app.Start(ctx)
//
// Or supply your own components:
//
//	app, err := bedrockcall.NewBuilder().
//	    WithLLM(myClient).
//	    WithStore(myStore).
//	    Build()
package bedrockcall

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/jxucoder/bedrockcall/internal/engine"
	"github.com/jxucoder/bedrockcall/internal/server"
	"github.com/jxucoder/bedrockcall/pkg/bedrock"
	"github.com/jxucoder/bedrockcall/pkg/channel"
	"github.com/jxucoder/bedrockcall/pkg/eventbus"
	"github.com/jxucoder/bedrockcall/pkg/jobs"
	"github.com/jxucoder/bedrockcall/pkg/llm"
	"github.com/jxucoder/bedrockcall/pkg/store"
	sqliteStore "github.com/jxucoder/bedrockcall/pkg/store/sqlite"
)

// Config holds top-level configuration for a bedrockcall application.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (default ":7090").
	ServerAddr string

	// DataDir is the directory for persistent data (default "~/.bedrockcall").
	DataDir string

	// DatabasePath is the full path to the SQLite database file, used when
	// no store is supplied.
	DatabasePath string

	// JobsDir holds YAML prompt jobs (default "<DataDir>/jobs").
	JobsDir string

	// ModelID and MaxTokens are recorded on each invocation.
	ModelID   string
	MaxTokens int
}

// ErrNoLLM is returned by Build when no LLM client was supplied.
var ErrNoLLM = errors.New("bedrockcall: an LLM client is required")

// Builder constructs a bedrockcall App.
type Builder struct {
	config Config
	store  store.InvocationStore
	bus    eventbus.Bus
	llm    llm.Client
}

// NewBuilder creates a new Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the invocation store implementation.
func (b *Builder) WithStore(s store.InvocationStore) *Builder {
	b.store = s
	return b
}

// WithBus sets the event bus implementation.
func (b *Builder) WithBus(bus eventbus.Bus) *Builder {
	b.bus = bus
	return b
}

// WithLLM sets the client every invocation goes through.
func (b *Builder) WithLLM(client llm.Client) *Builder {
	b.llm = client
	return b
}

// Build creates the App. Missing components other than the LLM client are
// filled with defaults.
func (b *Builder) Build() (*App, error) {
	if b.llm == nil {
		return nil, ErrNoLLM
	}
	ownStore := b.store == nil
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	eng := engine.New(
		engine.Config{
			ModelID:   b.config.ModelID,
			MaxTokens: b.config.MaxTokens,
		},
		b.llm,
		b.store,
		b.bus,
	)

	scheduler := jobs.New(b.config.JobsDir, eng)
	if err := scheduler.LoadJobs(); err != nil {
		if ownStore {
			b.store.Close()
			b.store = nil
		}
		return nil, fmt.Errorf("loading jobs: %w", err)
	}

	return &App{
		config:    b.config,
		engine:    eng,
		server:    server.New(eng),
		scheduler: scheduler,
	}, nil
}

// App is a running bedrockcall application.
type App struct {
	config    Config
	engine    *engine.Engine
	server    *server.Server
	scheduler *jobs.Scheduler
	channels  []channel.Channel
}

// Engine returns the underlying engine for direct access.
func (a *App) Engine() *engine.Engine { return a.engine }

// Scheduler returns the job scheduler.
func (a *App) Scheduler() *jobs.Scheduler { return a.scheduler }

// AddChannel adds a chat relay (Slack, Telegram) started with the app.
// Channels usually take the app's engine as their runner, so they are added
// after Build.
func (a *App) AddChannel(ch channel.Channel) {
	a.channels = append(a.channels, ch)
}

// Start starts the HTTP server, the job scheduler and all channels. Blocks
// until ctx is done or the server fails, then waits for channels, jobs and
// background invocations to finish before closing the store.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.engine.Start(ctx)

	var wg sync.WaitGroup
	for _, ch := range a.channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ch.Run(ctx); err != nil {
				log.Printf("%s channel error: %v", ch.Name(), err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.scheduler.Start(ctx)
	}()

	err := a.server.Start(ctx, a.config.ServerAddr)

	cancel()
	wg.Wait()
	a.engine.Stop()
	if closeErr := a.engine.Store().Close(); err == nil {
		err = closeErr
	}
	return err
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// applyDefaults fills in missing fields on the builder.
func applyDefaults(b *Builder) error {
	// Config defaults.
	if b.config.ServerAddr == "" {
		b.config.ServerAddr = ":7090"
	}
	if b.config.DataDir == "" {
		b.config.DataDir = defaultDataDir()
	}
	if b.config.DatabasePath == "" {
		b.config.DatabasePath = filepath.Join(b.config.DataDir, "bedrockcall.db")
	}
	if b.config.JobsDir == "" {
		b.config.JobsDir = filepath.Join(b.config.DataDir, "jobs")
	}
	if b.config.ModelID == "" {
		b.config.ModelID = bedrock.DefaultModelID
	}
	if b.config.MaxTokens == 0 {
		b.config.MaxTokens = bedrock.DefaultMaxTokens
	}

	// Store.
	if b.store == nil {
		if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		st, err := openDefaultStore(b.config.DatabasePath)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		b.store = st
	}

	// Event bus.
	if b.bus == nil {
		b.bus = eventbus.NewInMemoryBus()
	}

	return nil
}

// openDefaultStore opens the SQLite store used when none is supplied.
var openDefaultStore = func(path string) (store.InvocationStore, error) {
	return sqliteStore.New(path)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bedrockcall"
	}
	return filepath.Join(home, ".bedrockcall")
}
