// Package engine runs prompts through an LLM client and keeps a record of
// each invocation. It depends only on interfaces (llm, store, eventbus).
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jxucoder/bedrockcall/pkg/eventbus"
	"github.com/jxucoder/bedrockcall/pkg/llm"
	"github.com/jxucoder/bedrockcall/pkg/model"
	"github.com/jxucoder/bedrockcall/pkg/store"
)

// ErrRecord marks failures to create the history record. The LLM was not
// called when Run or Submit returns it.
var ErrRecord = errors.New("recording invocation")

// Config holds engine-specific configuration. ModelID and MaxTokens are
// recorded on each invocation; the client is what actually applies them.
type Config struct {
	ModelID   string
	MaxTokens int
}

// Engine orchestrates the invocation lifecycle.
type Engine struct {
	config Config
	client llm.Client
	store  store.InvocationStore // nil disables history
	bus    eventbus.Bus          // nil disables live events

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Engine. st and bus may be nil.
func New(cfg Config, client llm.Client, st store.InvocationStore, bus eventbus.Bus) *Engine {
	return &Engine{
		config: cfg,
		client: client,
		store:  st,
		bus:    bus,
	}
}

// Start sets the context background invocations run under. Call Stop to
// cancel them and wait for them to finish.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ctx, e.cancel = context.WithCancel(ctx)
}

// Stop cancels background invocations and waits for them to return.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// Store returns the invocation store, which may be nil.
func (e *Engine) Store() store.InvocationStore { return e.store }

// Bus returns the event bus, which may be nil.
func (e *Engine) Bus() eventbus.Bus { return e.bus }

// Run performs one invocation synchronously. The returned record is never
// nil; its Status tells how it ended. Errors from the LLM client are
// returned unchanged.
func (e *Engine) Run(ctx context.Context, source, prompt string) (*model.Invocation, error) {
	inv, err := e.create(ctx, source, prompt)
	if err != nil {
		return inv, err
	}
	return inv, e.execute(ctx, inv)
}

// Submit records a pending invocation and runs it in the background. It
// returns as soon as the record exists.
func (e *Engine) Submit(source, prompt string) (*model.Invocation, error) {
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	inv, err := e.create(ctx, source, prompt)
	if err != nil {
		return nil, err
	}

	// The caller keeps inv; the background run works on its own copy.
	running := *inv
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.execute(ctx, &running); err != nil {
			log.Printf("Invocation %s failed: %v", running.ID, err)
		}
	}()
	return inv, nil
}

func (e *Engine) create(ctx context.Context, source, prompt string) (*model.Invocation, error) {
	now := time.Now().UTC()
	inv := &model.Invocation{
		ID:        uuid.NewString(),
		Source:    source,
		Prompt:    prompt,
		ModelID:   e.config.ModelID,
		MaxTokens: e.config.MaxTokens,
		Status:    model.StatusPending,
		Texts:     []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if e.store != nil {
		if err := e.store.CreateInvocation(ctx, inv); err != nil {
			return inv, fmt.Errorf("%w: %w", ErrRecord, err)
		}
	}
	return inv, nil
}

func (e *Engine) execute(ctx context.Context, inv *model.Invocation) error {
	// Only the model call stops on cancellation; the outcome is always
	// recorded.
	rec := context.WithoutCancel(ctx)
	e.setStatus(rec, inv, model.StatusRunning)

	texts, err := e.client.Complete(ctx, inv.Prompt)
	if err != nil {
		e.fail(rec, inv, err)
		return err
	}

	inv.Texts = texts
	for _, text := range texts {
		e.emitEvent(rec, inv.ID, model.EventOutput, text)
	}
	e.setStatus(rec, inv, model.StatusComplete)
	e.emitEvent(rec, inv.ID, model.EventDone, string(model.StatusComplete))
	return nil
}

func (e *Engine) setStatus(ctx context.Context, inv *model.Invocation, status model.Status) {
	inv.Status = status
	inv.UpdatedAt = time.Now().UTC()
	if e.store != nil {
		if err := e.store.UpdateInvocation(ctx, inv); err != nil {
			log.Printf("Error updating invocation %s: %v", inv.ID, err)
		}
	}
	e.emitEvent(ctx, inv.ID, model.EventStatus, string(status))
}

func (e *Engine) fail(ctx context.Context, inv *model.Invocation, err error) {
	inv.Error = err.Error()
	e.setStatus(ctx, inv, model.StatusError)
	e.emitEvent(ctx, inv.ID, model.EventError, inv.Error)
	e.emitEvent(ctx, inv.ID, model.EventDone, string(model.StatusError))
}

func (e *Engine) emitEvent(ctx context.Context, invocationID, eventType, data string) {
	event := &model.Event{
		InvocationID: invocationID,
		Type:         eventType,
		Data:         data,
		CreatedAt:    time.Now().UTC(),
	}
	if e.store != nil {
		if err := e.store.AddEvent(ctx, event); err != nil {
			log.Printf("Error storing event: %v", err)
		}
	}
	if e.bus != nil {
		e.bus.Publish(invocationID, event)
	}
}
