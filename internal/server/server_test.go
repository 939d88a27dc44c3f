package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jxucoder/bedrockcall/internal/engine"
	"github.com/jxucoder/bedrockcall/pkg/bedrock"
	"github.com/jxucoder/bedrockcall/pkg/eventbus"
	"github.com/jxucoder/bedrockcall/pkg/model"
	sqliteStore "github.com/jxucoder/bedrockcall/pkg/store/sqlite"
)

type stubLLM struct {
	texts []string
	err   error
	calls atomic.Int32
}

func (s *stubLLM) Complete(_ context.Context, _ string) ([]string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.texts, nil
}

func testServer(t *testing.T, client *stubLLM) (*httptest.Server, *engine.Engine) {
	t.Helper()
	st, err := sqliteStore.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	eng := engine.New(engine.Config{ModelID: "test-model", MaxTokens: 100}, client, st, eventbus.NewInMemoryBus())
	eng.Start(context.Background())
	t.Cleanup(eng.Stop)

	ts := httptest.NewServer(New(eng).Handler())
	t.Cleanup(ts.Close)
	return ts, eng
}

func postInvocation(t *testing.T, ts *httptest.Server, body string) (*http.Response, *model.Invocation) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/invocations", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	var inv model.Invocation
	if resp.StatusCode < 300 || resp.StatusCode >= 500 {
		if err := json.NewDecoder(resp.Body).Decode(&inv); err != nil {
			t.Fatalf("decoding invocation: %v", err)
		}
	}
	return resp, &inv
}

func waitDone(t *testing.T, eng *engine.Engine, id string) *model.Invocation {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		inv, err := eng.Store().GetInvocation(context.Background(), id)
		if err == nil && inv.Done() {
			return inv
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("invocation %s did not finish", id)
	return nil
}

// ---------------------------------------------------------------------------
// POST /api/invocations
// ---------------------------------------------------------------------------

func TestCreateInvocation_Sync(t *testing.T) {
	ts, _ := testServer(t, &stubLLM{texts: []string{"Hi!", "there"}})

	resp, inv := postInvocation(t, ts, `{"prompt":"Say hi."}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if inv.Status != model.StatusComplete {
		t.Errorf("Status = %q, want complete", inv.Status)
	}
	if inv.Source != "api" {
		t.Errorf("Source = %q, want api", inv.Source)
	}
	if len(inv.Texts) != 2 || inv.Texts[0] != "Hi!" || inv.Texts[1] != "there" {
		t.Errorf("Texts = %q, want [Hi! there]", inv.Texts)
	}
}

func TestCreateInvocation_Async(t *testing.T) {
	ts, eng := testServer(t, &stubLLM{texts: []string{"later"}})

	resp, inv := postInvocation(t, ts, `{"prompt":"Say hi.","async":true}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if inv.ID == "" {
		t.Fatal("expected an invocation ID")
	}

	done := waitDone(t, eng, inv.ID)
	if done.Status != model.StatusComplete || len(done.Texts) != 1 {
		t.Errorf("finished invocation = %+v", done)
	}
}

func TestCreateInvocation_BadRequest(t *testing.T) {
	ts, _ := testServer(t, &stubLLM{})

	for name, body := range map[string]string{
		"malformed":    `{"prompt":`,
		"empty prompt": `{"prompt":""}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp, _ := postInvocation(t, ts, body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestCreateInvocation_ClientError(t *testing.T) {
	ts, _ := testServer(t, &stubLLM{err: errors.New("throttled")})

	resp, inv := postInvocation(t, ts, `{"prompt":"Say hi."}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	if inv.Status != model.StatusError || inv.Error != "throttled" {
		t.Errorf("invocation = %+v, want error status with message", inv)
	}
}

func TestCreateInvocation_StoreFailure(t *testing.T) {
	client := &stubLLM{texts: []string{"Hi!"}}
	ts, eng := testServer(t, client)
	eng.Store().Close()

	resp, err := http.Post(ts.URL+"/api/invocations", "application/json", strings.NewReader(`{"prompt":"Say hi."}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error: %v", err)
	}
	if body.Error != "failed to create invocation" {
		t.Errorf("error = %q", body.Error)
	}
	if n := client.calls.Load(); n != 0 {
		t.Errorf("client called %d times, want 0", n)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("bad: %w", bedrock.ErrInvalidArgument), http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// GET /api/invocations
// ---------------------------------------------------------------------------

func TestListAndGetInvocations(t *testing.T) {
	ts, _ := testServer(t, &stubLLM{texts: []string{"ok"}})

	var ids []string
	for i := 0; i < 3; i++ {
		_, inv := postInvocation(t, ts, fmt.Sprintf(`{"prompt":"prompt %d"}`, i))
		ids = append(ids, inv.ID)
	}

	resp, err := http.Get(ts.URL + "/api/invocations?limit=2")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var list []model.Invocation
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(list))
	}

	resp, err = http.Get(ts.URL + "/api/invocations/" + ids[0])
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var got model.Invocation
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decoding invocation: %v", err)
	}
	if got.ID != ids[0] || got.Prompt != "prompt 0" {
		t.Errorf("got %+v, want invocation %s", got, ids[0])
	}
}

func TestListInvocations_BadLimit(t *testing.T) {
	ts, _ := testServer(t, &stubLLM{})

	resp, err := http.Get(ts.URL + "/api/invocations?limit=many")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetInvocation_NotFound(t *testing.T) {
	ts, _ := testServer(t, &stubLLM{})

	for _, path := range []string{"/api/invocations/nope", "/api/invocations/nope/events"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

// ---------------------------------------------------------------------------
// SSE
// ---------------------------------------------------------------------------

func TestInvocationEvents_ReplaysHistory(t *testing.T) {
	ts, _ := testServer(t, &stubLLM{texts: []string{"one", "two"}})
	_, inv := postInvocation(t, ts, `{"prompt":"count"}`)

	resp, err := http.Get(ts.URL + "/api/invocations/" + inv.ID + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			types = append(types, name)
		}
	}

	want := []string{"status", "output", "output", "status", "done"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("event types = %v, want %v", types, want)
	}
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	ts, _ := testServer(t, &stubLLM{})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStart_AddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	_, eng := testServer(t, &stubLLM{})
	done := make(chan error, 1)
	go func() { done <- New(eng).Start(context.Background(), ln.Addr().String()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error for an address in use")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return")
	}
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	_, eng := testServer(t, &stubLLM{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(eng).Start(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
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
