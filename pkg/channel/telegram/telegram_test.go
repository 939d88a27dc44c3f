package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jxucoder/bedrockcall/pkg/model"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	failMD  bool
	actions int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch msg := c.(type) {
	case tgbotapi.MessageConfig:
		f.sent = append(f.sent, msg)
		if f.failMD && msg.ParseMode != "" {
			return tgbotapi.Message{}, errors.New("can't parse entities")
		}
	case tgbotapi.ChatActionConfig:
		f.actions++
	}
	return tgbotapi.Message{}, nil
}

type stubRunner struct {
	texts   []string
	err     error
	sources []string
	prompts []string
}

func (s *stubRunner) Run(_ context.Context, source, prompt string) (*model.Invocation, error) {
	s.sources = append(s.sources, source)
	s.prompts = append(s.prompts, prompt)
	inv := &model.Invocation{Source: source, Prompt: prompt, Texts: s.texts}
	if s.err != nil {
		inv.Status = model.StatusError
		return inv, s.err
	}
	inv.Status = model.StatusComplete
	return inv, nil
}

func testBot(runner *stubRunner) (*Bot, *fakeSender) {
	out := &fakeSender{}
	return &Bot{out: out, runner: runner}, out
}

func message(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 7,
		Text:      text,
		Chat:      &tgbotapi.Chat{ID: 42},
	}
}

// ---------------------------------------------------------------------------
// handleMessage
// ---------------------------------------------------------------------------

func TestHandleMessage_RelaysFragments(t *testing.T) {
	runner := &stubRunner{texts: []string{"Gold shines.", "It is warm."}}
	bot, out := testBot(runner)

	bot.handleMessage(context.Background(), message("  Why gold?  "))

	if len(runner.prompts) != 1 || runner.prompts[0] != "Why gold?" {
		t.Fatalf("prompts = %q, want [Why gold?]", runner.prompts)
	}
	if runner.sources[0] != "telegram" {
		t.Errorf("source = %q, want telegram", runner.sources[0])
	}
	if len(out.sent) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(out.sent))
	}
	if out.sent[0].Text != "Gold shines\\." || out.sent[1].Text != "It is warm\\." {
		t.Errorf("replies = %q, %q", out.sent[0].Text, out.sent[1].Text)
	}
	if out.sent[0].ChatID != 42 || out.sent[0].ReplyToMessageID != 7 {
		t.Errorf("reply addressed to chat %d msg %d", out.sent[0].ChatID, out.sent[0].ReplyToMessageID)
	}
	if out.actions != 1 {
		t.Errorf("expected one typing action, got %d", out.actions)
	}
}

func TestHandleMessage_Error(t *testing.T) {
	runner := &stubRunner{err: errors.New("throttled")}
	bot, out := testBot(runner)

	bot.handleMessage(context.Background(), message("hi"))

	if len(out.sent) != 1 || !strings.Contains(out.sent[0].Text, "throttled") {
		t.Fatalf("expected an error reply, got %+v", out.sent)
	}
}

func TestHandleMessage_EmptyReply(t *testing.T) {
	bot, out := testBot(&stubRunner{})

	bot.handleMessage(context.Background(), message("hi"))

	if len(out.sent) != 1 || !strings.Contains(out.sent[0].Text, "empty reply") {
		t.Fatalf("expected an empty-reply notice, got %+v", out.sent)
	}
}

func TestHandleMessage_IgnoresBlank(t *testing.T) {
	runner := &stubRunner{}
	bot, out := testBot(runner)

	bot.handleMessage(context.Background(), message("   "))

	if len(runner.prompts) != 0 || len(out.sent) != 0 {
		t.Fatal("blank message should be ignored")
	}
}

func TestHandleCommand(t *testing.T) {
	tests := []struct {
		text       string
		wantPrompt string
		wantReply  string
	}{
		{text: "/help", wantReply: "bedrockcall"},
		{text: "/start@bedrockcall_bot", wantReply: "bedrockcall"},
		{text: "/ask Say hi.", wantPrompt: "Say hi."},
		{text: "/ask", wantReply: "Usage"},
		{text: "/nope", wantReply: "Unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			runner := &stubRunner{texts: []string{"Hi!"}}
			bot, out := testBot(runner)

			bot.handleMessage(context.Background(), message(tt.text))

			if tt.wantPrompt != "" {
				if len(runner.prompts) != 1 || runner.prompts[0] != tt.wantPrompt {
					t.Fatalf("prompts = %q, want [%s]", runner.prompts, tt.wantPrompt)
				}
				return
			}
			if len(runner.prompts) != 0 {
				t.Fatalf("command should not run a prompt, got %q", runner.prompts)
			}
			if len(out.sent) != 1 || !strings.Contains(out.sent[0].Text, tt.wantReply) {
				t.Fatalf("reply = %+v, want it to mention %q", out.sent, tt.wantReply)
			}
		})
	}
}

func TestSendReply_FallsBackToPlainText(t *testing.T) {
	bot, out := testBot(&stubRunner{})
	out.failMD = true

	bot.sendReply(1, 2, "Done\\!")

	if len(out.sent) != 2 {
		t.Fatalf("expected a retry, got %d sends", len(out.sent))
	}
	if out.sent[1].ParseMode != "" || out.sent[1].Text != "Done!" {
		t.Errorf("fallback = %+v, want plain text", out.sent[1])
	}
}

// ---------------------------------------------------------------------------
// escapeMarkdown / stripMarkdown
// ---------------------------------------------------------------------------

func TestEscapeMarkdown(t *testing.T) {
	got := escapeMarkdown("a_b*c (d) e.f!")
	want := "a\\_b\\*c \\(d\\) e\\.f\\!"
	if got != want {
		t.Errorf("escapeMarkdown = %q, want %q", got, want)
	}
}

func TestStripMarkdown_RoundTrip(t *testing.T) {
	for _, s := range []string{
		"plain",
		"gold > silver, #1 [always]",
		"C:\\path\\to.file",
		"`code` ~strike~ {braces} |pipe| +plus -minus =eq",
	} {
		if got := stripMarkdown(escapeMarkdown(s)); got != s {
			t.Errorf("stripMarkdown(escapeMarkdown(%q)) = %q", s, got)
		}
	}
}

func TestDispatch_WaitsForReply(t *testing.T) {
	runner := &stubRunner{texts: []string{"Gold shines."}}
	bot, out := testBot(runner)

	bot.dispatch(context.Background(), message("why gold?"))
	bot.wg.Wait()

	if len(out.sent) != 1 || !strings.Contains(out.sent[0].Text, "Gold shines") {
		t.Errorf("sent = %+v, want the reply once handlers finish", out.sent)
	}
}
