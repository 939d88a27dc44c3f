// Package telegram relays prompts from a Telegram chat to the model.
package telegram

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jxucoder/bedrockcall/pkg/channel"
	"github.com/jxucoder/bedrockcall/pkg/model"
)

// maxMessageLen stays below Telegram's 4096 character limit after escaping
// overhead on typical text.
const maxMessageLen = 3800

// sender is the part of tgbotapi.BotAPI the bot uses to reply.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot is the Telegram relay for bedrockcall.
type Bot struct {
	api    *tgbotapi.BotAPI
	out    sender
	runner channel.Runner
	wg     sync.WaitGroup // message handlers in flight
}

// NewBot creates a new Telegram bot.
func NewBot(token string, runner channel.Runner) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating Telegram bot: %w", err)
	}

	log.Printf("Telegram bot authorized as @%s", api.Self.UserName)

	return &Bot{api: api, out: api, runner: runner}, nil
}

// Name returns the channel name.
func (b *Bot) Name() string { return "telegram" }

// Run starts the long-polling loop. Blocks until ctx is canceled and every
// message handler has replied.
func (b *Bot) Run(ctx context.Context) error {
	defer b.wg.Wait()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	log.Println("Telegram bot listening for messages...")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				b.dispatch(ctx, update.Message)
			}
		}
	}
}

// dispatch handles msg in the background.
func (b *Bot) dispatch(ctx context.Context, msg *tgbotapi.Message) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.handleMessage(ctx, msg)
	}()
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	chatID := msg.Chat.ID

	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, chatID, msg.MessageID, text)
		return
	}

	b.handlePrompt(ctx, chatID, msg.MessageID, text)
}

func (b *Bot) handleCommand(ctx context.Context, chatID int64, replyTo int, text string) {
	parts := strings.Fields(text)
	cmd := strings.ToLower(parts[0])
	if at := strings.Index(cmd, "@"); at >= 0 {
		cmd = cmd[:at]
	}

	switch cmd {
	case "/start", "/help":
		b.sendHelp(chatID, replyTo)
	case "/ask":
		prompt := strings.TrimSpace(strings.TrimPrefix(text, parts[0]))
		if prompt == "" {
			b.sendReply(chatID, replyTo, "Usage: `/ask why is gold the best color?`")
			return
		}
		b.handlePrompt(ctx, chatID, replyTo, prompt)
	default:
		b.sendReply(chatID, replyTo, fmt.Sprintf("Unknown command `%s`\\. Try /help", escapeMarkdown(cmd)))
	}
}

// handlePrompt runs one invocation and replies with each returned fragment.
func (b *Bot) handlePrompt(ctx context.Context, chatID int64, replyTo int, prompt string) {
	b.sendChatAction(chatID)

	inv, err := b.runner.Run(ctx, b.Name(), prompt)
	if err != nil {
		b.sendReply(chatID, replyTo, fmt.Sprintf("❌ %s", escapeMarkdown(err.Error())))
		return
	}

	if len(inv.Texts) == 0 {
		b.sendReply(chatID, replyTo, "_\\(empty reply\\)_")
		return
	}
	for _, text := range inv.Texts {
		b.sendReply(chatID, replyTo, escapeMarkdown(model.Truncate(text, maxMessageLen)))
	}
}

// --- Helpers ---

func (b *Bot) sendHelp(chatID int64, replyTo int) {
	b.sendReply(chatID, replyTo, ""+
		"*bedrockcall* relays your messages to a Bedrock model\\.\n\n"+
		"Send any message and each part of the reply comes back as its own message\\.\n\n"+
		"*Commands:*\n"+
		"/ask \\<prompt\\> \\-\\- Same as sending the prompt\n"+
		"/help \\-\\- Show this message")
}

func (b *Bot) sendChatAction(chatID int64) {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	b.out.Send(action)
}

func (b *Bot) sendReply(chatID int64, replyTo int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	msg.ParseMode = "MarkdownV2"

	if _, err := b.out.Send(msg); err != nil {
		log.Printf("Telegram: failed to send message: %v", err)
		msg.ParseMode = ""
		msg.Text = stripMarkdown(text)
		b.out.Send(msg)
	}
}

func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"\\", "\\\\",
		"_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]",
		"(", "\\(", ")", "\\)", "~", "\\~", "`", "\\`",
		">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-",
		"=", "\\=", "|", "\\|", "{", "\\{", "}", "\\}",
		".", "\\.", "!", "\\!",
	)
	return replacer.Replace(s)
}

func stripMarkdown(s string) string {
	r := strings.NewReplacer(
		"\\\\", "\\",
		"\\*", "*", "\\_", "_", "\\[", "[", "\\]", "]",
		"\\(", "(", "\\)", ")", "\\~", "~", "\\`", "`",
		"\\>", ">", "\\#", "#", "\\+", "+", "\\-", "-",
		"\\=", "=", "\\|", "|", "\\{", "{", "\\}", "}",
		"\\.", ".", "\\!", "!",
	)
	return r.Replace(s)
}
