// Package slack relays prompts from Slack app mentions to the model using
// Socket Mode.
package slack

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/jxucoder/bedrockcall/pkg/channel"
	"github.com/jxucoder/bedrockcall/pkg/model"
)

// poster is the part of slack.Client the bot uses to reply.
type poster interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

// Bot is the Slack Socket Mode relay for bedrockcall.
type Bot struct {
	api          poster
	socketClient *socketmode.Client
	runner       channel.Runner
	wg           sync.WaitGroup // event loop and mention handlers
}

// NewBot creates a new Slack Socket Mode bot.
func NewBot(botToken, appToken string, runner channel.Runner) *Bot {
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socketClient := socketmode.New(
		api,
		socketmode.OptionLog(log.New(log.Writer(), "slack-socketmode: ", log.LstdFlags)),
	)

	return &Bot{
		api:          api,
		socketClient: socketClient,
		runner:       runner,
	}
}

// Name returns the channel name.
func (b *Bot) Name() string { return "slack" }

// Run connects to Slack via Socket Mode and processes events. It returns
// once the connection ends and every mention handler has replied.
func (b *Bot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.eventLoop(ctx)
	}()

	log.Println("Slack bot connecting via Socket Mode...")
	err := b.socketClient.RunContext(ctx)
	cancel()
	b.wg.Wait()
	return err
}

func (b *Bot) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socketClient.Events:
			if !ok {
				return
			}
			b.handleEvent(ctx, evt)
		}
	}
}

func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		log.Println("Slack: connecting...")
	case socketmode.EventTypeConnected:
		log.Println("Slack: connected")
	case socketmode.EventTypeConnectionError:
		log.Println("Slack: connection error, will retry...")
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		b.socketClient.Ack(*evt.Request)

		if eventsAPIEvent.Type == slackevents.CallbackEvent {
			if ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.AppMentionEvent); ok {
				b.dispatch(ctx, ev)
			}
		}
	case socketmode.EventTypeInteractive:
		b.socketClient.Ack(*evt.Request)
	}
}

// dispatch handles a mention in the background.
func (b *Bot) dispatch(ctx context.Context, ev *slackevents.AppMentionEvent) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.handleMention(ctx, ev)
	}()
}

func (b *Bot) handleMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	prompt := stripMention(ev.Text)

	threadTS := ev.TimeStamp
	if ev.ThreadTimeStamp != "" {
		threadTS = ev.ThreadTimeStamp
	}

	if prompt == "" {
		b.postThread(ev.Channel, threadTS,
			"Please include a prompt. Example:\n`@bedrockcall why is gold the best color?`")
		return
	}

	inv, err := b.runner.Run(ctx, b.Name(), prompt)
	if err != nil {
		b.postThread(ev.Channel, threadTS, fmt.Sprintf(":x: *Error:* %s", err))
		return
	}

	if len(inv.Texts) == 0 {
		b.postThread(ev.Channel, threadTS, "_(empty reply)_")
	}
	for _, text := range inv.Texts {
		b.postThread(ev.Channel, threadTS, text)
	}
	b.postSummary(ev.Channel, threadTS, inv)
}

// postSummary adds a context block naming the invocation so it can be found
// with `bedrockcall history show`.
func (b *Bot) postSummary(channel, threadTS string, inv *model.Invocation) {
	if inv.ID == "" {
		return
	}
	contextBlock := slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("Invocation `%s` | Model `%s` | %d part(s)", inv.ID, inv.ModelID, len(inv.Texts)),
			false, false),
	)

	_, _, err := b.api.PostMessage(channel,
		slack.MsgOptionBlocks(contextBlock),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		log.Printf("Slack: failed to post summary: %v", err)
	}
}

func (b *Bot) postThread(channel, threadTS, text string) {
	_, _, err := b.api.PostMessage(channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		log.Printf("Slack: failed to post message to %s: %v", channel, err)
	}
}

// stripMention removes leading user mentions such as "<@U123ABC>".
func stripMention(text string) string {
	text = strings.TrimSpace(text)
	for strings.HasPrefix(text, "<@") {
		end := strings.Index(text, ">")
		if end < 0 {
			break
		}
		text = strings.TrimSpace(text[end+1:])
	}
	return text
}
