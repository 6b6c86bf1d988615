package notify

import (
	"context"
	"io"
	"sync"

	"price-alert-bot/internal/types"
	"price-alert-bot/lib/helpers"
	"price-alert-bot/lib/translation"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Sender is the part of the Telegram bot API used to deliver messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts alert notifications to a fixed set of chats.
type Telegram struct {
	sender  Sender
	chatIDs []int64
}

func NewTelegram(sender Sender, chatIDs ...int64) *Telegram {
	return &Telegram{sender: sender, chatIDs: chatIDs}
}

func (t *Telegram) Notify(ctx context.Context, n types.Notification) error {
	text := translation.Translate(
		"🚨 *Price Alert Triggered*\n\n*%s* is %s the target price of *$%s*\nCurrent Price: *$%s*",
		helpers.EscapeMarkdownV2(n.Symbol),
		helpers.EscapeMarkdownV2(translation.Translate(string(n.Direction))),
		helpers.FormatPriceUS(n.Threshold, true),
		helpers.FormatPriceUS(n.Price, true),
	)
	return t.broadcast(ctx, text)
}

func (t *Telegram) Confirm(ctx context.Context, r types.Removal) error {
	return t.broadcast(ctx, helpers.EscapeMarkdownV2(confirmation(r)))
}

func (t *Telegram) broadcast(ctx context.Context, text string) error {
	if len(t.chatIDs) == 0 {
		return errors.New("no chat configured for notifications")
	}

	var failed error
	for _, chatID := range t.chatIDs {
		if err := t.send(ctx, chatID, text); err != nil {
			log.Errorf("❌ Failed to send alert message to Chat ID %d: %v", chatID, err)
			failed = err
			continue
		}
		log.Debugf("✅ Alert message sent to Chat ID: %d", chatID)
	}
	return failed
}

// send gives up when ctx is done; the bot API call itself is bounded by its HTTP client.
func (t *Telegram) send(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	msg.ParseMode = "MarkdownV2"

	errCh := make(chan error, 1)
	go func() {
		_, err := t.sender.Send(msg)
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "could not send message to %d", chatID)
	case err := <-errCh:
		return errors.Wrapf(err, "could not send message to %d", chatID)
	}
}

// Console prints notifications as plain lines, for the interactive mode. It is also the
// writer the interactive prompt prints through, so notification lines never split a prompt line.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	// midLine is set while the last write did not end a line, e.g. after a prompt.
	midLine bool
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.write(p)
}

func (c *Console) write(p []byte) (int, error) {
	n, err := c.out.Write(p)
	if n > 0 {
		c.midLine = p[n-1] != '\n'
	}
	return n, err
}

func (c *Console) Notify(_ context.Context, n types.Notification) error {
	return c.println(translation.Translate(
		"ALERT: %s price is %s %s (Current: %s)",
		n.Symbol,
		translation.Translate(string(n.Direction)),
		helpers.FormatPriceUS(n.Threshold, false),
		helpers.FormatPriceUS(n.Price, false),
	))
}

func (c *Console) Confirm(_ context.Context, r types.Removal) error {
	return c.println(confirmation(r))
}

func (c *Console) println(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.midLine {
		line = "\n" + line
	}
	_, err := c.write([]byte(line + "\n"))
	return errors.Wrap(err, "could not write notification")
}

func confirmation(r types.Removal) string {
	var text string
	switch r.Request.Reason {
	case types.ReasonTriggered:
		text = translation.Translate("Alert for %s removed.", r.Request.Symbol)
	default:
		text = translation.Translate("Alert for %s canceled.", r.Request.Symbol)
	}

	if r.Err != nil {
		text += " " + translation.Translate("It could not be deleted from storage and may come back after a restart.")
	}
	return text
}
