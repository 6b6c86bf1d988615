package telegram

import (
	"bytes"
	"context"
	"runtime"

	"price-alert-bot/lib/helpers"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// NewBot creates new telegram bot. Commands must be set before updates are handled.
func NewBot(c BotConfig) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(c.Token)
	if err != nil {
		return nil, errors.Wrap(err, "could not create telegram bot")
	}

	bot.Debug = c.Debug

	return &Bot{
		Bot:    bot,
		Config: c,
		sender: bot,
	}, nil
}

// GetUpdatesChannel gets new updates updates
func (b *Bot) GetUpdatesChannel() (tgbotapi.UpdatesChannel, error) {
	updatesConfig := tgbotapi.NewUpdate(0)
	if b.Config.UpdatesTimeout > 0 {
		updatesConfig.Timeout = b.Config.UpdatesTimeout
	}
	return b.Bot.GetUpdatesChan(updatesConfig), nil
}

// SendMessage sends a telegram message
func (b *Bot) SendMessage(m Message) error {
	msg := tgbotapi.NewMessage(m.ChatID, m.Text)
	msg.ReplyToMessageID = m.MessageID
	msg.DisableWebPagePreview = true
	msg.ParseMode = "MarkdownV2"
	_, err := b.sender.Send(msg)
	return errors.Wrapf(err, "could not send message: %v", m)
}

// HandleUpdate runs the command carried by u and returns the escaped reply.
// Updates that are not commands get an empty reply.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) string {
	if u.Message == nil || !u.Message.IsCommand() {
		return ""
	}

	text := b.Commands.Run(ctx, u.Message.Command(), u.Message.CommandArguments())
	return helpers.EscapeMarkdownV2(text)
}

// HandleUpdates answers commands until updates is closed or ctx is done.
func (b *Bot) HandleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				log.Debug("Received non-message update")
				continue
			}
			b.handleCommand(ctx, update)
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			stackBuf := make([]byte, 1024)
			stackSize := runtime.Stack(stackBuf, false)
			stackTrace := bytes.TrimRight(stackBuf[:stackSize], "\x00")
			log.Errorf("Recovered from panic: %v\nStack trace: %s", r, stackTrace)
		}
	}()

	text := b.HandleUpdate(ctx, update)
	if text == "" {
		return
	}

	err := b.SendMessage(Message{
		ChatID:    update.Message.Chat.ID,
		Text:      text,
		MessageID: update.Message.MessageID,
	})
	if err != nil {
		log.Errorf("Failed to send message: %v", err)
	}
}
