package telegram

import (
	"context"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type recordingRunner struct {
	command, args string
	reply         string
	panics        bool
}

func (r *recordingRunner) Run(_ context.Context, command, args string) string {
	if r.panics {
		panic("boom")
	}
	r.command, r.args = command, args
	return r.reply
}

type recordingSender struct {
	sent []tgbotapi.MessageConfig
}

func (s *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.sent = append(s.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func commandUpdate(text string, length int) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 9,
		Text:      text,
		Chat:      &tgbotapi.Chat{ID: 5},
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}},
	}}
}

func TestHandleUpdateRunsCommand(t *testing.T) {
	runner := &recordingRunner{reply: "Alert set for AAPL above 150.5"}
	b := &Bot{Commands: runner}

	got := b.HandleUpdate(context.Background(), commandUpdate("/alert@price_bot AAPL 150.5 above", 16))
	if runner.command != "alert" || runner.args != "AAPL 150.5 above" {
		t.Fatalf("ran %q %q, want alert with arguments", runner.command, runner.args)
	}
	if want := "Alert set for AAPL above 150\\.5"; got != want {
		t.Fatalf("reply = %q, want %q", got, want)
	}
}

func TestHandleUpdateIgnoresPlainText(t *testing.T) {
	runner := &recordingRunner{reply: "unexpected"}
	b := &Bot{Commands: runner}

	update := tgbotapi.Update{Message: &tgbotapi.Message{Text: "hello", Chat: &tgbotapi.Chat{ID: 5}}}
	if got := b.HandleUpdate(context.Background(), update); got != "" {
		t.Fatalf("reply = %q, want empty", got)
	}
	if got := b.HandleUpdate(context.Background(), tgbotapi.Update{}); got != "" {
		t.Fatalf("reply to empty update = %q, want empty", got)
	}
}

func TestHandleUpdatesRepliesAndSurvivesPanics(t *testing.T) {
	runner := &recordingRunner{panics: true}
	sender := &recordingSender{}
	b := &Bot{Commands: runner, sender: sender}

	updates := make(chan tgbotapi.Update, 2)
	updates <- commandUpdate("/alerts", 7)
	updates <- tgbotapi.Update{}
	close(updates)
	b.HandleUpdates(context.Background(), updates)
	if len(sender.sent) != 0 {
		t.Fatalf("sent %d messages after panic, want 0", len(sender.sent))
	}

	runner.panics = false
	runner.reply = "No active alerts."
	updates = make(chan tgbotapi.Update, 1)
	updates <- commandUpdate("/alerts", 7)
	close(updates)
	b.HandleUpdates(context.Background(), updates)

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.ChatID != 5 || msg.ReplyToMessageID != 9 || msg.Text != "No active alerts\\." {
		t.Fatalf("message = %+v", msg)
	}
}
