// Package bot is the Telegram front end. Commands are answered directly;
// everything else goes through the agent.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/calpilot/internal/logging"
)

// ErrUpdatesClosed is returned by Start when Telegram stops delivering
// updates without ctx being canceled.
var ErrUpdatesClosed = errors.New("telegram update channel closed")

// Poller is the part of *tgbotapi.BotAPI the bot reads updates from.
type Poller interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Handler answers one incoming message. Implemented by *handlers.Handlers.
type Handler interface {
	HandleCommand(ctx context.Context, msg *tgbotapi.Message)
	HandleMessage(ctx context.Context, msg *tgbotapi.Message)
}

type Bot struct {
	poller  Poller
	handler Handler
	account string
	logger  *slog.Logger

	inflight sync.WaitGroup
}

func New(api *tgbotapi.BotAPI, h Handler, logger *slog.Logger) *Bot {
	return newBot(api, api.Self.UserName, h, logger)
}

func newBot(p Poller, account string, h Handler, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{poller: p, handler: h, account: account, logger: logging.WithOperation(logger, "telegram")}
}

// Start polls for updates until ctx is canceled or the update channel
// closes. Every message is handled on its own goroutine under ctx: a
// canceled ctx ends the event streams of running turns, while tools they
// already dispatched finish. Start returns only after all handlers have.
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("authorized", slog.String("account", b.account))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.poller.GetUpdatesChan(u)
	defer b.inflight.Wait()
	defer b.poller.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("stopping, waiting for running turns")
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return ErrUpdatesClosed
			}
			b.dispatch(ctx, update)
		}
	}
}

// dispatch hands a message to the handler. Edits, callbacks and channel
// posts carry no Message and are dropped.
func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		return
	}

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		defer func() {
			if p := recover(); p != nil {
				b.logger.Error("handler panicked",
					slog.Int("update", update.UpdateID),
					slog.Int64("chat", msg.Chat.ID),
					slog.Any("panic", p))
			}
		}()

		if msg.IsCommand() {
			b.handler.HandleCommand(ctx, msg)
			return
		}
		b.handler.HandleMessage(ctx, msg)
	}()
}
