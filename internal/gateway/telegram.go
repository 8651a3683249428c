package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramMaxMessage = 4096

type TelegramGateway struct {
	Bot  *tgbotapi.BotAPI
	Chat *ChatHandler
	log    *slog.Logger
	queues *chatQueues
	stop   sync.Once
}

func NewTelegramGateway(token string, chat *ChatHandler, log *slog.Logger) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Info("telegram authorized", "account", bot.Self.UserName)

	return &TelegramGateway{
		Bot:    bot,
		Chat:   chat,
		log:    log,
		queues: newChatQueues(),
	}, nil
}

func (tg *TelegramGateway) Name() string { return "telegram" }

func telegramUserID(chatID int64) string {
	return fmt.Sprintf("tg:%d", chatID)
}

// Start polls for updates until ctx is cancelled. Messages from one chat are
// handled in the order they arrived; different chats run concurrently.
func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)
	defer tg.queues.Wait()

	for {
		select {
		case <-ctx.Done():
			return tg.Stop(context.Background())
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			msg := update.Message
			tg.queues.Submit(telegramUserID(msg.Chat.ID), func() {
				tg.handle(ctx, msg.Chat.ID, msg.Text)
			})
		}
	}
}

func (tg *TelegramGateway) handle(ctx context.Context, chatID int64, text string) {
	userID := telegramUserID(chatID)
	tg.log.Debug("telegram message", "user_id", userID)

	reply := tg.Chat.HandleText(ctx, userID, text)
	if reply == "" {
		return
	}
	if err := tg.Send(chatID, reply); err != nil {
		tg.log.Warn("telegram send failed", "user_id", userID, "error", err)
	}
}

func (tg *TelegramGateway) Send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, truncate(text, telegramMaxMessage))
	_, err := tg.Bot.Send(msg)
	return err
}

// Stop is safe to call more than once.
func (tg *TelegramGateway) Stop(ctx context.Context) error {
	tg.stop.Do(tg.Bot.StopReceivingUpdates)
	return nil
}
