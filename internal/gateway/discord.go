package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMessage = 2000

type DiscordGateway struct {
	Session *discordgo.Session
	Chat    *ChatHandler
	log     *slog.Logger
	queues  *chatQueues
}

func NewDiscordGateway(token string, chat *ChatHandler, log *slog.Logger) (*DiscordGateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	// Handlers run on the event goroutine so messages reach the queues in order.
	s.SyncEvents = true

	return &DiscordGateway{Session: s, Chat: chat, log: log, queues: newChatQueues()}, nil
}

func (dg *DiscordGateway) Name() string { return "discord" }

func discordUserID(channelID string) string {
	return "dc:" + channelID
}

// Start opens the websocket and blocks until ctx is cancelled. Messages from
// one channel are handled in arrival order.
func (dg *DiscordGateway) Start(ctx context.Context) error {
	remove := dg.Session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		channelID, text := m.ChannelID, m.Content
		dg.queues.Submit(discordUserID(channelID), func() {
			dg.handle(ctx, channelID, text)
		})
	})
	defer dg.queues.Wait()
	defer remove()

	if err := dg.Session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	dg.log.Info("discord gateway connected")

	<-ctx.Done()
	return dg.Stop(context.Background())
}

func (dg *DiscordGateway) handle(ctx context.Context, channelID, text string) {
	userID := discordUserID(channelID)
	dg.log.Debug("discord message", "user_id", userID)

	reply := dg.Chat.HandleText(ctx, userID, text)
	if reply == "" {
		return
	}
	if _, err := dg.Session.ChannelMessageSend(channelID, truncate(reply, discordMaxMessage)); err != nil {
		dg.log.Warn("discord send failed", "user_id", userID, "error", err)
	}
}

func (dg *DiscordGateway) Stop(ctx context.Context) error {
	return dg.Session.Close()
}
