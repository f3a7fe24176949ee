package channel

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"hookbridge/internal/domain"
)

const (
	discordMaxMsgLen = 2000
	discordMaxEmbeds = 10
)

// discordAPI is the subset of *discordgo.Session used for delivery.
type discordAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Discord delivers messages through a Discord bot session.
type Discord struct {
	name    string
	token   string
	session *discordgo.Session
	api     discordAPI
	logger  *slog.Logger
}

// DiscordConfig configures the Discord bot.
type DiscordConfig struct {
	Name   string
	Token  string
	Logger *slog.Logger
}

// NewDiscord creates a new Discord bot handler.
func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Name == "" {
		cfg.Name = "discord"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		name:   cfg.Name,
		token:  cfg.Token,
		logger: cfg.Logger,
	}
}

func (d *Discord) Name() string     { return d.name }
func (d *Discord) Platform() string { return "discord" }

// Connect opens the gateway session.
func (d *Discord) Connect(ctx context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsDirectMessages
	session.ShouldRetryOnRateLimit = false

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.session = session
	d.api = session

	user := ""
	if session.State != nil && session.State.User != nil {
		user = session.State.User.Username
	}
	d.logger.Info("discord bot connected", "bot", d.name, "user", user)
	return nil
}

func (d *Discord) Close() error {
	if d.session == nil {
		return nil
	}
	d.logger.Info("discord bot disconnecting", "bot", d.name)
	return d.session.Close()
}

func (d *Discord) SendChannel(ctx context.Context, channelID string, msg domain.Message) error {
	if d.api == nil {
		return fmt.Errorf("discord bot %s not connected", d.name)
	}
	return d.send(ctx, channelID, msg)
}

// SendPrivate opens (or reuses) the DM channel with userID and sends there.
func (d *Discord) SendPrivate(ctx context.Context, userID string, msg domain.Message) error {
	if d.api == nil {
		return fmt.Errorf("discord bot %s not connected", d.name)
	}
	ch, err := d.api.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord open dm with %s: %w", userID, err)
	}
	return d.send(ctx, ch.ID, msg)
}

// formatDiscordContent renders text and mentions as message content.
func formatDiscordContent(msg domain.Message) string {
	var sb strings.Builder
	for _, el := range msg.Elements {
		switch el.Kind {
		case domain.ElementText:
			sb.WriteString(el.Text)
		case domain.ElementMention:
			fmt.Fprintf(&sb, "<@%s>", el.UserID)
		}
	}
	return strings.TrimSpace(sb.String())
}

// discordAttachments turns images into embeds (URLs) and files (data URIs).
func discordAttachments(msg domain.Message) ([]*discordgo.MessageEmbed, []*discordgo.File, error) {
	var (
		embeds []*discordgo.MessageEmbed
		files  []*discordgo.File
	)
	for i, img := range msg.Images() {
		if !img.IsDataURI() {
			embeds = append(embeds, &discordgo.MessageEmbed{
				Image: &discordgo.MessageEmbedImage{URL: img.Source},
			})
			continue
		}
		mediaType, data, err := img.DataURI()
		if err != nil {
			return nil, nil, fmt.Errorf("image %d: %w", i+1, err)
		}
		files = append(files, &discordgo.File{
			Name:        img.FileName(i),
			ContentType: mediaType,
			Reader:      bytes.NewReader(data),
		})
	}
	return embeds, files, nil
}

func (d *Discord) send(ctx context.Context, channelID string, msg domain.Message) error {
	content := formatDiscordContent(msg)
	embeds, files, err := discordAttachments(msg)
	if err != nil {
		return err
	}

	chunks := splitMessage(content, discordMaxMsgLen)
	if content == "" {
		chunks = nil
	}
	// Long text goes out first; attachments ride on the final message.
	for len(chunks) > 1 {
		if _, err := d.api.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Content: chunks[0]}, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send to %s: %w", channelID, err)
		}
		chunks = chunks[1:]
	}

	last := ""
	if len(chunks) == 1 {
		last = chunks[0]
	}
	if last == "" && len(embeds) == 0 && len(files) == 0 {
		return nil
	}

	for first := true; first || len(embeds) > 0; first = false {
		batch := embeds
		if len(batch) > discordMaxEmbeds {
			batch = embeds[:discordMaxEmbeds]
		}
		embeds = embeds[len(batch):]

		data := &discordgo.MessageSend{Content: last, Embeds: batch}
		if first {
			data.Files = files
		}
		if _, err := d.api.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send to %s: %w", channelID, err)
		}
		last = ""
	}
	return nil
}
