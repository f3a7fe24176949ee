package channel

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"hookbridge/internal/domain"
)

const (
	telegramMaxMsgLen     = 4000
	telegramMaxCaptionLen = 1024
	telegramMaxMediaGroup = 10
)

// telegramAPI is the subset of *tgbotapi.BotAPI used for delivery.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
}

// Telegram delivers messages through a Telegram bot.
type Telegram struct {
	name        string
	token       string
	apiEndpoint string

	api    telegramAPI
	logger *slog.Logger
}

type TelegramConfig struct {
	Name        string
	Token       string
	APIEndpoint string // defaults to the public Bot API
	Logger      *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Name == "" {
		cfg.Name = "telegram"
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		name:        cfg.Name,
		token:       cfg.Token,
		apiEndpoint: cfg.APIEndpoint,
		logger:      cfg.Logger,
	}
}

func (t *Telegram) Name() string     { return t.name }
func (t *Telegram) Platform() string { return "telegram" }

// Connect authenticates the bot token.
func (t *Telegram) Connect(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(t.token, t.apiEndpoint)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.api = bot
	t.logger.Info("telegram bot connected", "bot", t.name, "username", bot.Self.UserName, "id", bot.Self.ID)
	return nil
}

func (t *Telegram) Close() error { return nil }

func (t *Telegram) SendChannel(ctx context.Context, channelID string, msg domain.Message) error {
	return t.send(ctx, channelID, msg)
}

// SendPrivate sends to a user's private chat; Telegram uses the user id as
// the chat id.
func (t *Telegram) SendPrivate(ctx context.Context, userID string, msg domain.Message) error {
	return t.send(ctx, userID, msg)
}

// telegramChat addresses either a numeric chat id or a public @channel.
type telegramChat struct {
	id       int64
	username string
}

func parseTelegramChat(s string) (telegramChat, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "@") {
		return telegramChat{username: s}, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return telegramChat{}, fmt.Errorf("invalid telegram chat id %q: %w", s, err)
	}
	return telegramChat{id: id}, nil
}

// formatTelegramHTML renders the non-image elements as Telegram HTML.
func formatTelegramHTML(msg domain.Message) string {
	var sb strings.Builder
	for _, el := range msg.Elements {
		switch el.Kind {
		case domain.ElementText:
			sb.WriteString(html.EscapeString(el.Text))
		case domain.ElementMention:
			fmt.Fprintf(&sb, `<a href="tg://user?id=%s">@%s</a>`, el.UserID, el.UserID)
		}
	}
	return strings.TrimSpace(sb.String())
}

func telegramFile(el domain.Element, index int) (tgbotapi.RequestFileData, error) {
	if !el.IsDataURI() {
		return tgbotapi.FileURL(el.Source), nil
	}
	_, data, err := el.DataURI()
	if err != nil {
		return nil, err
	}
	return tgbotapi.FileBytes{Name: el.FileName(index), Bytes: data}, nil
}

func (t *Telegram) send(ctx context.Context, chatID string, msg domain.Message) error {
	if t.api == nil {
		return fmt.Errorf("telegram bot %s not connected", t.name)
	}
	chat, err := parseTelegramChat(chatID)
	if err != nil {
		return err
	}

	text := formatTelegramHTML(msg)
	images := msg.Images()
	if len(images) == 0 {
		if text == "" {
			return nil
		}
		return t.sendText(ctx, chat, text)
	}

	caption := text
	if telegramTextLen(caption) > telegramMaxCaptionLen {
		if err := t.sendText(ctx, chat, text); err != nil {
			return err
		}
		caption = ""
	}

	files := make([]tgbotapi.RequestFileData, 0, len(images))
	for i, img := range images {
		f, err := telegramFile(img, i)
		if err != nil {
			return fmt.Errorf("image %d: %w", i+1, err)
		}
		files = append(files, f)
	}

	if len(files) == 1 {
		photo := tgbotapi.PhotoConfig{
			BaseFile: tgbotapi.BaseFile{
				BaseChat: tgbotapi.BaseChat{ChatID: chat.id, ChannelUsername: chat.username},
				File:     files[0],
			},
			Caption: caption,
		}
		if caption != "" {
			photo.ParseMode = tgbotapi.ModeHTML
		}
		return t.call(ctx, func() error {
			_, err := t.api.Send(photo)
			return err
		})
	}

	for start := 0; start < len(files); start += telegramMaxMediaGroup {
		end := min(start+telegramMaxMediaGroup, len(files))
		media := make([]any, 0, end-start)
		for i, f := range files[start:end] {
			p := tgbotapi.NewInputMediaPhoto(f)
			if start == 0 && i == 0 && caption != "" {
				p.Caption = caption
				p.ParseMode = tgbotapi.ModeHTML
			}
			media = append(media, p)
		}
		group := tgbotapi.MediaGroupConfig{ChatID: chat.id, ChannelUsername: chat.username, Media: media}
		if err := t.call(ctx, func() error {
			_, err := t.api.SendMediaGroup(group)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) sendText(ctx context.Context, chat telegramChat, text string) error {
	for _, chunk := range splitHTML(text, telegramMaxMsgLen) {
		if err := t.sendChunk(ctx, chat, chunk); err != nil {
			return err
		}
	}
	return nil
}

// telegramTextLen counts what Telegram checks against its limits: the
// visible text left after HTML parsing, in UTF-16 code units.
func telegramTextLen(htmlText string) int {
	var sb strings.Builder
	inTag := false
	for _, r := range htmlText {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	n := 0
	for _, r := range html.UnescapeString(sb.String()) {
		n += utf16.RuneLen(r)
	}
	return n
}

// sendChunk sends one text message. HTML that Telegram refuses to parse is
// resent as plain text.
func (t *Telegram) sendChunk(ctx context.Context, chat telegramChat, text string) error {
	msg := tgbotapi.MessageConfig{
		BaseChat:  tgbotapi.BaseChat{ChatID: chat.id, ChannelUsername: chat.username},
		Text:      text,
		ParseMode: tgbotapi.ModeHTML,
	}
	return t.call(ctx, func() error {
		_, err := t.api.Send(msg)
		if err != nil && msg.ParseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
			t.logger.Warn("telegram html parse error, sending as plain text", "err", err)
			msg.ParseMode = ""
			msg.Text = html.UnescapeString(text)
			_, err = t.api.Send(msg)
		}
		return err
	})
}

// call runs one Bot API request. Failures are returned as is; the
// dispatcher logs them and moves on.
func (t *Telegram) call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
