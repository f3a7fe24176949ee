package channel

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/slack-go/slack"

	"hookbridge/internal/domain"
)

const (
	slackMaxMsgLen     = 4000
	slackMaxSectionLen = 3000
)

// slackAPI is the subset of *slack.Client used for delivery.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
}

// Slack delivers messages through the Slack Web API.
type Slack struct {
	name     string
	botToken string
	apiURL   string
	api      slackAPI
	logger   *slog.Logger
	botUID   string
}

// SlackConfig configures the Slack bot.
type SlackConfig struct {
	Name     string
	BotToken string
	APIURL   string // optional, for a Slack-compatible endpoint
	Logger   *slog.Logger
}

// NewSlack creates a new Slack bot handler.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Name == "" {
		cfg.Name = "slack"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{
		name:     cfg.Name,
		botToken: cfg.BotToken,
		apiURL:   cfg.APIURL,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string     { return s.name }
func (s *Slack) Platform() string { return "slack" }

// Connect verifies the bot token.
func (s *Slack) Connect(ctx context.Context) error {
	var opts []slack.Option
	if s.apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(s.apiURL))
	}
	api := slack.New(s.botToken, opts...)

	authResp, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.api = api
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "bot", s.name, "user", authResp.User, "user_id", authResp.UserID)
	return nil
}

func (s *Slack) Close() error { return nil }

func (s *Slack) SendChannel(ctx context.Context, channelID string, msg domain.Message) error {
	if s.api == nil {
		return fmt.Errorf("slack bot %s not connected", s.name)
	}
	return s.send(ctx, channelID, msg)
}

// SendPrivate opens the direct conversation with userID and sends there.
func (s *Slack) SendPrivate(ctx context.Context, userID string, msg domain.Message) error {
	if s.api == nil {
		return fmt.Errorf("slack bot %s not connected", s.name)
	}
	ch, _, _, err := s.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users:    []string{userID},
		ReturnIM: true,
	})
	if err != nil {
		return fmt.Errorf("slack open dm with %s: %w", userID, err)
	}
	return s.send(ctx, ch.ID, msg)
}

var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// formatSlackText renders text and mentions in Slack mrkdwn.
func formatSlackText(msg domain.Message) string {
	var sb strings.Builder
	for _, el := range msg.Elements {
		switch el.Kind {
		case domain.ElementText:
			sb.WriteString(slackEscaper.Replace(el.Text))
		case domain.ElementMention:
			fmt.Fprintf(&sb, "<@%s>", el.UserID)
		}
	}
	return strings.TrimSpace(sb.String())
}

// slackBlocks lays out text and URL images as blocks. Text too long for a
// section block is left to the message's plain text.
func slackBlocks(text string, msg domain.Message) []slack.Block {
	var blocks []slack.Block
	if text != "" && utf8.RuneCountInString(text) <= slackMaxSectionLen {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil))
	}
	for i, img := range msg.Images() {
		if img.IsDataURI() {
			continue
		}
		blocks = append(blocks, slack.NewImageBlock(img.Source, fmt.Sprintf("image %d", i+1), "", nil))
	}
	return blocks
}

func (s *Slack) send(ctx context.Context, channelID string, msg domain.Message) error {
	text := formatSlackText(msg)
	blocks := slackBlocks(text, msg)

	chunks := splitMessage(text, slackMaxMsgLen)
	if text == "" {
		chunks = nil
	}
	switch {
	case len(blocks) > 0:
		fallback := text
		if len(chunks) > 1 {
			// Text outgrew the section block; post it in pieces first.
			for _, chunk := range chunks {
				if err := s.post(ctx, channelID, slack.MsgOptionText(chunk, false)); err != nil {
					return err
				}
			}
			fallback = "image"
		}
		if err := s.post(ctx, channelID, slack.MsgOptionText(fallback, false), slack.MsgOptionBlocks(blocks...)); err != nil {
			return err
		}
	default:
		for _, chunk := range chunks {
			if err := s.post(ctx, channelID, slack.MsgOptionText(chunk, false)); err != nil {
				return err
			}
		}
	}

	for i, img := range msg.Images() {
		if !img.IsDataURI() {
			continue
		}
		_, data, err := img.DataURI()
		if err != nil {
			return fmt.Errorf("image %d: %w", i+1, err)
		}
		name := img.FileName(i)
		if _, err := s.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
			Reader:   bytes.NewReader(data),
			FileSize: len(data),
			Filename: name,
			Title:    name,
			Channel:  channelID,
		}); err != nil {
			return fmt.Errorf("slack upload to %s: %w", channelID, err)
		}
	}
	return nil
}

func (s *Slack) post(ctx context.Context, channelID string, opts ...slack.MsgOption) error {
	if _, _, err := s.api.PostMessageContext(ctx, channelID, opts...); err != nil {
		return fmt.Errorf("slack send to %s: %w", channelID, err)
	}
	return nil
}
