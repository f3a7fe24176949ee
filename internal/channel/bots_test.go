package channel

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookbridge/internal/domain"
)

const pngURI = "data:image/png;base64,QUJD"

func richMessage() domain.Message {
	return domain.Message{Elements: []domain.Element{
		domain.Text("build <ok> & done "),
		domain.Mention("42"),
		domain.Image("https://x.test/a.png"),
		domain.Image(pngURI),
	}}
}

// --- Telegram ---

type fakeTelegram struct {
	sent   []tgbotapi.Chattable
	groups []tgbotapi.MediaGroupConfig
	errs   []error
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return tgbotapi.Message{}, err
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeTelegram) SendMediaGroup(c tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error) {
	f.groups = append(f.groups, c)
	return nil, nil
}

func newFakeTelegram() (*Telegram, *fakeTelegram) {
	fake := &fakeTelegram{}
	tg := NewTelegram(TelegramConfig{Name: "tg", Token: "t", Logger: testWebhookLogger()})
	tg.api = fake
	return tg, fake
}

func TestFormatTelegramHTML(t *testing.T) {
	got := formatTelegramHTML(richMessage())
	assert.Equal(t, `build &lt;ok&gt; &amp; done <a href="tg://user?id=42">@42</a>`, got)
}

func TestTelegram_TextOnly(t *testing.T) {
	tg, fake := newFakeTelegram()
	msg := domain.Message{Elements: []domain.Element{domain.Text("hello")}}

	require.NoError(t, tg.SendChannel(context.Background(), "-100123", msg))
	require.Len(t, fake.sent, 1)
	m := fake.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, int64(-100123), m.ChatID)
	assert.Equal(t, "hello", m.Text)
	assert.Equal(t, tgbotapi.ModeHTML, m.ParseMode)
}

func TestTelegram_ChannelUsername(t *testing.T) {
	tg, fake := newFakeTelegram()
	msg := domain.Message{Elements: []domain.Element{domain.Text("hello")}}

	require.NoError(t, tg.SendChannel(context.Background(), "@news", msg))
	m := fake.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, "@news", m.ChannelUsername)
}

func TestTelegram_SinglePhotoWithCaption(t *testing.T) {
	tg, fake := newFakeTelegram()
	msg := domain.Message{Elements: []domain.Element{domain.Text("look"), domain.Image(pngURI)}}

	require.NoError(t, tg.SendPrivate(context.Background(), "7", msg))
	require.Len(t, fake.sent, 1)
	photo := fake.sent[0].(tgbotapi.PhotoConfig)
	assert.Equal(t, "look", photo.Caption)
	assert.Equal(t, tgbotapi.ModeHTML, photo.ParseMode)
	file, ok := photo.File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.Equal(t, []byte("ABC"), file.Bytes)
}

func TestTelegram_MediaGroup(t *testing.T) {
	tg, fake := newFakeTelegram()

	require.NoError(t, tg.SendChannel(context.Background(), "1", richMessage()))
	assert.Empty(t, fake.sent)
	require.Len(t, fake.groups, 1)
	media := fake.groups[0].Media
	require.Len(t, media, 2)
	first := media[0].(tgbotapi.InputMediaPhoto)
	assert.Contains(t, first.Caption, "tg://user?id=42")
	assert.Equal(t, tgbotapi.FileURL("https://x.test/a.png"), first.Media)
	assert.Empty(t, media[1].(tgbotapi.InputMediaPhoto).Caption)
}

func TestTelegram_LongCaptionSentAsTextFirst(t *testing.T) {
	tg, fake := newFakeTelegram()
	msg := domain.Message{Elements: []domain.Element{
		domain.Text(strings.Repeat("x", telegramMaxCaptionLen+1)),
		domain.Image("https://x.test/a.png"),
	}}

	require.NoError(t, tg.SendChannel(context.Background(), "1", msg))
	require.Len(t, fake.sent, 2)
	_, isText := fake.sent[0].(tgbotapi.MessageConfig)
	assert.True(t, isText)
	assert.Empty(t, fake.sent[1].(tgbotapi.PhotoConfig).Caption)
}

func TestTelegram_CaptionLimitCountsVisibleText(t *testing.T) {
	tg, fake := newFakeTelegram()
	msg := domain.Message{Elements: []domain.Element{
		domain.Text(strings.Repeat("&", telegramMaxCaptionLen)),
		domain.Image("https://x.test/a.png"),
	}}

	require.NoError(t, tg.SendChannel(context.Background(), "1", msg))
	require.Len(t, fake.sent, 1)
	photo := fake.sent[0].(tgbotapi.PhotoConfig)
	assert.Equal(t, strings.Repeat("&amp;", telegramMaxCaptionLen), photo.Caption)
}

func TestTelegramTextLen(t *testing.T) {
	assert.Equal(t, 9, telegramTextLen(`a &amp; <a href="tg://user?id=1">@1</a> 😀`))
	assert.Equal(t, 0, telegramTextLen(""))
}

func TestTelegram_ParseErrorFallsBackToPlain(t *testing.T) {
	tg, fake := newFakeTelegram()
	fake.errs = []error{errors.New("Bad Request: can't parse entities")}
	msg := domain.Message{Elements: []domain.Element{domain.Text("a & b")}}

	require.NoError(t, tg.SendChannel(context.Background(), "1", msg))
	require.Len(t, fake.sent, 2)
	plain := fake.sent[1].(tgbotapi.MessageConfig)
	assert.Empty(t, plain.ParseMode)
	assert.Equal(t, "a & b", plain.Text)
}

func TestTelegram_FailureIsReturnedOnce(t *testing.T) {
	tg, fake := newFakeTelegram()
	fake.errs = []error{errors.New("Too Many Requests: retry after 5")}
	msg := domain.Message{Elements: []domain.Element{domain.Text("x")}}

	err := tg.SendChannel(context.Background(), "1", msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Too Many Requests")
	assert.Len(t, fake.sent, 1)
}

func TestTelegram_CancelledContextSendsNothing(t *testing.T) {
	tg, fake := newFakeTelegram()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg := domain.Message{Elements: []domain.Element{domain.Text("x")}}
	assert.ErrorIs(t, tg.SendChannel(ctx, "1", msg), context.Canceled)
	assert.Empty(t, fake.sent)
}

func TestTelegram_InvalidChatAndNotConnected(t *testing.T) {
	tg, _ := newFakeTelegram()
	assert.Error(t, tg.SendChannel(context.Background(), "abc", richMessage()))

	idle := NewTelegram(TelegramConfig{Token: "t"})
	assert.Error(t, idle.SendChannel(context.Background(), "1", richMessage()))
}

// --- Discord ---

type fakeDiscord struct {
	sends []*discordgo.MessageSend
	dms   []string
}

func (f *fakeDiscord) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.sends = append(f.sends, data)
	return &discordgo.Message{}, nil
}

func (f *fakeDiscord) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.dms = append(f.dms, recipientID)
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func TestDiscord_Send(t *testing.T) {
	fake := &fakeDiscord{}
	d := NewDiscord(DiscordConfig{Name: "dc", Logger: testWebhookLogger()})
	d.api = fake

	require.NoError(t, d.SendChannel(context.Background(), "c1", richMessage()))
	require.Len(t, fake.sends, 1)
	sent := fake.sends[0]
	assert.Equal(t, "build <ok> & done <@42>", sent.Content)
	require.Len(t, sent.Embeds, 1)
	assert.Equal(t, "https://x.test/a.png", sent.Embeds[0].Image.URL)
	require.Len(t, sent.Files, 1)
	assert.Equal(t, "image/png", sent.Files[0].ContentType)
	data, err := io.ReadAll(sent.Files[0].Reader)
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(data))
}

func TestDiscord_LongContentSplit(t *testing.T) {
	fake := &fakeDiscord{}
	d := NewDiscord(DiscordConfig{Logger: testWebhookLogger()})
	d.api = fake

	msg := domain.Message{Elements: []domain.Element{
		domain.Text(strings.Repeat("y", discordMaxMsgLen+10)),
		domain.Image("https://x.test/a.png"),
	}}
	require.NoError(t, d.SendChannel(context.Background(), "c1", msg))
	require.Len(t, fake.sends, 2)
	assert.Empty(t, fake.sends[0].Embeds)
	assert.Len(t, fake.sends[1].Embeds, 1)
}

func TestDiscord_Private(t *testing.T) {
	fake := &fakeDiscord{}
	d := NewDiscord(DiscordConfig{Logger: testWebhookLogger()})
	d.api = fake

	msg := domain.Message{Elements: []domain.Element{domain.Text("hi")}}
	require.NoError(t, d.SendPrivate(context.Background(), "99", msg))
	assert.Equal(t, []string{"99"}, fake.dms)
}

// --- Slack ---

type fakeSlack struct {
	posts   []string
	uploads []slack.UploadFileV2Parameters
	opened  []string
}

func (f *fakeSlack) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.posts = append(f.posts, channelID)
	return channelID, "1.0", nil
}

func (f *fakeSlack) UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error) {
	f.uploads = append(f.uploads, params)
	return &slack.FileSummary{ID: "F1"}, nil
}

func (f *fakeSlack) OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error) {
	f.opened = append(f.opened, params.Users...)
	ch := &slack.Channel{}
	ch.ID = "D" + params.Users[0]
	return ch, false, false, nil
}

func TestFormatSlackText(t *testing.T) {
	assert.Equal(t, "build &lt;ok&gt; &amp; done <@42>", formatSlackText(richMessage()))
}

func TestSlackBlocks(t *testing.T) {
	msg := richMessage()
	blocks := slackBlocks(formatSlackText(msg), msg)
	require.Len(t, blocks, 2)
	assert.Equal(t, slack.MBTSection, blocks[0].BlockType())
	assert.Equal(t, slack.MBTImage, blocks[1].BlockType())

	long := strings.Repeat("z", slackMaxSectionLen+1)
	assert.Empty(t, slackBlocks(long, domain.Message{}))
}

func TestSlack_SendUploadsDataImages(t *testing.T) {
	fake := &fakeSlack{}
	s := NewSlack(SlackConfig{Name: "sl", Logger: testWebhookLogger()})
	s.api = fake

	require.NoError(t, s.SendPrivate(context.Background(), "U1", richMessage()))
	assert.Equal(t, []string{"U1"}, fake.opened)
	assert.Equal(t, []string{"DU1"}, fake.posts)
	require.Len(t, fake.uploads, 1)
	assert.Equal(t, "DU1", fake.uploads[0].Channel)
	assert.Equal(t, 3, fake.uploads[0].FileSize)
	assert.Equal(t, "image2.png", fake.uploads[0].Filename)
}

func TestSlack_NotConnected(t *testing.T) {
	s := NewSlack(SlackConfig{})
	assert.Error(t, s.SendChannel(context.Background(), "C1", richMessage()))
}
