package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookbridge/internal/config"
	"hookbridge/internal/domain"
)

func TestMain(m *testing.M) {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	os.Exit(m.Run())
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSetupLogger(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "hookbridge.log")
	l, closeFn, err := setupLogger(config.LoggingConfig{Level: "debug", File: logFile})
	require.NoError(t, err)
	l.Debug("hello", "k", "v")
	closeFn()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=hello")

	_, _, err = setupLogger(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestRenderSource(t *testing.T) {
	cfg := config.Defaults()
	cfg.Listeners = []config.ListenerConfig{
		{URL: "github", Method: "post", Msg: "gh"},
		{URL: "status", Method: "get", Msg: "st"},
	}

	src, path, err := renderSource(cfg, renderOptions{listener: "github"})
	require.NoError(t, err)
	assert.Equal(t, "gh", src)
	assert.Equal(t, "/webhook/github", path)

	src, _, err = renderSource(cfg, renderOptions{listener: "/webhook/status"})
	require.NoError(t, err)
	assert.Equal(t, "st", src)

	_, _, err = renderSource(cfg, renderOptions{})
	assert.Error(t, err, "ambiguous without --listener")

	_, _, err = renderSource(cfg, renderOptions{listener: "nope"})
	assert.Error(t, err)

	file := writeTemp(t, "t.hbs", "from file")
	src, path, err = renderSource(cfg, renderOptions{templateFile: file})
	require.NoError(t, err)
	assert.Equal(t, "from file", src)
	assert.Equal(t, file, path)
}

func TestReadPayload(t *testing.T) {
	payload, err := readPayload([]string{writeTemp(t, "p.json", `{"id": 12345678901234567}`)}, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": json.Number("12345678901234567")}, payload)

	payload, err = readPayload([]string{writeTemp(t, "p.txt", "a=1&a=2")}, true)
	require.NoError(t, err)
	assert.Equal(t, url.Values{"a": {"1", "2"}}, payload)

	payload, err = readPayload([]string{writeTemp(t, "p.txt", "just text")}, false)
	require.NoError(t, err)
	assert.Equal(t, "just text", payload)

	payload, err = readPayload([]string{writeTemp(t, "empty", "  \n")}, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, payload)

	_, err = readPayload([]string{filepath.Join(t.TempDir(), "missing")}, false)
	assert.Error(t, err)
}

func TestRunRender_TemplateFileWithoutConfig(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "absent.yaml")
	t.Cleanup(func() { configPath = "" })

	tpl := writeTemp(t, "t.hbs", `{{user}} opened {{image url}}{{at uid}}`)
	data := writeTemp(t, "p.json", `{"user": "ann", "url": "https://x.test/a.png", "uid": 42}`)

	var out bytes.Buffer
	err := runRender(context.Background(), renderOptions{templateFile: tpl}, []string{data}, &out)
	require.NoError(t, err)

	var msg domain.Message
	require.NoError(t, json.Unmarshal(out.Bytes(), &msg))
	assert.Equal(t, []domain.Element{
		domain.Text("ann opened "),
		domain.Image("https://x.test/a.png"),
		domain.Mention("42"),
	}, msg.Elements)
}

func TestRunRender_Raw(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "absent.yaml")
	t.Cleanup(func() { configPath = "" })

	tpl := writeTemp(t, "t.hbs", `hi {{name}}`)
	data := writeTemp(t, "p.json", `{"name": "bob"}`)

	var out bytes.Buffer
	require.NoError(t, runRender(context.Background(), renderOptions{templateFile: tpl, raw: true}, []string{data}, &out))
	assert.Equal(t, "hi bob\n", out.String())
}

func TestRunRender_NeedsConfigForListeners(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "absent.yaml")
	t.Cleanup(func() { configPath = "" })

	err := runRender(context.Background(), renderOptions{listener: "x"}, nil, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestNewBot(t *testing.T) {
	for _, platform := range []string{"telegram", "discord", "slack"} {
		bot, err := newBot(config.BotConfig{Name: "b-" + platform, Platform: platform, Token: "t"})
		require.NoError(t, err)
		assert.Equal(t, platform, bot.Platform())
		assert.Equal(t, "b-"+platform, bot.Name())
	}
	_, err := newBot(config.BotConfig{Platform: "irc"})
	assert.Error(t, err)
}

func TestNewTextImages(t *testing.T) {
	bridge, images := newTextImages(config.RendererConfig{})
	assert.Nil(t, bridge)
	assert.Nil(t, images)

	cfg := config.Defaults().Renderer
	cfg.RemoteURL = "ws://127.0.0.1:9222/devtools/browser/x"
	bridge, images = newTextImages(cfg)
	require.NotNil(t, bridge)
	assert.True(t, bridge.Available())
	assert.NotNil(t, images)
}
