package config

import "hookbridge/internal/emoji"

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          9090,
			DefaultPrefix: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Renderer: RendererConfig{
			Enabled:                true,
			TimeoutSeconds:         10,
			SelectorTimeoutSeconds: 5,
			AssetTimeoutSeconds:    5,
			ViewportWidth:          1200,
			ViewportHeight:         800,
			DeviceScale:            2,
			Margin:                 20,
			EmojiBaseURL:           emoji.DefaultBaseURL,
		},
		Journal: JournalConfig{
			Enabled:       true,
			Path:          "~/.hookbridge/journal.db",
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
