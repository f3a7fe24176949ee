package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"hookbridge/internal/config"
	"hookbridge/internal/markup"
	"hookbridge/internal/relay"
	"hookbridge/internal/template"

	"github.com/spf13/cobra"
)

type renderOptions struct {
	listener     string
	templateFile string
	form         bool
	image        bool
	raw          bool
}

func renderCmd() *cobra.Command {
	var opts renderOptions
	cmd := &cobra.Command{
		Use:   "render [payload-file]",
		Short: "Render a template against a payload without sending it",
		Long: `Renders a listener's template (or --template) against a payload read from
the given file or stdin and prints the resulting message elements as JSON.
Nothing is delivered.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd.Context(), opts, args, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.listener, "listener", "l", "", "listener url or path from the config")
	cmd.Flags().StringVarP(&opts.templateFile, "template", "t", "", "template file to use instead of a listener")
	cmd.Flags().BoolVar(&opts.form, "form", false, "treat the payload as form/query encoded")
	cmd.Flags().BoolVar(&opts.image, "image", false, "render text_to_image blocks with the headless browser")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "print the rendered markup instead of elements")
	return cmd
}

func runRender(ctx context.Context, opts renderOptions, args []string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		if opts.templateFile == "" {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = config.Defaults()
	}

	source, path, err := renderSource(cfg, opts)
	if err != nil {
		return err
	}

	payload, err := readPayload(args, opts.form)
	if err != nil {
		return err
	}

	var images markup.ImageRenderer
	if opts.image {
		cfg.Renderer.Enabled = true
		_, images = newTextImages(cfg.Renderer)
	}

	rl := relay.New(relay.Config{
		Parser:      markup.NewParser(images, logger),
		PrintResult: cfg.Logging.PrintResult,
		Logger:      logger,
	})
	res := rl.Handle(ctx, relay.Listener{Path: path, Template: source}, payload)
	if res.Err != nil {
		return res.Err
	}

	if opts.raw {
		_, err := fmt.Fprintln(out, res.Rendered)
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Message)
}

// renderSource picks the template to render and a label for logs.
func renderSource(cfg *config.Config, opts renderOptions) (string, string, error) {
	if opts.templateFile != "" {
		data, err := os.ReadFile(opts.templateFile)
		if err != nil {
			return "", "", fmt.Errorf("read template: %w", err)
		}
		return string(data), opts.templateFile, nil
	}
	if opts.listener == "" {
		if len(cfg.Listeners) != 1 {
			return "", "", fmt.Errorf("choose a listener with --listener (%d configured)", len(cfg.Listeners))
		}
		l := cfg.Listeners[0]
		return l.Msg, l.Path(cfg.Server.DefaultPrefix), nil
	}
	for _, l := range cfg.Listeners {
		path := l.Path(cfg.Server.DefaultPrefix)
		if opts.listener == l.URL || opts.listener == path {
			return l.Msg, path, nil
		}
	}
	return "", "", fmt.Errorf("no listener matches %q", opts.listener)
}

// readPayload decodes the payload the way the webhook server would.
func readPayload(args []string, form bool) (any, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	body := strings.TrimSpace(string(data))
	if body == "" {
		return map[string]any{}, nil
	}
	if form {
		values, err := url.ParseQuery(body)
		if err != nil {
			return nil, fmt.Errorf("parse form payload: %w", err)
		}
		return values, nil
	}
	payload, _ := template.DecodePayload(body)
	return payload, nil
}
