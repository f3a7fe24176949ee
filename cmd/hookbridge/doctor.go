package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"hookbridge/internal/config"
	"hookbridge/internal/journal"
	"hookbridge/internal/template"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your hookbridge installation",
		Long: `Verifies that the configuration, listener templates, headless browser,
journal database and listen port are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("hookbridge doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'hookbridge init' to create a starter configuration.\n")
				return fmt.Errorf("config file missing")
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Listener templates compile
			if len(cfg.Listeners) == 0 {
				printWarn("Listeners", "none configured")
				warned++
			}
			renderer := template.NewRenderer(logger)
			for _, l := range cfg.Listeners {
				name := "Listener " + l.Path(cfg.Server.DefaultPrefix)
				if _, err := renderer.Render(l.Msg, map[string]any{}); err != nil {
					printFail(name, err.Error())
					failed++
					continue
				}
				if len(l.PushChannelIDs)+len(l.PushPrivateIDs) == 0 {
					printWarn(name, "no destinations")
					warned++
					continue
				}
				printPass(name, fmt.Sprintf("%s, %d destination(s)", l.Method, len(l.PushChannelIDs)+len(l.PushPrivateIDs)))
				passed++
			}

			// 4. Bots
			enabled := 0
			for _, b := range cfg.Bots {
				if b.IsEnabled() {
					enabled++
				}
			}
			if enabled == 0 {
				printWarn("Bots", "no bots enabled, messages will be dropped")
				warned++
			} else {
				printPass("Bots", fmt.Sprintf("%d enabled", enabled))
				passed++
			}

			// 5. Headless browser
			if bridge, _ := newTextImages(cfg.Renderer); bridge == nil {
				printWarn("Renderer", "disabled, text_to_image blocks are sent as text")
				warned++
			} else if !bridge.Available() {
				printWarn("Renderer", "no Chrome/Chromium found, text_to_image blocks are sent as text")
				warned++
			} else {
				printPass("Renderer", "headless browser available")
				passed++
			}

			// 6. Journal writable
			if cfg.Journal.Enabled {
				if err := checkJournal(cfg.Journal.Path); err != nil {
					printFail("Journal", err.Error())
					failed++
				} else {
					printPass("Journal", cfg.Journal.Path)
					passed++
				}
			}

			// 7. Listen port
			if err := checkPort(cfg.Server.Addr()); err != nil {
				printWarn("Listen address", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr(), err))
				warned++
			} else {
				printPass("Listen address", cfg.Server.Addr()+" available")
				passed++
			}

			// 8. Log file writable
			if cfg.Logging.File != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.Logging.File)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running hookbridge.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nhookbridge should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! hookbridge is ready to serve.\n")
			}
			return nil
		},
	}
}

// checkJournal opens (and migrates) the journal, then pings it.
func checkJournal(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := journal.Open(ctx, path, 0, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Ping(ctx)
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-24s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-24s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-24s %s\n", check, detail)
}
