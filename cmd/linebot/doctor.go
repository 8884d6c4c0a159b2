package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"linebot/internal/config"
	"linebot/internal/knowledge"
	"linebot/internal/memory"
	"linebot/internal/provider"
)

type healthChecker interface {
	Healthy(ctx context.Context) error
}

type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	printPass(check, detail)
	r.passed++
}

func (r *doctorReport) warn(check, detail string) {
	printWarn(check, detail)
	r.warned++
}

func (r *doctorReport) fail(check, detail string) {
	printFail(check, detail)
	r.failed++
}

func doctorCmd() *cobra.Command {
	var online bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the linebot setup",
		Long: `Verifies that the configuration, secrets, documents folder, database and
listen port are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("linebot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r doctorReport

			// 1. Config file
			cfgPath := resolveConfigPath()
			if cfgPath == "" {
				r.warn("Config file", "none found, using defaults and environment")
			} else if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'linebot init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			} else {
				r.pass("Config file", cfgPath)
			}

			// 2. Config loads and validates
			cfg, err := config.LoadUnvalidated(cfgPath)
			if err != nil {
				r.fail("Config parse", err.Error())
				return summarize(r)
			}
			if err := config.Validate(cfg); err != nil {
				r.fail("Config validation", err.Error())
			} else {
				r.pass("Config validation", "valid")
			}

			// 3. Secrets
			for _, s := range []struct{ name, value, env string }{
				{"Channel secret", cfg.Line.ChannelSecret, config.EnvChannelSecret},
				{"Access token", cfg.Line.ChannelAccessToken, config.EnvChannelAccessToken},
			} {
				if s.value == "" {
					r.fail(s.name, "not set (export "+s.env+")")
				} else {
					r.pass(s.name, "set")
				}
			}

			// 4. Documents folder
			if cfg.Bot.Mode == "rag" && cfg.Knowledge.Enabled {
				docs, err := knowledge.LoadDocuments(cfg.Knowledge.DocumentsDir, cfg.Knowledge.Extensions, logger)
				switch {
				case errors.Is(err, knowledge.ErrNoDocuments):
					r.warn("Documents", fmt.Sprintf("no indexable files in %s, the bot will reply not-ready", cfg.Knowledge.DocumentsDir))
				case err != nil:
					r.fail("Documents", err.Error())
				default:
					r.pass("Documents", fmt.Sprintf("%d file(s) in %s", len(docs), cfg.Knowledge.DocumentsDir))
				}
			} else {
				r.pass("Documents", "not used in "+cfg.Bot.Mode+" mode")
			}

			// 5. Dedupe database writable
			if cfg.Webhook.Dedupe {
				if detail, err := checkDatabase(cfg.Webhook.DedupeDBPath); err != nil {
					r.fail("Database", err.Error())
				} else {
					r.pass("Database", detail)
				}
			}

			// 6. Listen port
			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				r.warn("Listen port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				r.pass("Listen port", fmt.Sprintf(":%d available", cfg.Server.Port))
			}

			// 7. Generation provider
			if cfg.Bot.Mode == "rag" {
				checkGenerator(cmd.Context(), cfg, online, &r)
			}

			return summarize(r)
		},
	}

	cmd.Flags().BoolVar(&online, "online", false, "also contact the generation provider")
	return cmd
}

func checkGenerator(ctx context.Context, cfg *config.Config, online bool, r *doctorReport) {
	name := "Provider: " + cfg.Generation.Provider
	if cfg.Generation.APIKey == "" {
		r.fail(name, "no API key configured")
		return
	}
	if !online {
		r.pass(name, "configured")
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	gen, err := provider.NewFactory(cfg, logger).Generator(ctx)
	if err != nil {
		r.fail(name, err.Error())
		return
	}
	hc, ok := gen.(healthChecker)
	if !ok {
		r.pass(name, "configured")
		return
	}
	if err := hc.Healthy(ctx); err != nil {
		r.fail(name, err.Error())
		return
	}
	r.pass(name, "reachable")
}

func summarize(r doctorReport) error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running linebot.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nlinebot should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! linebot is ready to run.\n")
	}
	return nil
}

// checkDatabase opens the dedupe store, which creates the file and applies
// migrations, and reads from it.
func checkDatabase(dbPath string) (string, error) {
	store, err := memory.NewEventStore(dbPath, logger)
	if err != nil {
		return "", err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := store.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("cannot query: %w", err)
	}
	detail := fmt.Sprintf("%s (%d event(s) recorded)", dbPath, n)

	recent, err := store.Recent(ctx, 1)
	if err != nil {
		return "", fmt.Errorf("cannot query: %w", err)
	}
	if len(recent) > 0 {
		detail += ", last at " + time.Unix(recent[0].ProcessedAt, 0).Format(time.RFC3339)
	}
	return detail, nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
