package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"warelay/internal/config"
	"warelay/internal/whatsapp"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your warelay installation",
		Long: `Verifies that warelay's configuration, credentials, downstream URLs, and
database are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("warelay Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s (environment fallback applies)", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				if _, statErr := os.Stat(cfgPath); statErr == nil {
					printFail("Config validation", err.Error())
					failed++
				}
				cfg = config.FromEnv(os.LookupEnv)
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			// 3. Credentials present
			if cfg.WhatsApp.VerifyToken == "" {
				printWarn("Verify token", "VERIFY_TOKEN not set; webhook handshake will fail")
				warned++
			} else {
				printPass("Verify token", "set")
				passed++
			}
			if cfg.WhatsApp.AccessToken == "" {
				printWarn("Access token", "WHATSAPP_TOKEN not set; proxy endpoints will answer 400")
				warned++
			} else {
				printPass("Access token", "set")
				passed++
			}
			if cfg.WhatsApp.PhoneNumberID == "" {
				printWarn("Phone number id", "PHONE_NUMBER_ID not set")
				warned++
			} else {
				printPass("Phone number id", cfg.WhatsApp.PhoneNumberID)
				passed++
			}
			if cfg.WhatsApp.BusinessAccountID == "" {
				printWarn("Business account", "WABA_ID not set; template endpoints will answer 400")
				warned++
			} else {
				printPass("Business account", cfg.WhatsApp.BusinessAccountID)
				passed++
			}

			// 4. Downstream URLs parse
			for _, check := range []struct {
				name, value string
			}{
				{"Messages URL", cfg.Forward.MessagesURL},
				{"Statuses URL", cfg.Forward.StatusesURL},
			} {
				if check.value == "" {
					printWarn(check.name, "not configured; events will not be forwarded")
					warned++
					continue
				}
				if u, err := url.Parse(check.value); err != nil || u.Scheme == "" || u.Host == "" {
					printFail(check.name, fmt.Sprintf("not a valid URL: %s", check.value))
					failed++
				} else {
					printPass(check.name, check.value)
					passed++
				}
			}

			// 5. Dedup database writable
			if cfg.Dedup.Enabled && cfg.Dedup.DBPath != "" {
				if err := checkDatabase(config.ExpandPath(cfg.Dedup.DBPath)); err != nil {
					printFail("Dedup database", err.Error())
					failed++
				} else {
					printPass("Dedup database", cfg.Dedup.DBPath)
					passed++
				}
			}

			// 6. Port availability
			if err := checkPort(cfg.Server.Port); err != nil {
				printWarn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Server port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			// 7. Optional Graph API reachability probe
			if probe && cfg.WhatsApp.AccessToken != "" && cfg.WhatsApp.PhoneNumberID != "" {
				wa := whatsapp.New(whatsapp.Config{
					BaseURL:       cfg.WhatsApp.GraphBaseURL,
					Version:       cfg.WhatsApp.GraphVersion,
					AccessToken:   cfg.WhatsApp.AccessToken,
					PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
					Timeout:       10 * time.Second,
					Logger:        logger,
				})
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if _, err := wa.PhoneInfo(ctx); err != nil {
					printFail("Graph API probe", err.Error())
					failed++
				} else {
					printPass("Graph API probe", "phone info reachable")
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running warelay.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nwarelay should start but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! warelay is ready to run.\n")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "also probe the Graph API with the configured credentials")
	return cmd
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
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
