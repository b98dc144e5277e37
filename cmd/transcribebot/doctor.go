package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"transcribebot/internal/config"
	"transcribebot/internal/provider"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

// checker tallies doctor results.
type checker struct {
	w                      io.Writer
	passed, warned, failed int
}

func (c *checker) pass(check, detail string) {
	fmt.Fprintf(c.w, "  [PASS] %-20s %s\n", check, detail)
	c.passed++
}

func (c *checker) fail(check, detail string) {
	fmt.Fprintf(c.w, "  [FAIL] %-20s %s\n", check, detail)
	c.failed++
}

func (c *checker) warn(check, detail string) {
	fmt.Fprintf(c.w, "  [WARN] %-20s %s\n", check, detail)
	c.warned++
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your transcribebot setup",
		Long: `Verifies the configuration, credentials, transcription engine, temp
directory and audit database. Reports pass/warn/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "transcribebot doctor v%s\n", version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			c := &checker{w: out}
			cfgPath := resolveConfigPath()
			if cfgPath == "" {
				c.warn("Config file", "none found, using defaults and environment")
			} else {
				c.pass("Config file", cfgPath)
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				c.fail("Config validation", err.Error())
				return c.summary()
			}
			c.pass("Config validation", "valid")

			runDoctorChecks(c, cfg)
			return c.summary()
		},
	}
}

func runDoctorChecks(c *checker, cfg *config.Config) {
	if cfg.Twilio.AuthToken == "" {
		c.warn("Signatures", "AUTH_TOKEN not set, webhook requests will not be verified")
	} else {
		c.pass("Signatures", "AUTH_TOKEN set")
	}

	switch {
	case cfg.Twilio.Configured() && cfg.Twilio.From != "":
		c.pass("Twilio API", "credentials and sender configured")
	case cfg.Processing.AsyncReply:
		c.fail("Twilio API", "asyncReply needs ACCOUNT_SID, AUTH_TOKEN and FROM")
	default:
		c.warn("Twilio API", "not configured, only inline replies are possible")
	}

	checkEngine(c, cfg.Transcription)

	tempDir := cfg.Media.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if err := checkWritableDir(tempDir); err != nil {
		c.fail("Temp directory", err.Error())
	} else {
		c.pass("Temp directory", tempDir)
	}

	if cfg.Audit.Enabled {
		if err := checkDatabase(cfg.Audit.DBPath); err != nil {
			c.fail("Audit database", err.Error())
		} else {
			c.pass("Audit database", cfg.Audit.DBPath)
		}
	}

	if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
		c.warn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
	} else {
		c.pass("Server port", fmt.Sprintf("%s:%d available", cfg.Server.Host, cfg.Server.Port))
	}

	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			c.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			c.pass("Log file", cfg.General.LogFile)
		}
	}
}

func checkEngine(c *checker, tc config.TranscriptionConfig) {
	switch tc.Engine {
	case "command":
		if len(tc.Command) == 0 {
			c.fail("Engine: command", "transcription.command is empty")
			return
		}
		bin, err := exec.LookPath(tc.Command[0])
		if err != nil {
			c.fail("Engine: command", fmt.Sprintf("%s not found in PATH", tc.Command[0]))
			return
		}
		c.pass("Engine: command", bin)
	default:
		if tc.APIKey == "" {
			c.warn("Engine: "+tc.Engine, "no API key configured")
		} else {
			c.pass("Engine: "+tc.Engine, fmt.Sprintf("%s (%s)", tc.APIBase, tc.Model))
		}
	}
	if _, err := provider.NewTranscriber(tc, provider.SharedHTTPClient(0), logger); err != nil {
		c.fail("Engine setup", err.Error())
	}
}

func (c *checker) summary() error {
	fmt.Fprintf(c.w, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(c.w, "Results: %d passed, %d warnings, %d failed\n", c.passed, c.warned, c.failed)
	if c.failed > 0 {
		fmt.Fprintf(c.w, "\nPlease fix the failed checks before running transcribebot.\n")
		return fmt.Errorf("%d check(s) failed", c.failed)
	}
	if c.warned > 0 {
		fmt.Fprintf(c.w, "\ntranscribebot should work but consider fixing the warnings.\n")
	} else {
		fmt.Fprintf(c.w, "\nAll checks passed! transcribebot is ready to run.\n")
	}
	return nil
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
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

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
