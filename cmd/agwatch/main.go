// Package main is the entry point for the Antigravity reset agent. It watches
// account quotas, announces resets and preheats models when they reset.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/j-veylop/antigravity-reset-agent/internal/config"
	"github.com/j-veylop/antigravity-reset-agent/internal/logger"
	"github.com/j-veylop/antigravity-reset-agent/internal/metrics"
	"github.com/j-veylop/antigravity-reset-agent/internal/server"
	"github.com/j-veylop/antigravity-reset-agent/internal/services"
	"github.com/j-veylop/antigravity-reset-agent/internal/ui/components"
	"github.com/j-veylop/antigravity-reset-agent/internal/ui/styles"
	"github.com/j-veylop/antigravity-reset-agent/internal/version"
)

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "-v", "--version", "version":
		fmt.Println(version.Info())
		return
	case "-h", "--help", "help":
		printUsage()
		return
	case "run":
		err = run()
	case "status":
		err = status()
	case "history":
		err = history(args)
	case "preheat":
		err = preheat()
	case "add":
		err = add(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the service manager.
func setup(opts ...services.Option) (*config.Config, *services.Manager, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)

	mgr, err := services.NewManager(cfg, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	return cfg, mgr, nil
}

func closeManager(mgr *services.Manager) {
	if err := mgr.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: error closing services: %v\n", err)
	}
}

// run starts the agent and blocks until SIGINT or SIGTERM.
func run() error {
	cfg, mgr, err := setup()
	if err != nil {
		return err
	}
	defer closeManager(mgr)

	metrics.Register(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr.Start(ctx)
	logger.Info("agent started",
		"accounts", mgr.Accounts().Count(),
		"check_interval", cfg.CheckInterval,
		"quota_refresh", cfg.QuotaRefreshInterval,
	)

	if cfg.HTTPAddr == "" {
		<-ctx.Done()
	} else {
		srv := server.New(mgr, prometheus.DefaultGatherer)
		if err := srv.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
			return err
		}
	}

	logger.Info("shutting down")
	return nil
}

// status fetches quotas once and prints them with the reset schedules.
func status() error {
	_, mgr, err := setup(services.OneShot())
	if err != nil {
		return err
	}
	defer closeManager(mgr)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	quotas := mgr.SyncQuotas(ctx)

	fmt.Println(styles.TitleStyle.Render("Quotas"))
	fmt.Println(components.QuotaTable(quotas))
	fmt.Println()
	fmt.Println(styles.TitleStyle.Render("Resets"))
	fmt.Println(components.ScheduleTable(mgr.Schedules(), time.Now()))
	return nil
}

// history prints recent notifications, preheat attempts or quota charts.
func history(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("n", 20, "number of entries to show")
	attempts := fs.Bool("preheats", false, "show preheat attempts instead of notifications")
	quotaChart := fs.Bool("quota", false, "chart remaining quota over the retention window")
	width := fs.Int("width", 60, "chart width")
	height := fs.Int("height", 10, "chart height")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return fmt.Errorf("-n must be positive")
	}

	cfg, mgr, err := setup(services.OneShot())
	if err != nil {
		return err
	}
	defer closeManager(mgr)
	loc := cfg.DisplayLocation()

	if *quotaChart {
		snaps, err := mgr.QuotaHistory()
		if err != nil {
			return err
		}
		fmt.Println(styles.TitleStyle.Render("Quota history"))
		fmt.Println(components.QuotaHistoryCharts(snaps, *width, *height, loc))
		return nil
	}

	if *attempts {
		rows, err := mgr.PreheatAttempts(*limit)
		if err != nil {
			return err
		}
		fmt.Println(styles.TitleStyle.Render("Preheat attempts"))
		fmt.Println(components.PreheatTable(rows, loc))
		return nil
	}

	rows, err := mgr.Notifications(*limit)
	if err != nil {
		return err
	}
	fmt.Println(styles.TitleStyle.Render("Notifications"))
	fmt.Println(components.NotificationList(rows, loc))
	return nil
}

// preheat sends the preheat call for every model of every account.
func preheat() error {
	_, mgr, err := setup(services.OneShot())
	if err != nil {
		return err
	}
	defer closeManager(mgr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res := mgr.PreheatAll(ctx)
	line := fmt.Sprintf("Preheat finished: %d succeeded, %d failed", res.Succeeded, res.Failed)
	if res.Failed > 0 {
		fmt.Println(styles.WarningTextStyle.Render(line))
	} else {
		fmt.Println(styles.SuccessTextStyle.Render(line))
	}
	return nil
}

// add stores a session blob as an account file. The blob is read from the
// argument, or from stdin when the argument is "-" or missing.
func add(args []string) error {
	blob, err := readBlob(args, os.Stdin)
	if err != nil {
		return err
	}

	_, mgr, err := setup(services.OneShot())
	if err != nil {
		return err
	}
	defer closeManager(mgr)

	acc, err := mgr.Accounts().Save(blob)
	if err != nil {
		return err
	}
	fmt.Println(styles.SuccessTextStyle.Render(fmt.Sprintf("Saved %s (%s) as %s", acc.Email, acc.Plan, acc.FileName)))
	return nil
}

func readBlob(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && args[0] != "-" {
		return strings.TrimSpace(args[0]), nil
	}

	data, err := io.ReadAll(bufio.NewReader(stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read session blob: %w", err)
	}
	blob := strings.TrimSpace(string(data))
	if blob == "" {
		return "", errors.New("empty session blob")
	}
	return blob, nil
}

// printUsage prints the command-line usage information.
func printUsage() {
	fmt.Println(`Antigravity Reset Agent - quota reset watcher and preheater

Usage:
  agwatch [command] [flags]

Commands:
  run                 Watch quotas, notify on resets and preheat (default)
  status              Fetch quotas once and show reset schedules
  history [-n N]      Show recent notifications
  history -preheats   Show recent preheat attempts
  history -quota      Chart remaining quota per account and model
  preheat             Preheat every tracked model of every account now
  add [blob|-]        Store a session blob as an account

Flags:
  -h, --help      Show this help message
  -v, --version   Show version information

Environment Variables:
  ACCOUNTS_DIR            Directory of account JSON files
  SCHEDULE_PATH           Reset schedule file
  DATABASE_PATH           SQLite history database path
  QUOTA_REFRESH_INTERVAL  Quota polling interval (default: 60s)
  CHECK_INTERVAL          Scheduler tick interval (default: 30s)
  PRE_NOTIFY_WINDOW       Warn this long before a reset (default: 5m)
  AUTO_PREHEAT            Preheat automatically after a reset (default: true)
  WORK_HOURS              Limit automatic preheats, e.g. 08:00-22:00
  DISPLAY_UTC_OFFSET      Hours from UTC for reset times (default: 7)
  WEBHOOK_URL, NTFY_URL   Extra notification targets
  HTTP_ADDR               Status API address, empty to disable
  LOG_LEVEL               debug, info, warn or error

Configuration:
  The application looks for .env files in the following locations:
  - Current directory
  - ~/.config/antigravity-agent/.env
  - ~/.antigravity/.env`)
}
