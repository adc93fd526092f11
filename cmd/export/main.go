// Command export is the operator tool for offline ledger work: it writes
// ledger snapshots to xlsx, takes on-demand backups and inspects the
// notification queue.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"clinicbook/internal/config"
	"clinicbook/internal/database"
	"clinicbook/internal/export"
	"clinicbook/internal/logging"
	"clinicbook/internal/models"
	"clinicbook/internal/reference"

	"github.com/rs/zerolog"
)

type options struct {
	configPath string
	outDir     string
	slotID     int64
	statuses   string
	from       string
	to         string
	backup     bool
	failed     bool
	reference  string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", envOr("CONFIG_PATH", "configs/config.yaml"), "path to config.yaml")
	flag.StringVar(&opts.outDir, "out", "", "directory for the xlsx snapshot (default exports.path)")
	flag.Int64Var(&opts.slotID, "slot", 0, "only export this slot id")
	flag.StringVar(&opts.statuses, "status", "", "comma separated statuses to export")
	flag.StringVar(&opts.from, "from", "", "created at or after this date (YYYY-MM-DD)")
	flag.StringVar(&opts.to, "to", "", "created before this date (YYYY-MM-DD)")
	flag.BoolVar(&opts.backup, "backup", false, "take a database backup instead of exporting")
	flag.BoolVar(&opts.failed, "failed", false, "print failed notifications as JSON")
	flag.StringVar(&opts.reference, "reference", "", "print the notification history of one reservation")
	flag.Parse()

	if err := run(opts); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := logging.Component(baseLogger, "export")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer db.Close()

	switch {
	case opts.backup:
		path, err := database.NewBackupService(db, cfg.Backup, logger).PerformBackup(ctx)
		if err != nil {
			return err
		}
		logger.Info().Str("path", path).Msg("backup written")
		return nil
	case opts.failed:
		tasks, err := db.GetFailedNotificationTasks(ctx)
		if err != nil {
			return err
		}
		return printJSON(tasks)
	case opts.reference != "":
		return printHistory(ctx, db, opts.reference)
	default:
		return exportLedger(ctx, db, cfg, opts, logger)
	}
}

func exportLedger(ctx context.Context, db *database.DB, cfg *config.Config, opts options, logger *zerolog.Logger) error {
	filter, err := buildFilter(opts)
	if err != nil {
		return err
	}

	rows, err := db.ExportReservations(ctx, filter)
	if err != nil {
		return err
	}

	dir := opts.outDir
	if dir == "" {
		dir = cfg.Exports.Path
	}
	path, err := export.SaveLedgerXLSX(dir, rows, time.Now())
	if err != nil {
		return err
	}

	logger.Info().Str("path", path).Int("rows", len(rows)).Msg("ledger exported")
	return nil
}

func printHistory(ctx context.Context, db *database.DB, ref string) error {
	r, err := db.GetReservationByReference(ctx, reference.Normalize(ref))
	if err != nil {
		return fmt.Errorf("lookup %s: %w", ref, err)
	}
	tasks, err := db.GetNotificationTasksForReservation(ctx, r.ID)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"reservation": r, "notifications": tasks})
}

func buildFilter(opts options) (models.LedgerFilter, error) {
	var filter models.LedgerFilter
	if opts.slotID > 0 {
		id := opts.slotID
		filter.SlotID = &id
	}

	for _, raw := range strings.Split(opts.statuses, ",") {
		raw = strings.TrimSpace(strings.ToLower(raw))
		if raw == "" {
			continue
		}
		st := models.ReservationStatus(raw)
		if !st.Valid() {
			return filter, fmt.Errorf("unknown status %q", raw)
		}
		filter.Statuses = append(filter.Statuses, st)
	}

	var err error
	if filter.From, err = parseDate(opts.from); err != nil {
		return filter, err
	}
	if filter.To, err = parseDate(opts.to); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", raw)
	}
	return &t, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
