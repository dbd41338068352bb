package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"splitbackup/internal/backup"
	"splitbackup/internal/config"
	"splitbackup/internal/errors"
	"splitbackup/internal/logging"
	"splitbackup/internal/report"
	"splitbackup/internal/restore"
	"splitbackup/internal/watcher"
	"splitbackup/pkg/models"
)

var (
	sourcePath     string
	backupPath     string
	targetPath     string
	maxSize        config.ByteSize
	writeReport    bool
	reportFormat   string
	overwrite      bool
	skipUnreadable bool
	watchMode      bool
	restoreMode    bool
	listMode       bool
	verifyMode     bool
	configPath     string
	logLevel       string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "splitbackup",
		Short: "Back up a directory tree into size-bounded part files",
		Long:  "Backs up a directory tree into a sequence of part files of bounded size and restores the tree from them",
		Run:   runApp,
	}

	flags := rootCmd.Flags()
	flags.StringVar(&sourcePath, "source", "", "Directory to back up")
	flags.StringVar(&backupPath, "backup", "", "Directory holding the part files")
	flags.StringVar(&targetPath, "target", "", "Target directory for restore (restore mode only)")
	flags.Var(&maxSize, "max-size", "Maximum payload size of a part file, e.g. 512MiB (each part adds a 16-byte header on disk)")
	flags.BoolVar(&writeReport, "report", true, "Write a report of the backed up entries")
	flags.StringVar(&reportFormat, "report-format", "text", "Report format: text or json")
	flags.BoolVar(&overwrite, "overwrite", false, "Replace existing parts on backup or existing files on restore")
	flags.BoolVar(&skipUnreadable, "skip-unreadable", false, "Skip unreadable entries instead of failing")
	flags.BoolVar(&watchMode, "watch", false, "Back up again whenever the source changes")
	flags.BoolVar(&restoreMode, "restore", false, "Enable restore mode")
	flags.BoolVar(&listMode, "list", false, "List entries in backup")
	flags.BoolVar(&verifyMode, "verify", false, "Verify backup integrity")
	flags.StringVar(&configPath, "config", "", "YAML config file (default $"+config.EnvVar+")")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runApp(cmd *cobra.Command, args []string) {
	if backupPath == "" {
		fmt.Fprintf(os.Stderr, "Error: --backup path is required\n")
		printUsageExamples()
		os.Exit(1)
	}

	modeCount := 0
	for _, on := range []bool{watchMode, restoreMode, listMode, verifyMode} {
		if on {
			modeCount++
		}
	}
	if modeCount > 1 {
		fmt.Fprintf(os.Stderr, "Error: Only one operation mode can be specified at a time\n")
		printUsageExamples()
		os.Exit(1)
	}
	if modeCount == 0 && sourcePath == "" {
		fmt.Fprintf(os.Stderr, "Error: You must specify --source or one operation mode\n")
		printUsageExamples()
		os.Exit(1)
	}
	if (watchMode || modeCount == 0) && sourcePath == "" {
		fmt.Fprintf(os.Stderr, "Error: --source path is required for backup\n")
		printUsageExamples()
		os.Exit(1)
	}
	if restoreMode && targetPath == "" {
		fmt.Fprintf(os.Stderr, "Error: --target path is required for restore mode\n")
		printUsageExamples()
		os.Exit(1)
	}

	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case listMode:
		err = listBackupFiles(ctx, log)
	case verifyMode:
		err = verifyBackup(ctx, log)
	case restoreMode:
		err = runRestore(ctx, cfg, log)
	case watchMode:
		err = runWatch(ctx, cfg, log)
	default:
		_, err = runBackup(ctx, cfg, log)
	}
	if err != nil {
		stop()
		_ = log.Sync()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the flags the user set on
// top of it.
func loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if fs.Changed("max-size") {
		cfg.MaxPartSize = maxSize
	}
	if fs.Changed("report") {
		cfg.Report = writeReport
	}
	if fs.Changed("report-format") {
		cfg.ReportFormat = reportFormat
	}
	if fs.Changed("overwrite") {
		cfg.Overwrite = overwrite
	}
	if fs.Changed("skip-unreadable") {
		cfg.SkipUnreadable = skipUnreadable
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	return cfg, cfg.Validate()
}

func printUsageExamples() {
	fmt.Fprintf(os.Stderr, `
Usage Examples:
===============

1. Back up a directory into 64MiB parts:
   %s --source /path/to/source --backup /path/to/backup --max-size 64MiB

2. Keep the backup current (watch mode):
   %s --watch --source /path/to/source --backup /path/to/backup

3. Restore from backup:
   %s --restore --backup /path/to/backup --target /path/to/restore

4. List entries in backup:
   %s --list --backup /path/to/backup

5. Verify backup integrity:
   %s --verify --backup /path/to/backup

`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func backupOptions(cfg *config.Config, log *zap.Logger) (backup.Options, error) {
	format, err := report.ParseFormat(cfg.ReportFormat)
	if err != nil {
		return backup.Options{}, err
	}
	return backup.Options{
		MaxPartSize:    uint64(cfg.MaxPartSize),
		WriteReport:    cfg.Report,
		ReportFormat:   format,
		Overwrite:      cfg.Overwrite,
		SkipUnreadable: cfg.SkipUnreadable,
		Logger:         log,
	}, nil
}

func runBackup(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backup.Result, error) {
	opts, err := backupOptions(cfg, log)
	if err != nil {
		return nil, err
	}
	res, err := backup.Backup(ctx, sourcePath, backupPath, opts)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Backed up %d files and %d directories (%s) into %d parts\n",
		res.Files, res.Directories, humanize.IBytes(res.Bytes), len(res.Parts))
	if res.ReportPath != "" {
		fmt.Printf("Report: %s\n", res.ReportPath)
	}
	return res, nil
}

func runWatch(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("starting watch mode",
		zap.String("source", sourcePath),
		zap.String("backup", backupPath),
		zap.Duration("debounce", cfg.Watch.Debounce),
		zap.Duration("refresh", cfg.Watch.Refresh))

	if fi, err := os.Stat(sourcePath); err != nil || !fi.IsDir() {
		return errors.Access("watch", sourcePath, errors.Errorf("source is not a readable directory"))
	}

	// every run replaces the previous part set
	cfg.Overwrite = true

	dest, err := filepath.Abs(backupPath)
	if err != nil {
		return err
	}
	w, err := watcher.NewWatcher(
		watcher.WithLogger(log),
		watcher.WithDebounce(cfg.Watch.Debounce),
		watcher.WithExclude(dest),
	)
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer w.Close()

	if err := w.AddWatch(sourcePath); err != nil {
		return errors.Wrap(err, "watch source")
	}
	w.Start()

	log.Info("performing initial backup")
	if _, err := runBackup(ctx, cfg, log); err != nil {
		log.Warn("initial backup failed", zap.Error(err))
	}

	var refresh <-chan time.Time
	if cfg.Watch.Refresh > 0 {
		ticker := time.NewTicker(cfg.Watch.Refresh)
		defer ticker.Stop()
		refresh = ticker.C
	}

	log.Info("watching for changes, press Ctrl+C to stop", zap.Int("directories", w.WatchedDirs()))
	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return nil

		case event := <-w.Changes():
			log.Info("change detected, backing up", zap.String("path", event.Path), zap.String("op", event.Operation))
			if _, err := runBackup(ctx, cfg, log); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error("backup failed", zap.Error(err))
			}

		case err := <-w.Errors():
			log.Warn("watcher error", zap.Error(err))

		case <-refresh:
			log.Info("performing periodic backup")
			if _, err := runBackup(ctx, cfg, log); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error("periodic backup failed", zap.Error(err))
			}
		}
	}
}

func runRestore(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		return errors.MissingPart(backupPath, err)
	}

	engine := restore.NewEngine(backupPath, targetPath, restore.Options{
		Overwrite: cfg.Overwrite,
		Logger:    log,
	})
	sum, err := engine.RestoreAll(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Restored %d files and %d directories (%s) from %d parts into %s\n",
		sum.Files, sum.Directories, humanize.IBytes(sum.Bytes), sum.Parts, targetPath)
	return nil
}

func listBackupFiles(ctx context.Context, log *zap.Logger) error {
	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		return errors.MissingPart(backupPath, err)
	}

	return restore.List(ctx, backupPath, func(e models.Entry) error {
		if e.IsDir() {
			fmt.Printf("%s/\n", e.Path)
			return nil
		}
		fmt.Printf("%s\t%s\n", e.Path, humanize.IBytes(e.Size))
		return nil
	}, restore.Options{Logger: log})
}

func verifyBackup(ctx context.Context, log *zap.Logger) error {
	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		return errors.MissingPart(backupPath, err)
	}

	sum, err := restore.Verify(ctx, backupPath, restore.Options{Logger: log})
	if err != nil {
		return errors.Wrap(err, "backup validation failed")
	}

	fmt.Printf("Backup verification completed successfully: %d entries in %d parts (%s of content)\n",
		sum.Entries, sum.Parts, humanize.IBytes(sum.Bytes))
	return nil
}
