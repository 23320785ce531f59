package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/Zuo-Peng/chimp/internal/config"
	"github.com/Zuo-Peng/chimp/internal/notify"
	"github.com/Zuo-Peng/chimp/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Self-check: verify config, data dir, FTS5, sessions and NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			ctx := cmd.Context()

			fmt.Fprintln(w, "=== Config ===")
			path := configPath
			if path == "" {
				path, _ = config.DefaultPath()
			}
			if _, err := os.Stat(path); err != nil {
				fmt.Fprintf(w, "  File: %s (not found, using defaults)\n", path)
			} else {
				fmt.Fprintf(w, "  File: %s (OK)\n", path)
			}

			a, err := loadApp(ctx, appOptions{store: true})
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			defer a.close()
			cfg := a.cfg
			fmt.Fprintf(w, "  Timezone: %s\n", a.loc)
			fmt.Fprintf(w, "  Batch size: %d, preprocess above %d MB, %d concurrent import(s)\n",
				cfg.BatchSize, cfg.PreprocessThresholdMB, cfg.MaxConcurrentImports)

			fmt.Fprintln(w, "\n=== Directories ===")
			checkDir(w, "Data", cfg.DataDir)
			tmp := cfg.TempDir
			if tmp == "" {
				tmp = os.TempDir()
			}
			checkDir(w, "Temp", tmp)

			fmt.Fprintln(w, "\n=== SQLite ===")
			checkFTS5(ctx, w)

			fmt.Fprintln(w, "\n=== Sessions ===")
			sessions, err := a.store.ListSessions(ctx)
			if err != nil {
				fmt.Fprintf(w, "  list error: %v\n", err)
			} else {
				var messages, incomplete int
				for _, s := range sessions {
					messages += s.MessageCount
					if s.Status != store.StatusComplete {
						incomplete++
					}
				}
				fmt.Fprintf(w, "  Sessions: %d (%d incomplete)\n", len(sessions), incomplete)
				fmt.Fprintf(w, "  Messages: %d\n", messages)
			}
			if size, err := dirSize(cfg.DataDir); err == nil {
				fmt.Fprintf(w, "  Size: %.1f MB\n", float64(size)/1024/1024)
			}

			fmt.Fprintln(w, "\n=== Formats ===")
			fmt.Fprintf(w, "  %d registered, extensions %v\n", len(a.registry.Formats()), a.registry.Extensions())

			fmt.Fprintln(w, "\n=== Integrations ===")
			if cfg.Tracing.Enabled {
				fmt.Fprintf(w, "  Tracing: OTLP %s\n", cfg.Tracing.Endpoint)
			} else {
				fmt.Fprintln(w, "  Tracing: disabled")
			}
			if cfg.NATS.URL == "" {
				fmt.Fprintln(w, "  NATS: disabled")
			} else {
				nc := notify.DefaultConfig()
				nc.URL = cfg.NATS.URL
				nc.MaxReconnects = 0
				if pub, err := notify.Connect(nc, a.logger); err != nil {
					fmt.Fprintf(w, "  NATS: %s (UNREACHABLE: %v)\n", cfg.NATS.URL, err)
				} else {
					pub.Close()
					fmt.Fprintf(w, "  NATS: %s (OK, subject %s.*)\n", cfg.NATS.URL, cfg.NATS.Subject)
				}
			}
			return nil
		},
	}
}

func checkDir(w io.Writer, name, path string) {
	if info, err := os.Stat(path); err != nil {
		fmt.Fprintf(w, "  %s: %s (NOT FOUND)\n", name, path)
	} else if !info.IsDir() {
		fmt.Fprintf(w, "  %s: %s (NOT A DIRECTORY)\n", name, path)
	} else {
		fmt.Fprintf(w, "  %s: %s (OK)\n", name, path)
	}
}

// checkFTS5 creates a throwaway in-memory FTS5 table.
func checkFTS5(ctx context.Context, w io.Writer) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		fmt.Fprintf(w, "  open error: %v\n", err)
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var version string
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err == nil {
		fmt.Fprintf(w, "  Version: %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
	}
	if _, err := db.ExecContext(ctx, "CREATE VIRTUAL TABLE t USING fts5(x)"); err != nil {
		fmt.Fprintf(w, "  FTS5: UNAVAILABLE (%v)\n", err)
		return
	}
	fmt.Fprintln(w, "  FTS5: OK")
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err == nil {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
