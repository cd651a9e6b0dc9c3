package main

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/spf13/cobra"

	"github.com/creamcroissant/xprovision/internal/migrations"
)

func init() {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Ledger database management",
	}

	dbCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, db dbHandle) error {
				if err := migrations.Up(ctx, db.DB); err != nil {
					return err
				}
				return printVersion(ctx, cmd, db)
			})
		},
	})
	dbCmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, db dbHandle) error {
				if err := migrations.Down(ctx, db.DB); err != nil {
					return err
				}
				return printVersion(ctx, cmd, db)
			})
		},
	})
	dbCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, db dbHandle) error {
				return migrations.Status(ctx, db.DB)
			})
		},
	})

	var backupOutput string
	var backupCompress bool
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a consistent copy of the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, db dbHandle) error {
				target, err := backupTarget(backupOutput, backupCompress)
				if err != nil {
					return err
				}
				snapshot := target
				if backupCompress {
					snapshot = strings.TrimSuffix(target, ".gz")
				}
				if _, err := os.Stat(snapshot); err == nil {
					return fmt.Errorf("backup target %s already exists", snapshot)
				}
				if info, err := os.Stat(db.path); err == nil {
					if err := checkFreeSpace(ctx, filepath.Dir(snapshot), uint64(info.Size())); err != nil {
						return err
					}
				}
				// VACUUM INTO 不接受参数占位，路径里的单引号需要转义。
				stmt := fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(snapshot, "'", "''"))
				if _, err := db.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("sqlite vacuum into: %w", err)
				}
				if backupCompress {
					err := gzipFile(snapshot, target)
					_ = os.Remove(snapshot)
					if err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Backup created at %s\n", target)
				return nil
			})
		},
	}
	backupCmd.Flags().StringVar(&backupOutput, "output", "", "output file path (default data/backups/xprovision_<ts>.db)")
	backupCmd.Flags().BoolVar(&backupCompress, "compress", false, "compress output with gzip")
	dbCmd.AddCommand(backupCmd)

	rootCmd.AddCommand(dbCmd)
}

func printVersion(ctx context.Context, cmd *cobra.Command, db dbHandle) error {
	version, err := migrations.Version(ctx, db.DB)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Using DB path: %s\nSchema version: %d\n", db.path, version)
	return nil
}

func backupTarget(output string, compress bool) (string, error) {
	target := output
	if target == "" {
		dir := filepath.Join("data", "backups")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create backup dir: %w", err)
		}
		target = filepath.Join(dir, "xprovision_"+time.Now().Format("20060102_150405")+".db")
	}
	if compress && !strings.HasSuffix(target, ".gz") {
		target += ".gz"
	}
	return target, nil
}

// checkFreeSpace refuses a backup whose snapshot would not fit on the target volume.
func checkFreeSpace(ctx context.Context, dir string, need uint64) error {
	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return fmt.Errorf("inspect backup volume %s: %w", dir, err)
	}
	if usage.Free < need {
		return fmt.Errorf("backup volume %s has %d bytes free, snapshot needs about %d", dir, usage.Free, need)
	}
	return nil
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("compress backup: %w", err)
	}
	if err := gz.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
