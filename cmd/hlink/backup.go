package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bamsammich/hlink/internal/backup"
	"github.com/bamsammich/hlink/internal/ui"
)

func newBackupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <file>",
		Short: "Write the link records, pending deletions and config to an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			path := args[0]
			tmp, err := os.CreateTemp(filepath.Dir(path), ".hlink-backup-*")
			if err != nil {
				return fmt.Errorf("create archive: %w", err)
			}
			defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename

			archive, err := backup.Create(context.Background(), store, a.cfgPath, tmp)
			if err != nil {
				tmp.Close() //nolint:errcheck // already failing
				return err
			}
			if err := tmp.Close(); err != nil {
				return fmt.Errorf("write archive: %w", err)
			}
			if err := os.Rename(tmp.Name(), path); err != nil {
				return fmt.Errorf("write archive: %w", err)
			}

			a.logger.Info("backup written",
				"path", path,
				"records", len(archive.State.Records),
				"config", archive.Config != nil,
			)
			return nil
		},
	}
}

func newRestoreCmd(a *app) *cobra.Command {
	var configOut string
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Replace the link records and pending deletions from an archive",
		Long: `Replace the link records and pending deletions with the content of an
archive written by hlink backup. The archived config file is written to
--config-out when given; the current config is never overwritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			archive, err := backup.Restore(context.Background(), store, f)
			if err != nil {
				return err
			}
			if configOut != "" && archive.Config != nil {
				if err := os.WriteFile(configOut, archive.Config, 0o644); err != nil { //nolint:gosec // G306: config is not secret
					return fmt.Errorf("write config: %w", err)
				}
			}

			a.logger.Info("backup restored",
				"path", args[0],
				"created", archive.Created.Format("2006-01-02 15:04:05"),
				"records", len(archive.State.Records),
			)
			if !a.quiet {
				fmt.Fprintf(os.Stderr, "restored %s records from %s\n",
					ui.FormatCount(int64(len(archive.State.Records))), args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configOut, "config-out", "", "write the archived config file to FILE")
	return cmd
}
