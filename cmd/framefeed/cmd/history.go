package cmd

import (
	"context"
	"fmt"

	"framefeed.com/internal/quotes/app"
	"framefeed.com/internal/quotes/history"
	"framefeed.com/pkg/config"
	"framefeed.com/pkg/orm"
	"github.com/spf13/cobra"
)

func newHistoryCmd(rc *rootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Move frame batches between files and the market_bars table",
	}
	cmd.AddCommand(newHistoryImportCmd(rc), newHistoryExportCmd(rc))
	return cmd
}

func openRepo(rc *rootConfig) (*history.Repo, func(), error) {
	var cfg app.Cfg
	if _, err := config.Load(app.ServiceName, &cfg, config.Options{File: rc.configFile}); err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if !cfg.History.MySQL.Enabled() {
		return nil, nil, fmt.Errorf("history.mysql.dsn is not configured")
	}
	db, err := orm.NewMySQL(&cfg.History.MySQL)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	repo := history.NewRepo(db)
	if err := repo.AutoMigrate(); err != nil {
		closeFn()
		return nil, nil, err
	}
	return repo, closeFn, nil
}

func newHistoryImportCmd(rc *rootConfig) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert a .json / .parquet batch into MySQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			b, err := history.LoadFile(file)
			if err != nil {
				return err
			}
			repo, closeFn, err := openRepo(rc)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := repo.Upsert(context.Background(), b.Frames); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d frames from %s\n", len(b.Frames), file)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "batch file to import")
	return cmd
}

func newHistoryExportCmd(rc *rootConfig) *cobra.Command {
	var (
		out      string
		interval string
		symbols  []string
		limit    int
		page     int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export frames from MySQL into a .json / .parquet batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			repo, closeFn, err := openRepo(rc)
			if err != nil {
				return err
			}
			defer closeFn()
			b, err := repo.LoadBatch(context.Background(), history.LoadFilter{Interval: interval, Symbols: symbols, Limit: limit, Page: page})
			if err != nil {
				return err
			}
			if err := history.SaveFile(out, b); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d frames to %s\n", len(b.Frames), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output path (.json / .parquet)")
	cmd.Flags().StringVar(&interval, "interval", "1m", "bar interval")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "only these symbols")
	cmd.Flags().IntVar(&limit, "limit", 0, "newest N rows, 0 = all")
	cmd.Flags().IntVar(&page, "page", 1, "with --limit, page back through older rows")
	return cmd
}
