package cmd

import (
	"fmt"
	"time"

	"framefeed.com/internal/quotes/breadth"
	"framefeed.com/internal/quotes/history"
	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"
)

type breadthSummary struct {
	OK         bool   `json:"ok"`
	FramesPath string `json:"frames_path"`
	OutputPath string `json:"output_path"`
	PointCount int    `json:"point_count"`
	DayKey     string `json:"day_key"`
}

func newBreadthCmd() *cobra.Command {
	var (
		framesPath string
		outPath    string
	)
	cmd := &cobra.Command{
		Use:   "breadth",
		Short: "Derive a market breadth (advancers/decliners) replay series from a frames file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if framesPath == "" || outPath == "" {
				return fmt.Errorf("--frames and --out are required")
			}
			batch, err := history.LoadFile(framesPath)
			if err != nil {
				return fmt.Errorf("load frames: %w", err)
			}
			market := batch.Market
			if len(batch.Frames) > 0 && batch.Frames[0].Market != "" {
				market = batch.Frames[0].Market
			}
			report := breadth.NewReport(market, framesPath, breadth.Build(batch.Frames), time.Now())
			if err := breadth.WriteFile(outPath, report); err != nil {
				return err
			}
			b, _ := json.Marshal(breadthSummary{
				OK:         true,
				FramesPath: framesPath,
				OutputPath: outPath,
				PointCount: report.PointCount,
				DayKey:     report.DayKey,
			})
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
	cmd.Flags().StringVar(&framesPath, "frames", "", "input frames file (.json / .parquet / .wal)")
	cmd.Flags().StringVar(&outPath, "out", "", "output breadth json path")
	return cmd
}
