package cmd

import (
	"fmt"

	"framefeed.com/internal/quotes/convert"
	"framefeed.com/internal/quotes/history"
	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"
)

func newConvertCmd() *cobra.Command {
	var (
		rawPath   string
		outPath   string
		maxFrames int
	)
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert raw minute JSONL into a canonical frames file (.json or .parquet)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rawPath == "" || outPath == "" {
				return fmt.Errorf("--raw and --out are required")
			}
			if maxFrames < convert.MinMaxFrames {
				return fmt.Errorf("--max-frames must be >= %d", convert.MinMaxFrames)
			}
			sum, err := convert.Run(rawPath, outPath, maxFrames, history.SaveFile)
			if err != nil {
				return err
			}
			b, _ := json.Marshal(sum)
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
	cmd.Flags().StringVar(&rawPath, "raw", "", "raw minute jsonl path")
	cmd.Flags().StringVar(&outPath, "out", "", "output batch path (.json / .parquet)")
	cmd.Flags().IntVar(&maxFrames, "max-frames", convert.DefaultMaxFrames, "keep at most the newest N frames")
	return cmd
}
