package cmd

import (
	"fmt"
	"os"
	"time"

	"framefeed.com/internal/quotes/livefile"
	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"
)

func newFreshnessCmd() *cobra.Command {
	var (
		root   string
		checks []string
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "freshness",
		Short: "Check live data files for existence and staleness",
		Example: "  framefeed freshness --root data --check live/frames.json:120:required\n" +
			"  framefeed freshness --check /abs/daily.json:86400:optional --strict",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(checks) == 0 {
				return fmt.Errorf("at least one --check is required")
			}
			specs := make([]livefile.CheckSpec, 0, len(checks))
			for _, raw := range checks {
				spec, err := livefile.ParseCheckSpec(raw)
				if err != nil {
					return err
				}
				specs = append(specs, spec)
			}
			if root == "" {
				root, _ = os.Getwd()
			}

			rep := livefile.CheckFreshness(root, specs, time.Now())
			b, err := json.MarshalIndent(rep, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))

			if strict && !rep.OK {
				return &ExitError{Code: 2, Msg: fmt.Sprintf("%d required check(s) failed", rep.RequiredFailCount)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "base dir for relative check paths (default cwd)")
	cmd.Flags().StringArrayVar(&checks, "check", nil, "path:max_age_sec[:required|optional], repeatable")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit 2 when a required check fails")
	return cmd
}
