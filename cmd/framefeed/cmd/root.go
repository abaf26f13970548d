package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ExitError 需要特定退出码的失败（例如 freshness --strict 返回 2）
type ExitError struct {
	Code int
	Msg  string
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit %d: %s", e.Code, e.Msg) }

type rootConfig struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	rc := &rootConfig{}
	cmd := &cobra.Command{
		Use:           "framefeed",
		Short:         "OHLCV frame supply: live passthrough, deterministic replay, synthetic fallback",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&rc.configFile, "config", "c", "", "config file (default ./config/framefeed.yaml)")

	cmd.AddCommand(
		newServeCmd(rc),
		newConvertCmd(),
		newFreshnessCmd(),
		newHistoryCmd(rc),
		newBreadthCmd(),
	)
	return cmd
}

func Execute() error {
	return newRootCmd().Execute()
}
