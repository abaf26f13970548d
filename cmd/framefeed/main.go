package main

import (
	"errors"
	"fmt"
	"os"

	"framefeed.com/cmd/framefeed/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		var ee *cmd.ExitError
		if errors.As(err, &ee) {
			os.Exit(ee.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
