package main

import (
	"fmt"
	"os"

	"github.com/drblury/eventport/internal/ctl"
)

func main() {
	if err := ctl.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "eventportctl:", err)
		os.Exit(1)
	}
}
