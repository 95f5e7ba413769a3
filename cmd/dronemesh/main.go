// SPDX-License-Identifier: GPL-3.0-or-later

// Command dronemesh runs drone mesh network scenarios.
package main

import (
	"fmt"
	"os"

	"github.com/dronemesh-project/dronemesh/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dronemesh:", err)
		os.Exit(1)
	}
}
