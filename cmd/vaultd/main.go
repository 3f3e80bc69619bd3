// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luxfi/log"
	"github.com/luxfi/utils/ulimit"

	"github.com/luxfi/vault/cmd/vaultd/run"
	"github.com/luxfi/vault/vms/vaultvm"
)

func main() {
	if err := ulimit.Set(ulimit.DefaultFDLimit, log.Root()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set fd limit: %s\n", err)
		os.Exit(1)
	}

	cmd := &cobra.Command{
		Use:          "vaultd",
		Short:        "Runs vault networks",
		Version:      vaultvm.Version.String(),
		SilenceUsage: true,
	}
	cmd.AddCommand(run.Command())

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "vaultd failed: %s\n", err)
		os.Exit(1)
	}
}
