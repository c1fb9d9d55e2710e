// Package commands implements the ivtree command line.
package commands

import (
	"github.com/spf13/cobra"
)

const (
	rootCmdUse   = "ivtree"
	rootCmdShort = "Augmented interval tree toolkit"
	rootCmdLong  = `ivtree exercises a concurrent red-black interval tree.

Commands:
  bench     Insert, find and delete random address ranges and report timings
  stress    Randomized insert/delete with concurrent readers and invariant checks
  replay    Re-run a recorded operation log with validation
  load      Load intervals from a JSON file and query them
  config    Show the effective configuration
  version   Show version information`

	configFlag       = "config"
	configFlagShort  = "c"
	configFlagUsage  = "path to ivtree.yaml (default: ./ivtree.yaml, ./config, /etc/ivtree)"
	verboseFlag      = "verbose"
	verboseFlagShort = "v"
	quietFlag        = "quiet"
	quietFlagShort   = "q"
)

// NewRootCommand builds the ivtree command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           rootCmdUse,
		Short:         rootCmdShort,
		Long:          rootCmdLong,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP(configFlag, configFlagShort, "", configFlagUsage)
	root.PersistentFlags().BoolP(verboseFlag, verboseFlagShort, false, "debug logging")
	root.PersistentFlags().BoolP(quietFlag, quietFlagShort, false, "only log errors")

	root.AddCommand(
		NewBenchCommand(),
		NewStressCommand(),
		NewReplayCommand(),
		NewLoadCommand(),
		NewConfigCommand(),
		NewVersionCommand(),
	)

	return root
}
