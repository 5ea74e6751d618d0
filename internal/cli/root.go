package cli

import (
	"io"

	"github.com/spf13/cobra"
)

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func NewRootCommand(out io.Writer, build BuildInfo) *cobra.Command {
	globals := &GlobalOptions{}

	cmd := &cobra.Command{
		Use:           "bstore",
		Short:         "Origin-scoped key/value and object database storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageErrorf("%v", err)
	})

	flags := cmd.PersistentFlags()
	flags.StringVarP(&globals.Origin, "origin", "o", "", "Origin the command operates on")
	flags.StringVar(&globals.ConfigPath, "config", "", "Config file path")
	flags.StringVar(&globals.DataDir, "data-dir", "", "Data directory override")
	flags.BoolVar(&globals.JSON, "json", false, "Print machine-readable JSON")
	flags.BoolVar(&globals.Quiet, "quiet", false, "Suppress non-essential output")
	flags.BoolVar(&globals.Verbose, "verbose", false, "Enable debug logging")

	deps := commandDeps{out: out, errOut: out, globals: globals, build: build}

	cmd.AddCommand(newKVCommand(deps))
	cmd.AddCommand(newDBCommand(deps))
	cmd.AddCommand(newBrowseCommand(deps))
	cmd.AddCommand(newDoctorCommand(deps))
	cmd.AddCommand(newVersionCommand(deps))
	cmd.InitDefaultCompletionCmd()
	return cmd
}
