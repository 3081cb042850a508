package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(_ *cobra.Command, _ []string) error {
		deps := crucible.GetVersion()
		if versionJSON {
			return printJSON(stdout, map[string]string{
				"version":   versionInfo.Version,
				"commit":    versionInfo.Commit,
				"buildDate": versionInfo.BuildDate,
				"goVersion": runtime.Version(),
				"gofulmen":  deps.Gofulmen,
				"crucible":  deps.Crucible,
			})
		}
		_, _ = fmt.Fprintf(stdout, "phoenixd %s (commit %s, built %s)\n", versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
		_, _ = fmt.Fprintf(stdout, "%s %s/%s, gofulmen %s, crucible %s\n",
			runtime.Version(), runtime.GOOS, runtime.GOARCH, deps.Gofulmen, deps.Crucible)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print as JSON")
}
