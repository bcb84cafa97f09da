package cli

import (
	"fmt"
	"io"

	"cryptofx/pkg/version"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print CLI version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetInfo()
			return render(cmd, info, func(w io.Writer) {
				fmt.Fprintf(w, "cryptofx CLI\n")
				fmt.Fprintf(w, " - version: %s\n", info.Version)
				fmt.Fprintf(w, " - git: %s\n", version.GetShortCommit())
				fmt.Fprintf(w, " - built: %s\n", info.BuildDate)
			})
		},
	}
}
