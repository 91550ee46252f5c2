package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tfproviders/provider-mirror/version"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the version of the mirror",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}
