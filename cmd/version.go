// cmd/version.go
package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/replyforge-ai/replyforge-cli/internal/update"
)

// Version will be set at build time
var Version = "dev"

var versionCheck bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of the ReplyForge agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("ReplyForge agent version %s\n", Version)
		if !versionCheck {
			return nil
		}
		release, err := update.NewChecker(Version).Check(cmd.Context())
		if err != nil {
			fmt.Fprintln(os.Stderr, color.YellowString("! update check failed: %v", err))
			return nil
		}
		if release == nil {
			fmt.Println(color.GreenString("✓ up to date"))
			return nil
		}
		fmt.Printf("%s %s is available: %s\n", color.YellowString("↑"), release.TagName, release.HTMLURL)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check GitHub for a newer release")
	rootCmd.AddCommand(versionCmd)
}
