// cmd/bulk.go
package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/replyforge-ai/replyforge-cli/internal/bulk"
)

var bulkYes bool

var bulkCmd = &cobra.Command{
	Use:   "bulk [positive|full]",
	Short: "Reply to the whole review list in one run",
	Long: `Works through the review list on the attached page, one review at a
time: positive mode answers reviews rated 4 stars and up, full mode
answers everything without an existing reply. The run pauses itself
after 20 outcomes as a safety measure; run the command again to
continue. Ctrl-C stops at the next review boundary.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"positive", "full"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var mode bulk.Mode
		switch args[0] {
		case "positive":
			mode = bulk.ModePositive
		case "full":
			mode = bulk.ModeFull
		default:
			return fmt.Errorf("unknown mode %q (want positive or full)", args[0])
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()
		app.startConnectivity(ctx)
		bridge, err := app.connectBridge(ctx)
		if err != nil {
			return err
		}

		confirm := func(m bulk.Mode, items int) bool {
			if bulkYes {
				return true
			}
			fmt.Printf("About to process up to %d review(s) in %s mode. Each reply costs one credit. Continue? [y/N] ", items, m)
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			answer = strings.ToLower(strings.TrimSpace(answer))
			return answer == "y" || answer == "yes"
		}

		driver, err := app.buildDriver(bridge, confirm)
		if err != nil {
			return err
		}

		// Ctrl-C requests a stop at the next review boundary.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			if _, ok := <-sigCh; ok {
				fmt.Println("\nStopping after the current review…")
				driver.Stop()
			}
		}()

		if err := driver.Run(ctx, mode); err != nil {
			return err
		}

		st := driver.RunState()
		fmt.Println()
		fmt.Printf("%s  processed %s, skipped %s, errors %s\n",
			runBadge(st),
			color.GreenString("%d", st.Processed),
			color.CyanString("%d", st.Skipped),
			color.RedString("%d", st.Errors),
		)
		if st.Reason != "" {
			fmt.Println(color.YellowString("  %s", st.Reason))
		}
		return nil
	},
}

func runBadge(st bulk.RunState) string {
	if st.State == bulk.StateCompleted {
		return color.GreenString("✓ run complete:")
	}
	return color.YellowString("■ run stopped:")
}

func init() {
	bulkCmd.Flags().BoolVarP(&bulkYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(bulkCmd)
}
