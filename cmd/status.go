// cmd/status.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/replyforge-ai/replyforge-cli/internal/backend"
)

// formatBalance renders an available balance, honoring the unlimited
// sentinel.
func formatBalance(available int) string {
	if available == backend.UnlimitedBalance {
		return color.GreenString("unlimited")
	}
	if available <= 5 {
		return color.YellowString("%d", available)
	}
	return color.GreenString("%d", available)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show account, credits, and queue state",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		sess := app.sessions.Current()
		if sess == nil {
			fmt.Println("Not signed in. Run 'replyforge login' to get started.")
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		st, err := app.ledger.GetStatus(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Account:\t%s\n", sess.Email)
		fmt.Fprintf(w, "Plan:\t%s\n", st.Plan)
		fmt.Fprintf(w, "Credits:\t%s available", formatBalance(st.Balance.Available))
		if st.Balance.Available != backend.UnlimitedBalance {
			fmt.Fprintf(w, " (%d of %d used)", st.Balance.Used, st.Balance.Total)
		}
		fmt.Fprintln(w)
		if !st.Balance.ResetAt.IsZero() {
			fmt.Fprintf(w, "Resets:\t%s\n", st.Balance.ResetAt.Local().Format("2006-01-02 15:04"))
		}
		if len(st.Features) > 0 {
			fmt.Fprintf(w, "Features:\t%v\n", st.Features)
		}
		if queued, err := app.ledger.QueueLen(); err == nil && queued > 0 {
			fmt.Fprintf(w, "Queued:\t%s\n", color.YellowString("%d consumption request(s) awaiting replay", queued))
		}
		w.Flush()

		if st.Stale {
			fmt.Println(color.YellowString("⚠ backend unreachable — showing cached status from %s", st.CachedAt.Local().Format("15:04:05")))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
