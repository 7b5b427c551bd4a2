// cmd/logout.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/replyforge-ai/replyforge-cli/internal/errdefs"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear local state",
	Long: `Removes the stored session. Any consumption requests still queued
for offline replay are rejected and the cached credit status is
dropped; in-flight generations are left to finish on their own.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		sess := app.sessions.Current()
		if sess == nil {
			fmt.Println("Not signed in.")
			return nil
		}

		queued, _ := app.ledger.QueueLen()
		if err := app.sessions.Clear(); err != nil {
			return err
		}
		// The identity change also triggers this asynchronously; do it
		// here too so the command exits with clean state on disk.
		app.ledger.RejectQueue(errdefs.New(errdefs.KindUnauthenticated, "logged out"))
		if err := app.store.DeleteStatus(sess.UserID); err != nil {
			Debug("clear cached status: %v", err)
		}
		if queued > 0 {
			fmt.Printf("Dropped %d queued consumption request(s).\n", queued)
		}
		fmt.Println("Signed out.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
