// cmd/login.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/replyforge-ai/replyforge-cli/internal/identity"
	"github.com/replyforge-ai/replyforge-cli/internal/platform"
	"github.com/replyforge-ai/replyforge-cli/internal/ui"
)

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate this machine with your ReplyForge account",
	Long: `Starts a device authorization flow: you will be shown a short code
and a URL to open in your browser. Once you approve the code there,
this machine receives a session token and can generate replies.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if s := app.sessions.Current(); s != nil {
			fmt.Printf("Already signed in as %s. Run 'replyforge logout' first to switch accounts.\n", s.Email)
			return nil
		}

		auth := identity.NewDeviceAuthClient(app.cfg.APIURL, Version)
		flow, err := auth.StartFlow()
		if err != nil {
			return err
		}

		fmt.Println()
		fmt.Printf("  Your code: %s\n", color.New(color.Bold, color.FgCyan).Sprint(flow.UserCode))
		fmt.Printf("  Open:      %s\n", ui.HyperlinkSelf(flow.VerificationURI))
		fmt.Println()

		// Best effort; the URL is already printed for headless sessions.
		if err := platform.OpenURL(flow.VerificationURI); err != nil {
			Debug("could not open browser: %v", err)
		}

		spinner := ui.NewSpinner(ui.StyleThinking)
		spinner.Start("Waiting for approval in the browser")
		token, err := auth.PollForToken(flow.DeviceCode, flow.Interval)
		if err != nil {
			spinner.Fail("Authorization failed")
			return err
		}

		err = app.sessions.Set(identity.Session{
			UserID:     token.UserID,
			Email:      token.Email,
			Token:      token.Token,
			Plan:       token.Plan,
			ObtainedAt: time.Now(),
		})
		if err != nil {
			spinner.Fail("Could not store the session")
			return err
		}
		spinner.Success(fmt.Sprintf("Signed in as %s (%s plan)", token.Email, token.Plan))

		// Warm the credit cache so status works offline right away.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if st, err := app.ledger.GetStatus(ctx); err == nil {
			fmt.Printf("  Credits available: %s\n", formatBalance(st.Balance.Available))
		} else {
			fmt.Fprintln(os.Stderr, color.YellowString("! could not read credit status: %v", err))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
