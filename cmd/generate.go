// cmd/generate.go
package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/replyforge-ai/replyforge-cli/internal/backend"
	"github.com/replyforge-ai/replyforge-cli/internal/content"
	"github.com/replyforge-ai/replyforge-cli/internal/errdefs"
	"github.com/replyforge-ai/replyforge-cli/internal/orchestrator"
	"github.com/replyforge-ai/replyforge-cli/internal/ui"
)

var (
	generateReviewID string
	generateRating   int
	generateText     string
	generateFill     bool
	generateSubmit   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate one AI reply",
	Long: `Generates a reply for a single review. With no flags the review is
read from the attached page; --text and --rating describe it inline
instead. --fill types the reply into the page, --submit also sends it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()
		app.startConnectivity(ctx)

		var agent content.Agent
		req := orchestrator.Request{
			SystemPrompt: app.cfg.SystemPrompt,
			ReviewID:     generateReviewID,
			Rating:       generateRating,
		}

		if generateText != "" {
			req.UserPrompt = fmt.Sprintf("Rating: %d/5\n%s", generateRating, generateText)
		} else {
			// Read the review off the page.
			bridge, err := app.connectBridge(ctx)
			if err != nil {
				return err
			}
			agent = bridge
			item, err := bridge.CurrentItem(ctx)
			if err != nil {
				return err
			}
			if req.ReviewID == "" {
				req.ReviewID = item.ID
			}
			req.Rating = item.Rating
			req.UserPrompt = fmt.Sprintf("Rating: %d/5\n%s", item.Rating, item.Text)
			fmt.Printf("Review %s (%d★): %s\n", item.ID, item.Rating, truncateLine(item.Text, 80))
		}

		spinner := ui.NewSpinner(ui.StyleWorking)
		spinner.Start("Generating reply")
		req.Progress = func(status string) { spinner.UpdateDetail(status) }

		orch, err := app.buildOrchestrator(agent)
		if err != nil {
			spinner.Stop("")
			return err
		}

		res, err := orch.Generate(ctx, req)
		if err != nil {
			spinner.Fail(friendlyError(err))
			return err
		}
		spinner.Success("Reply ready")

		fmt.Println()
		fmt.Println(res.ReplyText)
		fmt.Println()
		if res.Remaining != backend.UnlimitedBalance {
			fmt.Println(color.HiBlackString("credits remaining: %d", res.Remaining))
		}

		if generateFill || generateSubmit {
			if agent == nil {
				return fmt.Errorf("--fill/--submit need an attached page (omit --text)")
			}
			if err := agent.FillReply(ctx, res.ReplyText); err != nil {
				return err
			}
			if generateSubmit {
				if err := agent.SubmitReply(ctx); err != nil {
					return err
				}
				fmt.Println(color.GreenString("✓ reply submitted"))
			} else {
				fmt.Println(color.GreenString("✓ reply filled in, review before sending"))
			}
		}
		return nil
	},
}

// friendlyError turns a classified failure into operator guidance.
func friendlyError(err error) string {
	switch errdefs.KindOf(err) {
	case errdefs.KindUnauthenticated:
		return "Not signed in — run 'replyforge login'"
	case errdefs.KindInsufficientCredits:
		return "Out of credits — upgrade your plan or wait for the reset"
	case errdefs.KindTrialAlreadyUsed:
		return "The free trial reply was already used on this account"
	case errdefs.KindFeatureNotEntitled:
		return "Your plan does not include this feature"
	case errdefs.KindTimeout:
		return "The job is taking longer than expected — it may still finish, check back shortly"
	case errdefs.KindDeferred:
		return "Backend unreachable — the request was queued for when you're back online"
	case errdefs.KindEmptyResult:
		return "The model returned an empty reply — try again"
	default:
		return err.Error()
	}
}

func truncateLine(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func init() {
	generateCmd.Flags().StringVar(&generateReviewID, "review-id", "", "review identifier (defaults to the focused review)")
	generateCmd.Flags().IntVar(&generateRating, "rating", 0, "star rating when using --text")
	generateCmd.Flags().StringVar(&generateText, "text", "", "review text (skips reading the page)")
	generateCmd.Flags().BoolVar(&generateFill, "fill", false, "type the reply into the page")
	generateCmd.Flags().BoolVar(&generateSubmit, "submit", false, "fill and submit the reply")
	rootCmd.AddCommand(generateCmd)
}
