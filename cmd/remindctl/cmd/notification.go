package cmd

import (
	"fmt"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/austindbirch/harbor_remind/internal/notification"
)

// createCmd represents the create command
var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Schedule a bill reminder",
	Long: `Schedule a reminder email. Without --send-at the reminder goes out one day
before --due-date, or immediately when neither is given.

Example:
  remindctl create --email me@example.com --title "Electricity" --amount 1450.5 --due-date 2025-11-15`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := requestFromFlags(cmd)
		if err != nil {
			return err
		}

		var resp struct {
			InsertedID   string    `json:"insertedId"`
			ScheduledFor time.Time `json:"scheduledFor"`
		}
		raw, err := doRequest(cmd.Context(), "POST", "/notifications", req, &resp)
		if err != nil {
			return fmt.Errorf("failed to create notification: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, raw)
		}
		fmt.Fprintf(out, "✓ Reminder scheduled\n")
		fmt.Fprintf(out, "  ID: %s\n", resp.InsertedID)
		fmt.Fprintf(out, "  Scheduled for: %s\n", resp.ScheduledFor.Format(time.RFC3339))
		return nil
	},
}

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List your reminders",
	Long: `List every reminder addressed to the caller, newest first.

Example:
  remindctl list --email me@example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/notifications"
		if email, _ := cmd.Flags().GetString("email"); email != "" {
			path += "?email=" + url.QueryEscape(email)
		}

		var list []notification.Notification
		raw, err := doRequest(cmd.Context(), "GET", path, nil, &list)
		if err != nil {
			return fmt.Errorf("failed to list notifications: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, raw)
		}
		if len(list) == 0 {
			fmt.Fprintln(out, "No reminders found")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tATTEMPTS\tSEND AT")
		for _, n := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", n.ID, n.Title, n.Status, n.Attempts, n.SendAt.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

// cancelCmd represents the cancel command
var cancelCmd = &cobra.Command{
	Use:   "cancel [notification-id]",
	Short: "Cancel a reminder",
	Long: `Cancel a reminder you own so the worker never sends it.

Example:
  remindctl cancel 6a1f...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := doRequest(cmd.Context(), "DELETE", "/notifications/"+url.PathEscape(args[0]), nil, nil)
		if err != nil {
			return fmt.Errorf("failed to cancel notification: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, raw)
		}
		fmt.Fprintf(out, "✓ Reminder %s cancelled\n", args[0])
		return nil
	},
}

// attemptsCmd represents the attempts command
var attemptsCmd = &cobra.Command{
	Use:   "attempts [notification-id]",
	Short: "Show delivery attempts for a reminder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var logs []notification.AttemptLog
		raw, err := doRequest(cmd.Context(), "GET", "/notifications/"+url.PathEscape(args[0])+"/attempts", nil, &logs)
		if err != nil {
			return fmt.Errorf("failed to get attempts: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, raw)
		}
		fmt.Fprintf(out, "Delivery attempts for %s:\n", args[0])
		if len(logs) == 0 {
			fmt.Fprintln(out, "  No delivery attempts found")
			return nil
		}
		for i, a := range logs {
			fmt.Fprintf(out, "\n  Attempt %d:\n", i+1)
			fmt.Fprintf(out, "    Channel: %s\n", a.Channel)
			fmt.Fprintf(out, "    Outcome: %s\n", a.Outcome)
			fmt.Fprintf(out, "    At: %s\n", a.OccurredAt.Format("2006-01-02 15:04:05"))
			if a.Detail != "" {
				fmt.Fprintf(out, "    Detail: %s\n", a.Detail)
			}
		}
		return nil
	},
}

// previewCmd represents the preview command
var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Send a reminder email right now without scheduling it",
	Long: `Render and send one reminder email immediately. Nothing is stored.

Example:
  remindctl preview --email me@example.com --title "Water" --provider WASA`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := requestFromFlags(cmd)
		if err != nil {
			return err
		}

		var resp struct {
			Success bool   `json:"success"`
			ID      string `json:"id"`
		}
		raw, err := doRequest(cmd.Context(), "POST", "/notifications/preview", req, &resp)
		if err != nil {
			return fmt.Errorf("failed to send preview: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, raw)
		}
		fmt.Fprintf(out, "✓ Preview sent (message id %s)\n", resp.ID)
		return nil
	},
}

// addRequestFlags registers the reminder fields shared by create and preview
func addRequestFlags(c *cobra.Command) {
	c.Flags().String("email", "", "recipient email (defaults to the caller)")
	c.Flags().String("title", "", "reminder title")
	c.Flags().String("message", "", "free-form message")
	c.Flags().String("provider", "", "bill provider name")
	c.Flags().Float64("amount", 0, "amount due")
	c.Flags().String("bill-id", "", "bill reference")
	c.Flags().String("due-date", "", "bill due date (RFC3339 or YYYY-MM-DD)")
	c.Flags().String("send-at", "", "when to send (RFC3339 or YYYY-MM-DD)")
	c.Flags().String("channels", "", "comma-separated delivery channels (default email)")
}

func requestFromFlags(c *cobra.Command) (notification.CreateRequest, error) {
	f := c.Flags()
	var req notification.CreateRequest
	req.Email, _ = f.GetString("email")
	req.Title, _ = f.GetString("title")
	req.Message, _ = f.GetString("message")
	req.ProviderName, _ = f.GetString("provider")
	req.BillID, _ = f.GetString("bill-id")
	req.DueDate, _ = f.GetString("due-date")
	req.SendAt, _ = f.GetString("send-at")

	if f.Changed("amount") {
		amount, err := f.GetFloat64("amount")
		if err != nil {
			return req, fmt.Errorf("invalid amount: %w", err)
		}
		req.Amount = &amount
	}
	if ch, _ := f.GetString("channels"); ch != "" {
		for _, name := range strings.Split(ch, ",") {
			if name = strings.TrimSpace(name); name != "" {
				req.Channels = append(req.Channels, name)
			}
		}
	}
	return req, nil
}

func init() {
	addRequestFlags(createCmd)
	addRequestFlags(previewCmd)
	listCmd.Flags().String("email", "", "whose reminders to list (defaults to the caller)")

	rootCmd.AddCommand(createCmd, listCmd, cancelCmd, attemptsCmd, previewCmd)
}
