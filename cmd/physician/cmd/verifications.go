package cmd

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/physician/pkg/models"
	"github.com/psantana5/physician/pkg/store"
)

var (
	listVerdict string
	listLimit   int
	listSince   time.Duration
)

var verificationsCmd = &cobra.Command{
	Use:     "verifications",
	Aliases: []string{"ledger"},
	Short:   "Browse the verification audit ledger",
}

var verificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent verifications",
	RunE:  runVerificationsList,
}

var verificationsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one verification",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerificationsGet,
}

var verificationsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show verdict totals",
	RunE:  runVerificationsStats,
}

func init() {
	rootCmd.AddCommand(verificationsCmd)
	verificationsCmd.AddCommand(verificationsListCmd)
	verificationsCmd.AddCommand(verificationsGetCmd)
	verificationsCmd.AddCommand(verificationsStatsCmd)

	verificationsListCmd.Flags().StringVar(&listVerdict, "verdict", "", "filter by verdict: GO or BLOCKED")
	verificationsListCmd.Flags().IntVar(&listLimit, "limit", store.DefaultListLimit, "maximum rows")
	verificationsListCmd.Flags().DurationVar(&listSince, "since", 0, "only show verifications newer than this (e.g. 1h)")
}

type verificationsListResponse struct {
	Verifications []models.VerificationRecord `json:"verifications"`
	Count         int                         `json:"count"`
}

func listURL() string {
	q := url.Values{}
	if listVerdict != "" {
		q.Set("verdict", listVerdict)
	}
	if listLimit > 0 {
		q.Set("limit", strconv.Itoa(listLimit))
	}
	if listSince > 0 {
		q.Set("since", time.Now().Add(-listSince).UTC().Format(time.RFC3339))
	}
	u := GetServerURL() + "/verifications"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func runVerificationsList(cmd *cobra.Command, args []string) error {
	req, err := CreateAuthenticatedRequest("GET", listURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	var result verificationsListResponse
	if err := doRequest(req, &result); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if done, err := printStructured(out, result); done {
		return err
	}

	table := tablewriter.NewWriter(out)
	table.Header("ID", "Verdict", "Crash", "Intent", "Governor", "Material", "mu", "Command", "When")
	for _, rec := range result.Verifications {
		table.Append(
			shortID(rec.ID),
			string(rec.Verdict),
			yesNo(rec.IsCrash),
			yesNo(rec.DangerousIntent),
			yesNo(rec.GovernorActive),
			rec.Material,
			fmt.Sprintf("%.2f", rec.FrictionMu),
			truncate(rec.Command, 32),
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	table.Render()
	fmt.Fprintf(out, "\n%d verification(s)\n", result.Count)
	return nil
}

func runVerificationsGet(cmd *cobra.Command, args []string) error {
	req, err := CreateAuthenticatedRequest("GET", GetServerURL()+"/verifications/"+url.PathEscape(args[0]), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	var rec models.VerificationRecord
	if err := doRequest(req, &rec); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if done, err := printStructured(out, rec); done {
		return err
	}

	table := tablewriter.NewWriter(out)
	table.Header("Field", "Value")
	table.Append("ID", rec.ID)
	table.Append("Command", rec.Command)
	table.Append("Verdict", string(rec.Verdict))
	table.Append("Simulated Crash", yesNo(rec.IsCrash))
	table.Append("Dangerous Intent", yesNo(rec.DangerousIntent))
	table.Append("Governor", governorLabel(rec.GovernorActive))
	table.Append("Forensics Degraded", yesNo(rec.ForensicsDegraded))
	table.Append("Material", rec.Material)
	table.Append("Friction (mu)", fmt.Sprintf("%.2f", rec.FrictionMu))
	table.Append("Mass", fmt.Sprintf("%.2f kg", rec.MassKg))
	table.Append("Steps", strconv.Itoa(rec.Steps))
	table.Append("Duration", fmt.Sprintf("%d ms", rec.DurationMs))
	table.Append("Created At", rec.CreatedAt.Format(time.RFC3339))
	table.Render()
	return nil
}

func runVerificationsStats(cmd *cobra.Command, args []string) error {
	req, err := CreateAuthenticatedRequest("GET", GetServerURL()+"/verifications/stats", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	var stats store.Stats
	if err := doRequest(req, &stats); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if done, err := printStructured(out, stats); done {
		return err
	}

	table := tablewriter.NewWriter(out)
	table.Header("Metric", "Value")
	table.Append("Total", strconv.Itoa(stats.Total))
	table.Append("GO", strconv.Itoa(stats.Go))
	table.Append("BLOCKED", strconv.Itoa(stats.Blocked))
	table.Append("Simulated Crashes", strconv.Itoa(stats.Crashes))
	table.Append("Dangerous Intent", strconv.Itoa(stats.DangerousIntent))
	table.Append("Governor Active", strconv.Itoa(stats.GovernorActive))
	table.Append("Forensics Degraded", strconv.Itoa(stats.ForensicsDegraded))
	table.Append("Avg Duration", fmt.Sprintf("%.0f ms", stats.AvgDurationMs))
	table.Render()
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
