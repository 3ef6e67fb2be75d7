package cmd

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/physician/pkg/models"
	"github.com/psantana5/physician/pkg/perception"
)

var (
	verifyImage   string
	verifyCommand string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a motion command against a scene image",
	Long: `Upload a scene image and a robot command to the server and print the verdict.
Exits non-zero when the verdict is BLOCKED.`,
	Example: `  physician verify --image scene.jpg --command "move right slowly"
  physician verify --image tray.png --command "lift fast" -o json`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVarP(&verifyImage, "image", "i", "", "scene image file (required)")
	verifyCmd.Flags().StringVarP(&verifyCommand, "command", "c", "", "robot command to verify (required)")
	verifyCmd.MarkFlagRequired("image")
	verifyCmd.MarkFlagRequired("command")
}

// ErrBlocked is returned by verify so the process exits non-zero on BLOCKED
var ErrBlocked = fmt.Errorf("verdict: %s", models.VerdictBlocked)

func buildVerifyForm(imagePath, command string) (*bytes.Buffer, string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("command", command); err != nil {
		return nil, "", err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filepath.Base(imagePath)))
	h.Set("Content-Type", perception.DetectMimeType(data))
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	body, contentType, err := buildVerifyForm(verifyImage, verifyCommand)
	if err != nil {
		return err
	}

	req, err := CreateAuthenticatedRequest("POST", GetServerURL()+"/verify", body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	var result models.VerifyResponse
	if err := doRequest(req, &result); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if done, err := printStructured(out, result); done {
		if err != nil {
			return err
		}
	} else {
		renderVerdict(out, verifyCommand, result)
	}

	if result.Verdict == models.VerdictBlocked {
		return ErrBlocked
	}
	return nil
}

func renderVerdict(w io.Writer, command string, r models.VerifyResponse) {
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")

	reasons := make([]string, len(r.BlockReasons))
	for i, reason := range r.BlockReasons {
		reasons[i] = string(reason)
	}

	table.Append("Request", r.RequestID)
	table.Append("Command", command)
	table.Append("Verdict", string(r.Verdict))
	if len(reasons) > 0 {
		table.Append("Block Reasons", strings.Join(reasons, ", "))
	}
	table.Append("Simulated Crash", fmt.Sprintf("%t", r.IsCrash))
	table.Append("Governor", governorLabel(r.GovernorActive))
	table.Append("Material", r.Telemetry.Material)
	table.Append("Friction (mu)", fmt.Sprintf("%.2f", r.Telemetry.FrictionMu))
	table.Append("Mass", fmt.Sprintf("%.2f kg", r.Telemetry.MassKg))
	table.Append("Velocity", fmt.Sprintf("%.2f m/s", r.Telemetry.VelocityMS))
	table.Append("Steps", fmt.Sprintf("%d", r.Telemetry.Steps))
	table.Append("Final Position", fmt.Sprintf("(%.3f, %.3f, %.3f)",
		r.Telemetry.FinalPosition.X, r.Telemetry.FinalPosition.Y, r.Telemetry.FinalPosition.Z))
	table.Render()

	fmt.Fprintf(w, "\nReasoning: %s\n", r.Reasoning)
	if r.ForensicAnalysis != "" {
		fmt.Fprintf(w, "\nBlack box:\n%s\n", r.ForensicAnalysis)
	}

	if r.Verdict == models.VerdictGo {
		fmt.Fprintln(w, "\n✓ GO")
	} else {
		fmt.Fprintln(w, "\n✗ BLOCKED")
	}
}

func governorLabel(active bool) string {
	if active {
		return "ACTIVE (low friction)"
	}
	return "inactive"
}
