// physician-sim runs the physics check on hand-entered parameters, without
// an image or a model call. Useful for tuning the envelope and force rules.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/physician/internal/simulation"
	"github.com/psantana5/physician/internal/verdict"
	"github.com/psantana5/physician/pkg/logging"
	"github.com/psantana5/physician/pkg/models"
	"github.com/psantana5/physician/pkg/physics"
	"github.com/psantana5/physician/pkg/resources"
)

type options struct {
	command   string
	material  string
	mu        float64
	mass      float64
	velocity  float64
	dangerous bool
	steps     int
	sweep     bool
	output    string
	verbose   bool
}

type report struct {
	Command  string                   `json:"command"`
	Rules    []string                 `json:"rules"`
	Estimate models.PhysicalEstimate  `json:"estimate"`
	Outcome  models.SimulationOutcome `json:"outcome"`
	Verdict  models.Verdict           `json:"verdict"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "physician-sim",
		Short: "Run the PHYSICIAN rigid-body check offline",
		Example: `  physician-sim --command "move right slowly" --mu 0.25 --mass 2
  physician-sim --command "lift fast" --mass 2 -o json
  physician-sim --command "move left" --mass 5 --sweep`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.command, "command", "c", "", "robot command (required)")
	f.StringVar(&opts.material, "material", "unknown", "surface material label")
	f.Float64Var(&opts.mu, "mu", 0.5, "friction coefficient in [0.1, 1.0]")
	f.Float64Var(&opts.mass, "mass", 1.0, "payload mass in kg")
	f.Float64Var(&opts.velocity, "velocity", 0.5, "requested velocity in m/s (reported only)")
	f.BoolVar(&opts.dangerous, "dangerous", false, "treat the command as dangerous intent")
	f.IntVar(&opts.steps, "steps", simulation.DefaultConfig().Steps, "simulation step budget")
	f.BoolVar(&opts.sweep, "sweep", false, "repeat over a range of friction values")
	f.StringVarP(&opts.output, "output", "o", "table", "output format: table or json")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log engine activity")
	cmd.MarkFlagRequired("command")

	return cmd
}

func run(ctx context.Context, w io.Writer, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := logging.Discard()
	if opts.verbose {
		logger = logging.NewLogger(logging.DEBUG, false)
	}

	cfg := simulation.DefaultConfig()
	cfg.Steps = opts.steps
	driver := simulation.NewDriver(physics.NewEngine(resources.NewManager(), cfg.Sessions), cfg, logger)

	frictions := []float64{opts.mu}
	if opts.sweep {
		frictions = []float64{0.1, 0.2, 0.3, 0.35, 0.4, 0.5, 0.6, 0.8, 1.0}
	}

	var reports []report
	for _, mu := range frictions {
		est := models.PhysicalEstimate{
			Material:          opts.material,
			FrictionMu:        mu,
			MassKg:            opts.mass,
			VelocityMS:        opts.velocity,
			IsDangerousIntent: opts.dangerous,
		}
		if err := est.Validate(); err != nil {
			return err
		}

		outcome, err := driver.Run(ctx, &est, opts.command)
		if err != nil {
			return err
		}
		reports = append(reports, report{
			Command:  opts.command,
			Rules:    simulation.DefaultRules.Matches(opts.command),
			Estimate: est,
			Outcome:  *outcome,
			Verdict:  verdict.Decide(*outcome, est),
		})
	}

	if opts.output == "json" {
		var v interface{} = reports
		if len(reports) == 1 {
			v = reports[0]
		}
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(w, string(out))
		return nil
	}

	renderReports(w, reports)
	return nil
}

func renderReports(w io.Writer, reports []report) {
	if len(reports) == 0 {
		return
	}
	first := reports[0]
	rules := strings.Join(first.Rules, "+")
	if rules == "" {
		rules = "none (gravity only)"
	}
	fmt.Fprintf(w, "Command: %q  rules: %s  force: (%.0f, %.0f, %.0f) N\n\n",
		first.Command, rules, first.Outcome.Force.X, first.Outcome.Force.Y, first.Outcome.Force.Z)

	table := tablewriter.NewWriter(w)
	table.Header("mu", "Verdict", "Crash", "Governor", "Steps", "Final X", "Final Z")
	for _, r := range reports {
		crash := "-"
		if r.Outcome.IsCrash {
			crash = string(r.Outcome.CrashReason)
		}
		governor := "-"
		if r.Verdict.GovernorActive {
			governor = "ACTIVE"
		}
		table.Append(
			fmt.Sprintf("%.2f", r.Estimate.ClampedFriction()),
			string(r.Verdict.Status),
			crash,
			governor,
			fmt.Sprintf("%d/%d", r.Outcome.StepsTaken, r.Outcome.StepBudget),
			fmt.Sprintf("%.3f", r.Outcome.FinalPosition.X),
			fmt.Sprintf("%.3f", r.Outcome.FinalPosition.Z),
		)
	}
	table.Render()
}
