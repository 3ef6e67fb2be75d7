// Package forensics explains a simulated crash in plain language
package forensics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/psantana5/physician/pkg/gemini"
	"github.com/psantana5/physician/pkg/logging"
	"github.com/psantana5/physician/pkg/models"
	"github.com/psantana5/physician/pkg/retry"
)

// ErrForensicsFailure is returned when no explanation could be produced
var ErrForensicsFailure = errors.New("forensics failure")

// Incident is what the generator knows about a crash
type Incident struct {
	Command     string
	Material    string
	FrictionMu  float64
	CrashReason models.CrashReason
	Steps       int
	FinalZ      float64
}

// Generator produces the black-box narrative for an incident
type Generator interface {
	Explain(ctx context.Context, incident Incident) (string, error)
}

// TextGenerator is the part of the inference client used here
type TextGenerator interface {
	GenerateContent(ctx context.Context, parts []gemini.Part, config *gemini.GenerationConfig) (string, error)
}

// GeminiGenerator asks the model to reconstruct the accident
type GeminiGenerator struct {
	client  TextGenerator
	retry   retry.Config
	timeout time.Duration
	logger  *logging.Logger
}

// NewGeminiGenerator creates a generator. Transient errors are retried per rc.
func NewGeminiGenerator(client TextGenerator, rc retry.Config, timeout time.Duration, logger *logging.Logger) *GeminiGenerator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &GeminiGenerator{
		client:  client,
		retry:   rc,
		timeout: timeout,
		logger:  logger.WithField("component", "forensics"),
	}
}

// Prompt renders the instruction sent for incident
func Prompt(incident Incident) string {
	var b strings.Builder
	b.WriteString("SYSTEM: Act as a Forensic Robotics Engineer.\n")
	fmt.Fprintf(&b, "An accident occurred during the execution of: %q.\n", incident.Command)
	fmt.Fprintf(&b, "Surface Material: %s\n", incident.Material)
	fmt.Fprintf(&b, "Friction Coefficient (mu): %.2f\n", incident.FrictionMu)
	switch incident.CrashReason {
	case models.CrashReasonFlung:
		fmt.Fprintf(&b, "The payload was flung out of the stability envelope (z=%.2f m) after %d steps.\n", incident.FinalZ, incident.Steps)
	case models.CrashReasonFallen:
		fmt.Fprintf(&b, "The payload fell below the stability envelope (z=%.2f m) after %d steps.\n", incident.FinalZ, incident.Steps)
	default:
		b.WriteString("The robot has tipped over.\n")
	}
	b.WriteString("Reconstruct the event. Explain the 'Physical Law Violation' (e.g. Centripetal force vs Suction/Friction).\n")
	b.WriteString("Keep it technical and concise.")
	return b.String()
}

// Explain returns the model's narrative. Errors wrap ErrForensicsFailure.
func (g *GeminiGenerator) Explain(ctx context.Context, incident Incident) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	parts := []gemini.Part{gemini.TextPart(Prompt(incident))}
	attempt := 0

	var text string
	err := retry.DoIf(ctx, g.retry, retry.IsRetryable, func() error {
		attempt++
		var err error
		text, err = g.client.GenerateContent(ctx, parts, nil)
		if err != nil && attempt <= g.retry.MaxRetries && retry.IsRetryable(err) {
			g.logger.Warn("Forensics call failed, retrying", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrForensicsFailure, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty analysis", ErrForensicsFailure)
	}
	return text, nil
}

// ExplainOrPlaceholder never fails: on error it returns the placeholder and degraded=true
func ExplainOrPlaceholder(ctx context.Context, g Generator, incident Incident) (analysis string, degraded bool, err error) {
	analysis, err = g.Explain(ctx, incident)
	if err != nil {
		return models.ForensicsPlaceholder, true, err
	}
	return analysis, false, nil
}
