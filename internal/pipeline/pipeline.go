// Package pipeline runs one verification end to end:
// perception, simulation, arbiter, forensics, then the audit ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/physician/internal/forensics"
	"github.com/psantana5/physician/internal/simulation"
	"github.com/psantana5/physician/internal/verdict"
	"github.com/psantana5/physician/pkg/logging"
	"github.com/psantana5/physician/pkg/metrics"
	"github.com/psantana5/physician/pkg/models"
	"github.com/psantana5/physician/pkg/perception"
	"github.com/psantana5/physician/pkg/store"
	"github.com/psantana5/physician/pkg/tracing"
)

// ErrInvalidRequest is returned before any stage runs
var ErrInvalidRequest = errors.New("invalid verification request")

const ledgerTimeout = 5 * time.Second

// Simulator runs the physics check. *simulation.Driver implements it.
type Simulator interface {
	Run(ctx context.Context, est *models.PhysicalEstimate, command string) (*models.SimulationOutcome, error)
}

// Request is one image plus the command to check against it
type Request struct {
	Image   perception.Image
	Command string
}

// Pipeline wires the stages together. Store, metrics and tracer are optional.
type Pipeline struct {
	perception perception.Adapter
	simulator  Simulator
	forensics  forensics.Generator

	store   store.Store
	metrics *metrics.Metrics
	tracer  *tracing.Provider
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

func WithStore(s store.Store) Option { return func(p *Pipeline) { p.store = s } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

func WithTracer(t *tracing.Provider) Option { return func(p *Pipeline) { p.tracer = t } }

func WithLogger(l *logging.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// New creates a pipeline over the three model-facing stages
func New(adapter perception.Adapter, sim Simulator, gen forensics.Generator, opts ...Option) *Pipeline {
	p := &Pipeline{
		perception: adapter,
		simulator:  sim,
		forensics:  gen,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	if p.tracer == nil {
		p.tracer = tracing.NewProvider("physician")
	}
	p.logger = p.logger.WithField("component", "pipeline")
	return p
}

// Verify runs every stage for req. A perception or simulation error aborts the
// request with no verdict; a forensics error only degrades the narrative.
func (p *Pipeline) Verify(ctx context.Context, req Request) (*models.VerificationResult, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, fmt.Errorf("%w: command is required", ErrInvalidRequest)
	}
	if len(req.Image.Data) == 0 {
		return nil, fmt.Errorf("%w: image is empty", ErrInvalidRequest)
	}

	requestID := models.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
		ctx = models.WithRequestID(ctx, requestID)
	}
	logger := p.logger.WithField("request_id", requestID)

	if p.metrics != nil {
		defer p.metrics.TrackInFlight()()
	}

	ctx, span := p.tracer.StartSpan(ctx, "verify",
		attribute.String("request.id", requestID),
		attribute.String("robot.command", req.Command),
	)
	defer span.End()

	result := &models.VerificationResult{
		RequestID:      requestID,
		Command:        req.Command,
		StartedAt:      p.now(),
		StageDurations: make(map[string]float64, 5),
	}

	logger.Info("Verification started", map[string]interface{}{"command": req.Command})

	// Perception must succeed; there is nothing to simulate without it
	var est *models.PhysicalEstimate
	err := p.stage(ctx, result, metrics.StagePerception, func(ctx context.Context) error {
		var err error
		est, err = p.perception.Estimate(ctx, req.Image, req.Command)
		return err
	})
	if err != nil {
		logger.Error("Perception failed", map[string]interface{}{"error": err.Error()})
		tracing.SetError(ctx, err)
		return nil, err
	}
	result.Estimate = *est

	if perception.SafeHarborApplies(req.Command, est.VelocityMS) && est.IsDangerousIntent {
		tracing.AddEvent(ctx, "safe_harbor_violation")
	}

	var outcome *models.SimulationOutcome
	err = p.stage(ctx, result, metrics.StageSimulation, func(ctx context.Context) error {
		var err error
		outcome, err = p.simulator.Run(ctx, est, req.Command)
		return err
	})
	if err != nil {
		logger.Error("Simulation failed", map[string]interface{}{"error": err.Error()})
		tracing.SetError(ctx, err)
		return nil, err
	}
	result.Outcome = *outcome

	p.stage(ctx, result, metrics.StageArbiter, func(ctx context.Context) error {
		result.Verdict = verdict.Decide(result.Outcome, result.Estimate)
		return nil
	})

	// The simulator has released its session by now
	if result.Outcome.IsCrash {
		incident := forensics.Incident{
			Command:     req.Command,
			Material:    est.Material,
			FrictionMu:  est.FrictionMu,
			CrashReason: outcome.CrashReason,
			Steps:       outcome.StepsTaken,
			FinalZ:      outcome.FinalPosition.Z,
		}
		p.stage(ctx, result, metrics.StageForensics, func(ctx context.Context) error {
			analysis, degraded, err := forensics.ExplainOrPlaceholder(ctx, p.forensics, incident)
			result.Verdict.ForensicAnalysis = analysis
			result.ForensicsDegraded = degraded
			if err != nil {
				logger.Warn("Forensics unavailable, using placeholder", map[string]interface{}{"error": err.Error()})
			}
			return err
		})
	}

	result.Duration = p.now().Sub(result.StartedAt)

	if p.store != nil {
		// The audit write outlives a caller that has already gone away
		ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
		err := p.stage(ledgerCtx, result, metrics.StageLedger, func(ctx context.Context) error {
			return p.store.SaveVerification(ctx, models.NewVerificationRecord(result))
		})
		cancel()
		if err != nil {
			logger.Warn("Failed to record verification", map[string]interface{}{"error": err.Error()})
		}
	}

	if p.metrics != nil {
		p.metrics.RecordResult(result)
	}

	span.SetAttributes(
		attribute.String("verdict", string(result.Verdict.Status)),
		attribute.Bool("is_crash", result.Verdict.IsCrash),
		attribute.Bool("governor_active", result.Verdict.GovernorActive),
	)

	logger.Info("Verification complete", map[string]interface{}{
		"verdict":            string(result.Verdict.Status),
		"is_crash":           result.Verdict.IsCrash,
		"governor_active":    result.Verdict.GovernorActive,
		"forensics_degraded": result.ForensicsDegraded,
		"duration_ms":        result.Duration.Milliseconds(),
	})
	return result, nil
}

// stage runs fn in its own span and records its duration
func (p *Pipeline) stage(ctx context.Context, result *models.VerificationResult, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer.StartSpan(ctx, name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	result.StageDurations[name] = elapsed.Seconds()
	kind := ""
	if err != nil {
		kind = ErrorKind(err)
		span.SetAttributes(attribute.String("error.kind", kind))
		tracing.SetError(ctx, err)
	}
	if p.metrics != nil {
		p.metrics.ObserveStage(name, elapsed, kind)
	}
	return err
}

// ErrorKind classifies err for metrics labels and HTTP mapping
func ErrorKind(err error) string {
	var perr *perception.PerceptionError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.As(err, &perr):
		return "perception_" + perr.Op
	case errors.Is(err, perception.ErrPerceptionFailure):
		return "perception"
	case errors.Is(err, simulation.ErrSimulationBusy):
		return "busy"
	case errors.Is(err, simulation.ErrSimulationFault):
		return "fault"
	case errors.Is(err, forensics.ErrForensicsFailure):
		return "forensics"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
