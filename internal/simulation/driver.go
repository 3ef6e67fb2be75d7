// Package simulation runs a short rigid-body rollout of a motion command and
// reports whether the payload left the stability envelope.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/psantana5/physician/pkg/logging"
	"github.com/psantana5/physician/pkg/models"
	"github.com/psantana5/physician/pkg/physics"
	"github.com/psantana5/physician/pkg/resources"
)

var (
	// ErrSimulationBusy means the physics session is held by another run
	ErrSimulationBusy = fmt.Errorf("simulation busy: %w", resources.ErrBusy)
	// ErrSimulationFault covers engine errors, panics and timeouts
	ErrSimulationFault = errors.New("simulation fault")
)

// Envelope is the band of heights a payload may occupy
type Envelope struct {
	MinZ float64 `mapstructure:"min_z" yaml:"min_z"`
	MaxZ float64 `mapstructure:"max_z" yaml:"max_z"`
}

// Classify returns the crash reason for a body at height z, or CrashReasonNone
func (e Envelope) Classify(z float64) models.CrashReason {
	switch {
	case z < e.MinZ:
		return models.CrashReasonFallen
	case z > e.MaxZ:
		return models.CrashReasonFlung
	default:
		return models.CrashReasonNone
	}
}

// Config controls the rollout
type Config struct {
	Steps       int           `mapstructure:"steps" yaml:"steps"`
	TimeStep    float64       `mapstructure:"time_step" yaml:"time_step"`
	StartHeight float64       `mapstructure:"start_height" yaml:"start_height"`
	HalfExtent  float64       `mapstructure:"half_extent" yaml:"half_extent"`
	Gravity     float64       `mapstructure:"gravity" yaml:"gravity"`
	Envelope    Envelope      `mapstructure:"envelope" yaml:"envelope"`
	Sessions    int           `mapstructure:"sessions" yaml:"sessions"`
	Pace        time.Duration `mapstructure:"pace" yaml:"pace"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	AcquireWait time.Duration `mapstructure:"acquire_wait" yaml:"acquire_wait"`
	LeaseTTL    time.Duration `mapstructure:"lease_ttl" yaml:"lease_ttl"`
}

// DefaultConfig returns the standard 400-step, 240 Hz rollout
func DefaultConfig() Config {
	return Config{
		Steps:       400,
		TimeStep:    1.0 / 240.0,
		StartHeight: 1.0,
		HalfExtent:  0.25,
		Gravity:     physics.StandardGravity,
		Envelope:    Envelope{MinZ: 0.1, MaxZ: 5},
		Sessions:    1,
		Timeout:     10 * time.Second,
		LeaseTTL:    time.Minute,
	}
}

// Driver runs simulations against a shared physics engine
type Driver struct {
	engine *physics.Engine
	config Config
	rules  RuleTable
	logger *logging.Logger

	// onStep is called after every step; tests use it to observe the loop
	onStep func(step int, pos models.Vec3)
}

// NewDriver creates a driver. A nil logger discards output.
func NewDriver(engine *physics.Engine, config Config, logger *logging.Logger) *Driver {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Driver{
		engine: engine,
		config: config,
		rules:  DefaultRules,
		logger: logger.WithField("component", "simulation"),
	}
}

// Config returns the driver configuration
func (d *Driver) Config() Config {
	return d.config
}

// Run simulates command against est. The physics session is released on
// every return path. Errors wrap ErrSimulationBusy or ErrSimulationFault.
func (d *Driver) Run(ctx context.Context, est *models.PhysicalEstimate, command string) (out *models.SimulationOutcome, err error) {
	if est == nil {
		return nil, fmt.Errorf("%w: nil estimate", ErrSimulationFault)
	}

	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	owner := models.RequestIDFromContext(ctx)
	if owner == "" {
		owner = uuid.New().String()
	}
	logger := d.logger.WithField("request_id", owner)

	if d.config.LeaseTTL > 0 {
		for _, evicted := range d.engine.ReclaimLingering(d.config.LeaseTTL) {
			logger.Warn("Reclaimed lingering physics session", map[string]interface{}{"owner": evicted})
		}
	}

	session, err := d.engine.Connect(ctx, owner, d.config.AcquireWait)
	if err != nil {
		if errors.Is(err, resources.ErrBusy) {
			return nil, fmt.Errorf("%w: %w", ErrSimulationBusy, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrSimulationFault, err)
	}
	defer session.Disconnect()
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Sprintf("Physics engine panic: %v", r))
			out = nil
			err = fmt.Errorf("%w: engine panic: %v", ErrSimulationFault, r)
		}
	}()

	out, err = d.simulate(ctx, session.World, est, command)
	if err != nil {
		return nil, err
	}

	logger.Debug("Simulation finished", map[string]interface{}{
		"steps":        out.StepsTaken,
		"is_crash":     out.IsCrash,
		"crash_reason": string(out.CrashReason),
		"final_z":      out.FinalPosition.Z,
	})
	return out, nil
}

func (d *Driver) simulate(ctx context.Context, world *physics.World, est *models.PhysicalEstimate, command string) (*models.SimulationOutcome, error) {
	cfg := d.config

	world.SetGravity(r3.Vec{Z: cfg.Gravity})
	if err := world.AddGroundPlane(est.ClampedFriction()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSimulationFault, err)
	}
	body, err := world.AddBox(r3.Vec{Z: cfg.StartHeight}, cfg.HalfExtent, est.MassKg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSimulationFault, err)
	}

	force := d.rules.Derive(command, est.MassKg)
	push := r3.Vec{X: force.X, Y: force.Y, Z: force.Z}

	out := &models.SimulationOutcome{
		StepBudget:    cfg.Steps,
		Force:         force,
		FinalPosition: toVec3(body.Position()),
	}

	for step := 1; step <= cfg.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: stopped at step %d: %w", ErrSimulationFault, step, err)
		}

		if err := world.ApplyExternalForce(body, push); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSimulationFault, err)
		}
		if err := world.Step(cfg.TimeStep); err != nil {
			return nil, fmt.Errorf("%w: step %d: %w", ErrSimulationFault, step, err)
		}

		pos := toVec3(body.Position())
		out.StepsTaken = step
		out.FinalPosition = pos
		if d.onStep != nil {
			d.onStep(step, pos)
		}

		if reason := cfg.Envelope.Classify(pos.Z); reason != models.CrashReasonNone {
			out.IsCrash = true
			out.CrashReason = reason
			break
		}

		if cfg.Pace > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: stopped at step %d: %w", ErrSimulationFault, step, ctx.Err())
			case <-time.After(cfg.Pace):
			}
		}
	}

	return out, nil
}

func toVec3(v r3.Vec) models.Vec3 {
	return models.Vec3{X: v.X, Y: v.Y, Z: v.Z}
}
