package simulation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/physician/pkg/models"
	"github.com/psantana5/physician/pkg/physics"
	"github.com/psantana5/physician/pkg/resources"
)

func newTestDriver(t *testing.T, mutate func(*Config)) (*Driver, *physics.Engine) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	engine := physics.NewEngine(resources.NewManager(), cfg.Sessions)
	return NewDriver(engine, cfg, nil), engine
}

func estimate(mu, mass float64) *models.PhysicalEstimate {
	return &models.PhysicalEstimate{Material: "cardboard", FrictionMu: mu, MassKg: mass, VelocityMS: 0.2}
}

func TestRunSlowRightMoveStaysInEnvelope(t *testing.T) {
	driver, _ := newTestDriver(t, nil)

	out, err := driver.Run(context.Background(), estimate(0.25, 2.0), "move right slowly")
	require.NoError(t, err)

	assert.False(t, out.IsCrash)
	assert.True(t, out.IsStable())
	assert.Equal(t, models.CrashReasonNone, out.CrashReason)
	assert.Equal(t, 400, out.StepsTaken)
	assert.Equal(t, 400, out.StepBudget)
	assert.InDelta(t, 0.25, out.FinalPosition.Z, 1e-6)
	assert.Greater(t, out.FinalPosition.X, 0.0)
	assert.Equal(t, models.Vec3{X: 2000}, out.Force)
}

func TestRunLiftFastIsFlung(t *testing.T) {
	driver, _ := newTestDriver(t, nil)

	var observed []models.Vec3
	driver.onStep = func(step int, pos models.Vec3) {
		observed = append(observed, pos)
	}

	out, err := driver.Run(context.Background(), estimate(0.6, 2.0), "LIFT fast")
	require.NoError(t, err)

	assert.True(t, out.IsCrash)
	assert.Equal(t, models.CrashReasonFlung, out.CrashReason)
	assert.Less(t, out.StepsTaken, out.StepBudget)
	assert.Greater(t, out.FinalPosition.Z, 5.0)
	// Loop stops at the first exit: no step is taken after the crash
	assert.Len(t, observed, out.StepsTaken)
	assert.Equal(t, out.FinalPosition, observed[len(observed)-1])
}

func TestRunFallenBelowFloor(t *testing.T) {
	driver, _ := newTestDriver(t, func(c *Config) { c.HalfExtent = 0.04 })

	out, err := driver.Run(context.Background(), estimate(0.5, 1.0), "idle")
	require.NoError(t, err)

	assert.True(t, out.IsCrash)
	assert.Equal(t, models.CrashReasonFallen, out.CrashReason)
	assert.Less(t, out.FinalPosition.Z, 0.1)
}

func TestSequentialRunsReleaseSession(t *testing.T) {
	driver, engine := newTestDriver(t, nil)
	ctx := context.Background()

	// crash, no crash, fault, then one more run must still get the session
	_, err := driver.Run(ctx, estimate(0.5, 1.0), "lift")
	require.NoError(t, err)
	_, err = driver.Run(ctx, estimate(0.5, 1.0), "move left")
	require.NoError(t, err)
	_, err = driver.Run(ctx, estimate(0.5, -1.0), "move left")
	require.ErrorIs(t, err, ErrSimulationFault)
	_, err = driver.Run(ctx, estimate(0.5, 1.0), "stop")
	require.NoError(t, err)

	usage, err := engine.Usage()
	require.NoError(t, err)
	assert.Equal(t, usage.Capacity, usage.Available)
}

func TestRunBusyWhenSessionHeld(t *testing.T) {
	driver, engine := newTestDriver(t, nil)

	held, err := engine.Connect(context.Background(), "other-request", 0)
	require.NoError(t, err)

	_, err = driver.Run(context.Background(), estimate(0.5, 1.0), "move right")
	assert.ErrorIs(t, err, ErrSimulationBusy)
	assert.ErrorIs(t, err, resources.ErrBusy)
	assert.NotErrorIs(t, err, ErrSimulationFault)

	held.Disconnect()
	_, err = driver.Run(context.Background(), estimate(0.5, 1.0), "move right")
	assert.NoError(t, err)
}

func TestRunQueuesWithAcquireWait(t *testing.T) {
	driver, engine := newTestDriver(t, func(c *Config) { c.AcquireWait = 2 * time.Second })

	held, err := engine.Connect(context.Background(), "other-request", 0)
	require.NoError(t, err)
	go func() {
		time.Sleep(20 * time.Millisecond)
		held.Disconnect()
	}()

	_, err = driver.Run(context.Background(), estimate(0.5, 1.0), "move right")
	assert.NoError(t, err)
}

func TestRunReclaimsLingeringSession(t *testing.T) {
	driver, engine := newTestDriver(t, func(c *Config) { c.LeaseTTL = time.Millisecond })

	_, err := engine.Connect(context.Background(), "hung-request", 0)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = driver.Run(context.Background(), estimate(0.5, 1.0), "move right")
	assert.NoError(t, err)

	usage, _ := engine.Usage()
	assert.EqualValues(t, 1, usage.Reclaimed)
}

func TestRunRecoversEnginePanic(t *testing.T) {
	driver, engine := newTestDriver(t, nil)
	driver.onStep = func(step int, _ models.Vec3) {
		if step == 3 {
			panic("solver exploded")
		}
	}

	out, err := driver.Run(context.Background(), estimate(0.5, 1.0), "move right")
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrSimulationFault)

	usage, _ := engine.Usage()
	assert.Equal(t, 1, usage.Available, "session must be released after a panic")
}

func TestRunTimeoutIsFault(t *testing.T) {
	driver, engine := newTestDriver(t, func(c *Config) {
		c.Pace = 10 * time.Millisecond
		c.Timeout = 30 * time.Millisecond
	})

	_, err := driver.Run(context.Background(), estimate(0.5, 1.0), "move right")
	assert.ErrorIs(t, err, ErrSimulationFault)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	usage, _ := engine.Usage()
	assert.Equal(t, 1, usage.Available)
}

func TestRunClampsFriction(t *testing.T) {
	driver, _ := newTestDriver(t, nil)

	// Out-of-range friction from a non-perception caller is clamped, not rejected
	out, err := driver.Run(context.Background(), estimate(3.0, 1.0), "stop")
	require.NoError(t, err)
	assert.False(t, out.IsCrash)
}

func TestRunNilEstimate(t *testing.T) {
	driver, _ := newTestDriver(t, nil)
	_, err := driver.Run(context.Background(), nil, "stop")
	assert.ErrorIs(t, err, ErrSimulationFault)
}

func TestEnvelopeClassify(t *testing.T) {
	env := DefaultConfig().Envelope
	tests := []struct {
		z    float64
		want models.CrashReason
	}{
		{0.0999, models.CrashReasonFallen},
		{0.1, models.CrashReasonNone},
		{0.25, models.CrashReasonNone},
		{5.0, models.CrashReasonNone},
		{5.0001, models.CrashReasonFlung},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, env.Classify(tt.z), "z=%v", tt.z)
	}
}
