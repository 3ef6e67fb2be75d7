package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/psantana5/physician/internal/forensics"
	"github.com/psantana5/physician/internal/simulation"
	"github.com/psantana5/physician/pkg/metrics"
	"github.com/psantana5/physician/pkg/models"
	"github.com/psantana5/physician/pkg/perception"
	"github.com/psantana5/physician/pkg/physics"
	"github.com/psantana5/physician/pkg/resources"
	"github.com/psantana5/physician/pkg/store"
	"github.com/psantana5/physician/pkg/tracing"
)

type fakeAdapter struct {
	est   models.PhysicalEstimate
	err   error
	calls int
}

func (f *fakeAdapter) Estimate(ctx context.Context, img perception.Image, command string) (*models.PhysicalEstimate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	est := f.est
	return &est, nil
}

type fakeForensics struct {
	text      string
	err       error
	calls     int
	incidents []forensics.Incident
	// checked during Explain
	onExplain func()
}

func (f *fakeForensics) Explain(ctx context.Context, incident forensics.Incident) (string, error) {
	f.calls++
	f.incidents = append(f.incidents, incident)
	if f.onExplain != nil {
		f.onExplain()
	}
	return f.text, f.err
}

type failingStore struct{ store.Store }

func (failingStore) SaveVerification(ctx context.Context, rec *models.VerificationRecord) error {
	return errors.New("disk full")
}

type harness struct {
	adapter   *fakeAdapter
	forensics *fakeForensics
	engine    *physics.Engine
	store     *store.MemoryStore
	metrics   *metrics.Metrics
	spans     *tracetest.SpanRecorder
	pipeline  *Pipeline
}

func newHarness(t *testing.T, est models.PhysicalEstimate) *harness {
	t.Helper()
	h := &harness{
		adapter:   &fakeAdapter{est: est},
		forensics: &fakeForensics{text: "Centripetal force exceeded the suction grip."},
		store:     store.NewMemoryStore(),
		metrics:   metrics.New(),
		spans:     tracetest.NewSpanRecorder(),
	}
	cfg := simulation.DefaultConfig()
	h.engine = physics.NewEngine(resources.NewManager(), cfg.Sessions)
	driver := simulation.NewDriver(h.engine, cfg, nil)

	h.pipeline = New(h.adapter, driver, h.forensics,
		WithStore(h.store),
		WithMetrics(h.metrics),
		WithTracer(tracing.NewProvider("physician-test", sdktrace.WithSpanProcessor(h.spans))),
	)
	return h
}

func request(command string) Request {
	return Request{
		Image:   perception.Image{Data: []byte{0xFF, 0xD8, 0xFF}, MimeType: "image/jpeg"},
		Command: command,
	}
}

func TestVerifySlowMoveOnLowFrictionIsGoWithGovernor(t *testing.T) {
	h := newHarness(t, models.PhysicalEstimate{
		Material: "ice", FrictionMu: 0.25, MassKg: 2.0, VelocityMS: 0.2,
		Reasoning: "Smooth wet surface.",
	})

	res, err := h.pipeline.Verify(context.Background(), request("move right slowly"))
	require.NoError(t, err)

	assert.Equal(t, models.VerdictGo, res.Verdict.Status)
	assert.False(t, res.Verdict.IsCrash)
	assert.True(t, res.Verdict.GovernorActive)
	assert.Empty(t, res.Verdict.ForensicAnalysis)
	assert.Equal(t, 0, h.forensics.calls)
	assert.Equal(t, 400, res.Outcome.StepsTaken)
	assert.NotEmpty(t, res.RequestID)

	for _, stage := range []string{metrics.StagePerception, metrics.StageSimulation, metrics.StageArbiter, metrics.StageLedger} {
		assert.Contains(t, res.StageDurations, stage)
	}
	assert.NotContains(t, res.StageDurations, metrics.StageForensics)

	rec, err := h.store.GetVerification(context.Background(), res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.VerdictGo, rec.Verdict)
	assert.True(t, rec.GovernorActive)
}

func TestVerifyLiftFastIsBlockedWithForensics(t *testing.T) {
	h := newHarness(t, models.PhysicalEstimate{Material: "steel", FrictionMu: 0.6, MassKg: 2.0, VelocityMS: 3})

	// Forensics runs only once the physics session is free again
	h.forensics.onExplain = func() {
		usage, err := h.engine.Usage()
		require.NoError(t, err)
		assert.Equal(t, usage.Capacity, usage.Available)
	}

	res, err := h.pipeline.Verify(context.Background(), request("lift fast"))
	require.NoError(t, err)

	assert.Equal(t, models.VerdictBlocked, res.Verdict.Status)
	assert.True(t, res.Verdict.IsCrash)
	assert.False(t, res.Verdict.GovernorActive)
	assert.Equal(t, []models.BlockReason{models.BlockReasonSimulatedCrash}, res.Verdict.BlockReasons)
	assert.Equal(t, "Centripetal force exceeded the suction grip.", res.Verdict.ForensicAnalysis)
	assert.False(t, res.ForensicsDegraded)

	require.Equal(t, 1, h.forensics.calls)
	incident := h.forensics.incidents[0]
	assert.Equal(t, "lift fast", incident.Command)
	assert.Equal(t, "steel", incident.Material)
	assert.Equal(t, models.CrashReasonFlung, incident.CrashReason)
	assert.Less(t, incident.Steps, 400)
}

func TestVerifyDangerousIntentBlocksWithoutForensics(t *testing.T) {
	h := newHarness(t, models.PhysicalEstimate{
		Material: "wood", FrictionMu: 0.6, MassKg: 2.0, VelocityMS: 2, IsDangerousIntent: true,
	})

	res, err := h.pipeline.Verify(context.Background(), request("move right toward the operator"))
	require.NoError(t, err)

	assert.Equal(t, models.VerdictBlocked, res.Verdict.Status)
	assert.False(t, res.Verdict.IsCrash)
	assert.Equal(t, []models.BlockReason{models.BlockReasonDangerousIntent}, res.Verdict.BlockReasons)
	assert.Equal(t, 0, h.forensics.calls)
	assert.Empty(t, res.Verdict.ForensicAnalysis)
}

func TestVerifyForensicsFailureDegrades(t *testing.T) {
	h := newHarness(t, models.PhysicalEstimate{Material: "steel", FrictionMu: 0.6, MassKg: 2.0, VelocityMS: 3})
	h.forensics.err = fmt.Errorf("%w: 503 Service Unavailable", forensics.ErrForensicsFailure)

	res, err := h.pipeline.Verify(context.Background(), request("lift fast"))
	require.NoError(t, err)

	assert.Equal(t, models.VerdictBlocked, res.Verdict.Status)
	assert.Equal(t, models.ForensicsPlaceholder, res.Verdict.ForensicAnalysis)
	assert.True(t, res.ForensicsDegraded)

	rec, err := h.store.GetVerification(context.Background(), res.RequestID)
	require.NoError(t, err)
	assert.True(t, rec.ForensicsDegraded)
}

func TestVerifyPerceptionFailureAborts(t *testing.T) {
	h := newHarness(t, models.PhysicalEstimate{})
	h.adapter.err = &perception.PerceptionError{Op: "schema", Err: errors.New("missing friction_mu")}

	res, err := h.pipeline.Verify(context.Background(), request("move left"))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, perception.ErrPerceptionFailure)
	assert.Equal(t, "perception_schema", ErrorKind(err))

	stats, err := h.store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total, "aborted requests leave no audit record")
}

func TestVerifyBusySimulator(t *testing.T) {
	h := newHarness(t, models.PhysicalEstimate{Material: "wood", FrictionMu: 0.5, MassKg: 1, VelocityMS: 0.1})

	held, err := h.engine.Connect(context.Background(), "someone-else", 0)
	require.NoError(t, err)
	defer held.Disconnect()

	res, err := h.pipeline.Verify(context.Background(), request("idle"))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, simulation.ErrSimulationBusy)
	assert.Equal(t, "busy", ErrorKind(err))
}

func TestVerifyRejectsEmptyInput(t *testing.T) {
	h := newHarness(t, models.PhysicalEstimate{})

	_, err := h.pipeline.Verify(context.Background(), request("   "))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.pipeline.Verify(context.Background(), Request{Command: "idle"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, 0, h.adapter.calls)
}

func TestVerifyLedgerFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, models.PhysicalEstimate{Material: "wood", FrictionMu: 0.5, MassKg: 1, VelocityMS: 0.1})
	h.pipeline.store = failingStore{}

	res, err := h.pipeline.Verify(context.Background(), request("idle"))
	require.NoError(t, err)
	assert.Equal(t, models.VerdictGo, res.Verdict.Status)
}

func TestVerifyKeepsCallerRequestID(t *testing.T) {
	h := newHarness(t, models.PhysicalEstimate{Material: "wood", FrictionMu: 0.5, MassKg: 1, VelocityMS: 0.1})

	ctx := models.WithRequestID(context.Background(), "req-42")
	res, err := h.pipeline.Verify(ctx, request("idle"))
	require.NoError(t, err)
	assert.Equal(t, "req-42", res.RequestID)
}

func TestVerifyEmitsStageSpans(t *testing.T) {
	h := newHarness(t, models.PhysicalEstimate{Material: "steel", FrictionMu: 0.6, MassKg: 2.0, VelocityMS: 3})

	_, err := h.pipeline.Verify(context.Background(), request("lift fast"))
	require.NoError(t, err)

	names := map[string]bool{}
	for _, s := range h.spans.Ended() {
		names[s.Name()] = true
	}
	for _, want := range []string{"verify", "perception", "simulation", "arbiter", "forensics", "ledger"} {
		assert.True(t, names[want], "missing span %q", want)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("wrap: %w", simulation.ErrSimulationFault), "fault"},
		{fmt.Errorf("%w: x", forensics.ErrForensicsFailure), "forensics"},
		{context.DeadlineExceeded, "timeout"},
		{context.Canceled, "canceled"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err), "%v", tt.err)
	}
}
