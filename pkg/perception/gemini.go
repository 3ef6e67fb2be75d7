package perception

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/psantana5/physician/pkg/gemini"
	"github.com/psantana5/physician/pkg/logging"
	"github.com/psantana5/physician/pkg/models"
)

// SafeHarborInstruction is sent with every perception request
const SafeHarborInstruction = "SYSTEM: You are the Physician OS Kernel. Your directive is Safety through Controlled Motion. " +
	"SAFE HARBOR RULE: If a command is 'slow', 'gentle', or 'descent' (velocity < 0.5m/s), you MUST set is_dangerous_intent to False. " +
	"Do not block 'Idle' or 'Stop' commands. " +
	"Analyze the material in the image (e.g., Cardboard, Steel) and provide friction_mu between 0.1 and 1.0, " +
	"the payload mass_kg and the commanded velocity_ms."

// ContentGenerator is the part of the inference client the adapter needs
type ContentGenerator interface {
	GenerateContent(ctx context.Context, parts []gemini.Part, config *gemini.GenerationConfig) (string, error)
}

// GeminiAdapter implements Adapter with one multimodal generateContent call.
// Failures are not retried.
type GeminiAdapter struct {
	client  ContentGenerator
	timeout time.Duration
	schema  *jsonschema.Schema
	logger  *logging.Logger
}

// NewGeminiAdapter creates an adapter. timeout <= 0 disables the wall-clock limit.
func NewGeminiAdapter(client ContentGenerator, timeout time.Duration, logger *logging.Logger) (*GeminiAdapter, error) {
	schema, err := compileEstimateSchema()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &GeminiAdapter{
		client:  client,
		timeout: timeout,
		schema:  schema,
		logger:  logger.WithField("component", "perception"),
	}, nil
}

// Estimate asks the model for the scene's physical parameters
func (a *GeminiAdapter) Estimate(ctx context.Context, img Image, command string) (*models.PhysicalEstimate, error) {
	if len(img.Data) == 0 {
		return nil, fail("request", fmt.Errorf("empty image"))
	}
	mimeType := img.MimeType
	if mimeType == "" {
		mimeType = DetectMimeType(img.Data)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	parts := []gemini.Part{
		gemini.BlobPart(mimeType, img.Data),
		gemini.TextPart("Robot Command: " + command),
		gemini.TextPart(SafeHarborInstruction),
	}
	config := &gemini.GenerationConfig{
		ResponseMimeType: "application/json",
		ResponseSchema:   responseSchema,
	}

	text, err := a.client.GenerateContent(ctx, parts, config)
	if err != nil {
		return nil, fail("request", err)
	}

	est, err := a.parse(text)
	if err != nil {
		return nil, err
	}

	if est.IsDangerousIntent && SafeHarborApplies(command, est.VelocityMS) {
		a.logger.Warn("Model flagged a safe-harbor command as dangerous", map[string]interface{}{
			"request_id":  models.RequestIDFromContext(ctx),
			"command":     command,
			"velocity_ms": est.VelocityMS,
		})
	}
	return est, nil
}

func (a *GeminiAdapter) parse(text string) (*models.PhysicalEstimate, error) {
	text = stripFences(text)

	doc, err := decodeDocument(text)
	if err != nil {
		return nil, fail("decode", err)
	}
	if err := a.schema.Validate(doc); err != nil {
		return nil, fail("schema", err)
	}

	var est models.PhysicalEstimate
	if err := json.Unmarshal([]byte(text), &est); err != nil {
		return nil, fail("decode", err)
	}
	if err := est.Validate(); err != nil {
		return nil, fail("range", err)
	}
	return &est, nil
}
