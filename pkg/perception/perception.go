// Package perception turns an image and a motion command into a
// PhysicalEstimate using a vision-language model.
package perception

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/psantana5/physician/pkg/models"
)

// ErrPerceptionFailure is wrapped by every error the adapter returns
var ErrPerceptionFailure = errors.New("perception failure")

// PerceptionError records which step of inference failed
type PerceptionError struct {
	Op  string // "request", "decode", "schema", "range"
	Err error
}

func (e *PerceptionError) Error() string {
	return fmt.Sprintf("perception %s: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause
func (e *PerceptionError) Unwrap() []error {
	return []error{ErrPerceptionFailure, e.Err}
}

func fail(op string, err error) error {
	return &PerceptionError{Op: op, Err: err}
}

// Image is the scene the command will be executed in
type Image struct {
	Data     []byte
	MimeType string
}

// DefaultMimeType is used when the bytes do not sniff as an image
const DefaultMimeType = "image/jpeg"

// DetectMimeType sniffs data and falls back to DefaultMimeType
func DetectMimeType(data []byte) string {
	mt := http.DetectContentType(data)
	if strings.HasPrefix(mt, "image/") {
		return mt
	}
	return DefaultMimeType
}

// LoadImage reads an image file from disk
func LoadImage(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	return Image{Data: data, MimeType: DetectMimeType(data)}, nil
}

// Adapter estimates the physical parameters of a scene
type Adapter interface {
	Estimate(ctx context.Context, img Image, command string) (*models.PhysicalEstimate, error)
}

// SafeHarborVelocity is the speed under which gentle motions are never dangerous
const SafeHarborVelocity = 0.5

var (
	gentleKeywords = []string{"slow", "gentle", "descent", "descend", "careful"}
	idleKeywords   = []string{"idle", "stop"}
	fold           = cases.Fold()
)

// SafeHarborApplies reports whether the safe harbor rule requires the model
// to return is_dangerous_intent=false for this command.
func SafeHarborApplies(command string, velocityMS float64) bool {
	cmd := fold.String(norm.NFKC.String(command))
	for _, k := range idleKeywords {
		if strings.Contains(cmd, k) {
			return true
		}
	}
	if velocityMS >= SafeHarborVelocity {
		return false
	}
	for _, k := range gentleKeywords {
		if strings.Contains(cmd, k) {
			return true
		}
	}
	return false
}
