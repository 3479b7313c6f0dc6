package plantdoc

import (
	"context"

	"github.com/rs/zerolog/log"

	"agrisense/internal/imaging"
	"agrisense/internal/inference"
	"agrisense/internal/remote"
)

// LocalClassifier is the on-device model path (implemented by
// inference.Engine).
type LocalClassifier interface {
	Classify(ctx context.Context, input []float32) (*inference.Classification, error)
}

// FallbackClassifier is the remote detection path (implemented by
// remote.Client).
type FallbackClassifier interface {
	Classify(ctx context.Context, image []byte, filename string) (remote.Prediction, error)
}

// Detector runs the full detection pipeline: preprocess, local inference,
// remote fallback, treatment lookup.
type Detector struct {
	local    LocalClassifier
	fallback FallbackClassifier
	library  *Library
}

func NewDetector(local LocalClassifier, fallback FallbackClassifier, library *Library) *Detector {
	return &Detector{local: local, fallback: fallback, library: library}
}

// Diagnosis is one detection outcome.
type Diagnosis struct {
	Label      string     `json:"disease"`
	Confidence float64    `json:"confidence"`
	Source     string     `json:"source"`
	Treatment  *Treatment `json:"treatment,omitempty"`
}

// Detect classifies the image and resolves the class key to a treatment
// record. This is the only layer allowed to swallow a local-inference
// failure; it substitutes exactly one remote fallback call. DecodeError and
// fallback errors propagate to the caller untouched.
func (d *Detector) Detect(ctx context.Context, payload []byte, filename string) (*Diagnosis, error) {
	tensor, err := imaging.Preprocess(payload)
	if err != nil {
		return nil, err
	}

	cls, err := d.local.Classify(ctx, tensor.Data)
	if err == nil {
		return d.diagnose(cls.Label, float64(cls.Confidence), "local"), nil
	}
	if ctx.Err() != nil {
		// The request is dead; a fallback call would only burn a
		// network round trip on a guaranteed failure.
		return nil, err
	}

	log.Warn().Err(err).Msg("local inference failed, using remote fallback")

	pred, ferr := d.fallback.Classify(ctx, payload, filename)
	if ferr != nil {
		return nil, ferr
	}
	return d.diagnose(pred.Label, pred.Confidence, "remote"), nil
}

func (d *Detector) diagnose(label string, confidence float64, source string) *Diagnosis {
	return &Diagnosis{
		Label:      label,
		Confidence: confidence,
		Source:     source,
		Treatment:  d.library.Resolve(label),
	}
}
