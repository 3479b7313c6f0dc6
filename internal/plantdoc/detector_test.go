package plantdoc

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrisense/internal/errdef"
	"agrisense/internal/inference"
	"agrisense/internal/remote"
)

type stubLocal struct {
	cls *inference.Classification
	err error
}

func (s *stubLocal) Classify(ctx context.Context, input []float32) (*inference.Classification, error) {
	return s.cls, s.err
}

type stubFallback struct {
	calls int
	pred  remote.Prediction
	err   error
}

func (s *stubFallback) Classify(ctx context.Context, image []byte, filename string) (remote.Prediction, error) {
	s.calls++
	return s.pred, s.err
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < 8; i++ {
		img.Set(i, i, color.RGBA{R: 200, G: 30, B: 30, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testLibrary(t *testing.T) *Library {
	t.Helper()
	lib, err := NewLibrary()
	require.NoError(t, err)
	return lib
}

func TestDetectLocalSuccess(t *testing.T) {
	local := &stubLocal{cls: &inference.Classification{
		Index: 4, Label: "Tomato___Late_blight", Confidence: 0.88,
	}}
	fallback := &stubFallback{}

	d := NewDetector(local, fallback, testLibrary(t))
	got, err := d.Detect(context.Background(), testImage(t), "leaf.png")
	require.NoError(t, err)

	assert.Equal(t, "Tomato___Late_blight", got.Label)
	assert.InDelta(t, 0.88, got.Confidence, 1e-6)
	assert.Equal(t, "local", got.Source)
	require.NotNil(t, got.Treatment)
	assert.Equal(t, "Tomato Late Blight", got.Treatment.Name)
	assert.Equal(t, 0, fallback.calls, "fallback must not run when local inference succeeds")
}

func TestDetectFallsBackExactlyOnce(t *testing.T) {
	local := &stubLocal{err: &errdef.ModelUnavailableError{Err: errors.New("weights missing")}}
	fallback := &stubFallback{pred: remote.Prediction{Label: "Apple Apple scab", Confidence: 0.71}}

	d := NewDetector(local, fallback, testLibrary(t))
	got, err := d.Detect(context.Background(), testImage(t), "leaf.png")
	require.NoError(t, err)

	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, "remote", got.Source)
	assert.InDelta(t, 0.71, got.Confidence, 1e-6)
	// Result shape matches the local path, including a resolved treatment
	// for the remote service's space-separated label.
	require.NotNil(t, got.Treatment)
	assert.Equal(t, "Apple Scab", got.Treatment.Name)
}

func TestDetectFallsBackOnInferenceError(t *testing.T) {
	local := &stubLocal{err: errors.New("inference failed: bad tensor")}
	fallback := &stubFallback{pred: remote.Prediction{Label: "Potato___Late_blight", Confidence: 0.6}}

	d := NewDetector(local, fallback, testLibrary(t))
	got, err := d.Detect(context.Background(), testImage(t), "leaf.png")
	require.NoError(t, err)
	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, "Potato___Late_blight", got.Label)
}

func TestDetectSkipsFallbackOnDeadContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	local := &stubLocal{err: &errdef.ModelUnavailableError{Err: ctx.Err()}}
	fallback := &stubFallback{pred: remote.Prediction{Label: "Apple___Apple_scab", Confidence: 0.7}}

	d := NewDetector(local, fallback, testLibrary(t))
	_, err := d.Detect(ctx, testImage(t), "leaf.png")
	require.Error(t, err)

	assert.Equal(t, 0, fallback.calls, "fallback must not run once the request is canceled")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDetectPropagatesFallbackError(t *testing.T) {
	local := &stubLocal{err: &errdef.ModelUnavailableError{Err: errors.New("weights missing")}}
	fallback := &stubFallback{err: &errdef.RemoteServiceError{StatusCode: 500, Detail: "model overloaded"}}

	d := NewDetector(local, fallback, testLibrary(t))
	_, err := d.Detect(context.Background(), testImage(t), "leaf.png")
	require.Error(t, err)

	var remoteErr *errdef.RemoteServiceError
	require.True(t, errors.As(err, &remoteErr))
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestDetectRejectsBadImageBeforeInference(t *testing.T) {
	local := &stubLocal{}
	fallback := &stubFallback{}

	d := NewDetector(local, fallback, testLibrary(t))
	_, err := d.Detect(context.Background(), []byte("junk"), "x.bin")
	require.Error(t, err)

	var decodeErr *errdef.DecodeError
	assert.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, 0, fallback.calls)
}

func TestDetectUnknownLabelHasNoTreatment(t *testing.T) {
	local := &stubLocal{cls: &inference.Classification{
		Label: "Mystery___Unknown_condition", Confidence: 0.5,
	}}

	d := NewDetector(local, &stubFallback{}, testLibrary(t))
	got, err := d.Detect(context.Background(), testImage(t), "leaf.png")
	require.NoError(t, err)
	assert.Nil(t, got.Treatment)
	assert.Equal(t, "Mystery___Unknown_condition", got.Label)
}
