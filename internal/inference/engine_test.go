package inference

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrisense/internal/errdef"
)

type fakeSession struct {
	output []float32
	runErr error
	closed bool
}

func (f *fakeSession) Run(input []float32) ([]float32, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.output, nil
}

func (f *fakeSession) Close() { f.closed = true }

func TestClassifyLoadsLazilyAndOnce(t *testing.T) {
	var loads atomic.Int32
	loader := func(ctx context.Context) (Session, []string, error) {
		loads.Add(1)
		return &fakeSession{output: []float32{0.1, 0.7, 0.2}}, []string{"a", "b", "c"}, nil
	}

	e := NewEngine("test", loader)
	assert.Equal(t, int32(0), loads.Load(), "engine must not load at construction")

	got, err := e.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Index)
	assert.Equal(t, "b", got.Label)
	assert.InDelta(t, 0.7, float64(got.Confidence), 1e-6)
	assert.Len(t, got.Probabilities, 3)

	_, err = e.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), loads.Load(), "second request must reuse the session")
}

func TestConcurrentRequestsShareOneLoad(t *testing.T) {
	var loads atomic.Int32
	release := make(chan struct{})
	loader := func(ctx context.Context) (Session, []string, error) {
		loads.Add(1)
		<-release
		return &fakeSession{output: []float32{1}}, []string{"only"}, nil
	}

	e := NewEngine("test", loader)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Classify(context.Background(), nil)
		}(i)
	}

	// Let the goroutines pile up behind the in-flight load.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), loads.Load(), "concurrent callers must not duplicate the load")
}

func TestFailedLoadSurfacesModelUnavailableAndRetries(t *testing.T) {
	var loads atomic.Int32
	loader := func(ctx context.Context) (Session, []string, error) {
		if loads.Add(1) == 1 {
			return nil, nil, errors.New("weights missing")
		}
		return &fakeSession{output: []float32{0.9, 0.1}}, []string{"a", "b"}, nil
	}

	e := NewEngine("test", loader)

	_, err := e.Classify(context.Background(), nil)
	require.Error(t, err)
	var unavailable *errdef.ModelUnavailableError
	assert.True(t, errors.As(err, &unavailable))
	assert.False(t, e.Ready())

	// No permanent lockout: the next request retries the load.
	got, err := e.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Label)
	assert.Equal(t, int32(2), loads.Load())
	assert.True(t, e.Ready())
}

func TestWaiterDuringLoadingSeesFailure(t *testing.T) {
	release := make(chan struct{})
	loader := func(ctx context.Context) (Session, []string, error) {
		<-release
		return nil, nil, errors.New("weights missing")
	}

	e := NewEngine("test", loader)

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := e.Classify(context.Background(), nil)
			done <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		err := <-done
		var unavailable *errdef.ModelUnavailableError
		assert.True(t, errors.As(err, &unavailable))
	}
}

func TestWaiterHonorsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	loader := func(ctx context.Context) (Session, []string, error) {
		<-release
		return &fakeSession{output: []float32{1}}, []string{"only"}, nil
	}

	e := NewEngine("test", loader)

	// Kick off the load.
	go func() { _, _ = e.Classify(context.Background(), nil) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Classify(ctx, nil)
	require.Error(t, err)
	var unavailable *errdef.ModelUnavailableError
	assert.True(t, errors.As(err, &unavailable))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInferenceErrorIsNotModelUnavailable(t *testing.T) {
	loader := func(ctx context.Context) (Session, []string, error) {
		return &fakeSession{runErr: errors.New("bad tensor")}, []string{"a"}, nil
	}

	e := NewEngine("test", loader)

	_, err := e.Classify(context.Background(), nil)
	require.Error(t, err)
	var unavailable *errdef.ModelUnavailableError
	assert.False(t, errors.As(err, &unavailable), "a Run failure is an inference error, not a load failure")
}

func TestCloseReleasesSession(t *testing.T) {
	sess := &fakeSession{output: []float32{1}}
	loader := func(ctx context.Context) (Session, []string, error) {
		return sess, []string{"only"}, nil
	}

	e := NewEngine("test", loader)
	_, err := e.Run(context.Background(), nil)
	require.NoError(t, err)

	e.Close()
	assert.True(t, sess.closed)
	assert.False(t, e.Ready())
}
