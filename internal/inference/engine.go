// Package inference owns model loading and classification. Models load
// lazily on the first request so startup does not pay for features nobody
// uses; the state machine below makes sure concurrent first requests share a
// single load instead of racing.
package inference

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"agrisense/internal/errdef"
)

type state int

const (
	stateUninitialized state = iota
	stateLoading
	stateReady
	stateFailed
)

// Engine wraps a lazily-loaded Session.
//
// States: Uninitialized → Loading → Ready, or Loading → Failed. A request
// arriving while Failed retries the load; requests arriving while Loading
// wait for the in-flight load instead of starting another.
type Engine struct {
	name   string
	loader SessionLoader

	mu      sync.Mutex
	st      state
	loading chan struct{}
	sess    Session
	classes []string
	loadErr error
}

// NewEngine builds an engine around loader. Loading does not start until the
// first Run or Classify call.
func NewEngine(name string, loader SessionLoader) *Engine {
	return &Engine{name: name, loader: loader}
}

// Classification is the outcome of one classify call: the full probability
// vector plus the argmax.
type Classification struct {
	Index         int
	Label         string
	Confidence    float32
	Probabilities []float32
}

// Run ensures the model is loaded and executes it on input. Returns
// ModelUnavailableError if the model cannot be loaded.
func (e *Engine) Run(ctx context.Context, input []float32) ([]float32, error) {
	sess, _, err := e.ensureReady(ctx)
	if err != nil {
		return nil, &errdef.ModelUnavailableError{Err: err}
	}
	return sess.Run(input)
}

// Classify runs the model and reduces the output to a Classification.
func (e *Engine) Classify(ctx context.Context, input []float32) (*Classification, error) {
	sess, classes, err := e.ensureReady(ctx)
	if err != nil {
		return nil, &errdef.ModelUnavailableError{Err: err}
	}

	probs, err := sess.Run(input)
	if err != nil {
		return nil, err
	}
	if len(probs) == 0 {
		return nil, fmt.Errorf("model %s produced empty output", e.name)
	}

	maxIdx := 0
	maxVal := probs[0]
	for i, v := range probs {
		if v > maxVal {
			maxVal = v
			maxIdx = i
		}
	}

	label := ""
	if maxIdx < len(classes) {
		label = classes[maxIdx]
	}

	return &Classification{
		Index:         maxIdx,
		Label:         label,
		Confidence:    maxVal,
		Probabilities: probs,
	}, nil
}

// Classes returns the loaded class keys, loading the model if needed.
func (e *Engine) Classes(ctx context.Context) ([]string, error) {
	_, classes, err := e.ensureReady(ctx)
	if err != nil {
		return nil, &errdef.ModelUnavailableError{Err: err}
	}
	return classes, nil
}

func (e *Engine) ensureReady(ctx context.Context) (Session, []string, error) {
	e.mu.Lock()

	if e.st == stateUninitialized || e.st == stateFailed {
		return e.load(ctx)
	}

	for e.st == stateLoading {
		done := e.loading
		e.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		e.mu.Lock()
	}

	defer e.mu.Unlock()
	if e.st == stateReady {
		return e.sess, e.classes, nil
	}
	return nil, nil, e.loadErr
}

// load runs the loader with e.mu held on entry and exit released. The load
// itself happens outside the lock; waiters are woken through e.loading.
func (e *Engine) load(ctx context.Context) (Session, []string, error) {
	e.st = stateLoading
	done := make(chan struct{})
	e.loading = done
	e.mu.Unlock()

	log.Info().Str("model", e.name).Msg("loading model")

	// Model loading has no deadline of its own: detaching from the request
	// context keeps an abandoned request from killing a load other callers
	// are waiting on.
	sess, classes, err := e.loader(context.WithoutCancel(ctx))

	e.mu.Lock()
	if err != nil {
		e.st = stateFailed
		e.loadErr = err
		log.Error().Str("model", e.name).Err(err).Msg("model load failed")
	} else {
		e.st = stateReady
		e.sess = sess
		e.classes = classes
		log.Info().Str("model", e.name).Int("classes", len(classes)).Msg("model ready")
	}
	close(done)

	defer e.mu.Unlock()
	if e.st == stateReady {
		return e.sess, e.classes, nil
	}
	return nil, nil, e.loadErr
}

// Ready reports whether the model is currently loaded, without triggering a
// load.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st == stateReady
}

// Close releases the session if one was loaded.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != nil {
		e.sess.Close()
		e.sess = nil
	}
	e.st = stateUninitialized
}
