package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Session is a loaded model that maps a flat float32 input to a flat float32
// output. Implementations must be safe for use by one caller at a time; the
// Engine serializes access.
type Session interface {
	Run(input []float32) ([]float32, error)
	Close()
}

// SessionLoader produces a ready Session plus the class key for each output
// index (nil for regression models). Injected into the Engine so loading
// behavior is swappable in tests.
type SessionLoader func(ctx context.Context) (Session, []string, error)

var ortInit sync.Once

// initEnvironment initializes the ONNX runtime environment once per process.
// The environment is never destroyed; sessions for all models share it.
func initEnvironment() error {
	var err error
	ortInit.Do(func() {
		err = ort.InitializeEnvironment()
	})
	return err
}

// ORTConfig describes one ONNX model on disk.
type ORTConfig struct {
	ModelPath   string
	InputName   string
	OutputName  string
	InputShape  []int64
	OutputShape []int64

	// ClassIndexPath points to a key→ordinal JSON object naming the output
	// classes. Empty for regression models.
	ClassIndexPath string
}

type ortSession struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// ORTLoader returns a SessionLoader backed by onnxruntime.
func ORTLoader(cfg ORTConfig) SessionLoader {
	return func(ctx context.Context) (Session, []string, error) {
		if err := initEnvironment(); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}

		var classes []string
		if cfg.ClassIndexPath != "" {
			var err error
			classes, err = LoadClassIndices(cfg.ClassIndexPath)
			if err != nil {
				return nil, nil, err
			}
		}

		inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(cfg.InputShape...))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create input tensor: %w", err)
		}

		outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(cfg.OutputShape...))
		if err != nil {
			inputTensor.Destroy()
			return nil, nil, fmt.Errorf("failed to create output tensor: %w", err)
		}

		inputName := cfg.InputName
		if inputName == "" {
			inputName = "input"
		}
		outputName := cfg.OutputName
		if outputName == "" {
			outputName = "output"
		}

		session, err := ort.NewAdvancedSession(cfg.ModelPath,
			[]string{inputName}, []string{outputName},
			[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
			nil)
		if err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, nil, fmt.Errorf("failed to create ONNX session: %w", err)
		}

		return &ortSession{
			session:      session,
			inputTensor:  inputTensor,
			outputTensor: outputTensor,
		}, classes, nil
	}
}

func (s *ortSession) Run(input []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in := s.inputTensor.GetData()
	if len(input) != len(in) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(in), len(input))
	}
	copy(in, input)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := s.outputTensor.GetData()
	result := make([]float32, len(out))
	copy(result, out)
	return result, nil
}

func (s *ortSession) Close() {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
}

// LoadClassIndices reads a {"label": ordinal, ...} JSON object and returns
// labels ordered by ordinal.
func LoadClassIndices(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read class indices: %w", err)
	}

	var indices map[string]int
	if err := json.Unmarshal(raw, &indices); err != nil {
		return nil, fmt.Errorf("failed to parse class indices: %w", err)
	}

	type pair struct {
		label string
		ord   int
	}
	pairs := make([]pair, 0, len(indices))
	for label, ord := range indices {
		if ord < 0 {
			return nil, fmt.Errorf("negative ordinal %d for class %q", ord, label)
		}
		pairs = append(pairs, pair{label, ord})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ord < pairs[j].ord })

	classes := make([]string, len(pairs))
	for i, p := range pairs {
		if p.ord != i {
			return nil, fmt.Errorf("class indices are not contiguous at ordinal %d", p.ord)
		}
		classes[i] = p.label
	}
	return classes, nil
}
