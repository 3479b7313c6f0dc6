// Package imaging turns uploaded image bytes into the tensor the disease
// model consumes.
package imaging

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"

	"agrisense/internal/errdef"
)

const (
	// Side is the input resolution of the disease model.
	Side = 224
	// Channels is RGB.
	Channels = 3
)

// Tensor is a batch-1, channel-last float32 tensor of shape (1, Side, Side,
// Channels) with values in [0,1].
type Tensor struct {
	Data []float32
}

// Shape reports the NHWC dimensions.
func (t *Tensor) Shape() [4]int64 {
	return [4]int64{1, Side, Side, Channels}
}

// Preprocess decodes payload, resizes to Side×Side and normalizes pixel
// values to [0,1]. Deterministic for a given payload; performs no I/O.
func Preprocess(payload []byte) (*Tensor, error) {
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, &errdef.DecodeError{Err: err}
	}

	resized := resize.Resize(Side, Side, img, resize.NearestNeighbor)

	data := make([]float32, Side*Side*Channels)
	i := 0
	for y := 0; y < Side; y++ {
		for x := 0; x < Side; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			data[i] = float32(r) / 65535.0
			data[i+1] = float32(g) / 65535.0
			data[i+2] = float32(b) / 65535.0
			i += Channels
		}
	}

	return &Tensor{Data: data}, nil
}
