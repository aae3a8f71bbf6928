// Package segment wraps the instance segmentation model that finds people
// (and other COCO objects) in an image.
//
// A Segmenter is built once at startup and injected into the worker. Two
// backends exist: HTTPSegmenter calls a model server that hosts a pretrained
// Mask R-CNN, and DNNSegmenter runs a Mask R-CNN graph in-process through
// OpenCV's DNN module (only with the "gocv" build tag).
package segment

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/tbourn/go-person-blocker/internal/config"
)

// Mask is an image-sized binary bitmap stored row-major.
type Mask struct {
	W, H int
	Bits []bool
}

// NewMask returns an empty w×h mask.
func NewMask(w, h int) *Mask {
	return &Mask{W: w, H: h, Bits: make([]bool, w*h)}
}

// At reports whether (x, y) is set. Out-of-range points are unset.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return false
	}
	return m.Bits[y*m.W+x]
}

// Set marks (x, y).
func (m *Mask) Set(x, y int) {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return
	}
	m.Bits[y*m.W+x] = true
}

// Union sets every point set in o. Masks of different size are ignored.
func (m *Mask) Union(o *Mask) {
	if o == nil || o.W != m.W || o.H != m.H {
		return
	}
	for i, b := range o.Bits {
		if b {
			m.Bits[i] = true
		}
	}
}

// Count returns the number of set points.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// Instance is one detected object.
type Instance struct {
	ClassID int
	Score   float64
	Mask    *Mask
}

// Segmenter detects object instances in an image. Returned masks have the
// image's dimensions.
type Segmenter interface {
	Segment(ctx context.Context, img image.Image) ([]Instance, error)
}

// New builds the backend selected by cfg.Backend. For the dnn backend the
// model weights are downloaded first when missing.
func New(ctx context.Context, cfg config.SegmenterConfig) (Segmenter, error) {
	switch cfg.Backend {
	case "http", "":
		return NewHTTPSegmenter(cfg.URL, cfg.MinScore, &http.Client{Timeout: 2 * time.Minute}), nil
	case "dnn":
		if err := EnsureWeights(ctx, cfg.ModelPath, cfg.ModelURL, nil); err != nil {
			return nil, err
		}
		d, err := NewDNNSegmenter(cfg.ModelPath, cfg.ModelConfigPath, cfg.MinScore)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported segmenter backend %q", cfg.Backend)
	}
}
