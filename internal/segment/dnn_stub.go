//go:build !gocv
// +build !gocv

package segment

import (
	"context"
	"errors"
	"image"
)

// ErrDNNUnavailable is returned when the binary was built without OpenCV.
var ErrDNNUnavailable = errors.New("dnn segmenter requires the gocv build tag")

// DNNSegmenter is unavailable without the gocv build tag.
type DNNSegmenter struct{}

// NewDNNSegmenter always fails without the gocv build tag.
func NewDNNSegmenter(modelPath, configPath string, minScore float64) (*DNNSegmenter, error) {
	return nil, ErrDNNUnavailable
}

// Segment implements Segmenter.
func (d *DNNSegmenter) Segment(ctx context.Context, img image.Image) ([]Instance, error) {
	return nil, ErrDNNUnavailable
}

// Close is a no-op.
func (d *DNNSegmenter) Close() error { return nil }
