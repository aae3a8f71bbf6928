//go:build gocv
// +build gocv

package segment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
	"go.opentelemetry.io/otel"
	"golang.org/x/image/draw"
)

const (
	dnnBoxesLayer = "detection_out_final"
	dnnMasksLayer = "detection_masks"
	dnnMaskThresh = 0.5
)

// DNNSegmenter runs a TensorFlow Mask R-CNN graph through OpenCV's DNN
// module. The network is not safe for concurrent use, so calls are
// serialized.
type DNNSegmenter struct {
	mu       sync.Mutex
	net      gocv.Net
	minScore float64
}

// NewDNNSegmenter loads the frozen graph at modelPath with its text graph
// config.
func NewDNNSegmenter(modelPath, configPath string, minScore float64) (*DNNSegmenter, error) {
	net := gocv.ReadNetFromTensorflow(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("load mask r-cnn from %s", modelPath)
	}
	return &DNNSegmenter{net: net, minScore: minScore}, nil
}

// Segment implements Segmenter.
func (d *DNNSegmenter) Segment(ctx context.Context, img image.Image) ([]Instance, error) {
	_, span := otel.Tracer("segment").Start(ctx, "DNNSegmenter.Segment")
	defer span.End()

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, errors.New("empty image")
	}

	blob := gocv.BlobFromImage(mat, 1.0, image.Pt(mat.Cols(), mat.Rows()), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	outs := d.net.ForwardLayers([]string{dnnBoxesLayer, dnnMasksLayer})
	d.mu.Unlock()
	for i := range outs {
		defer outs[i].Close()
	}
	if len(outs) != 2 {
		return nil, fmt.Errorf("unexpected network outputs: %d", len(outs))
	}

	boxes, err := outs[0].DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	masks, err := outs[1].DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	msz := outs[1].Size() // [N, classes, mh, mw]
	if len(msz) != 4 {
		return nil, fmt.Errorf("unexpected mask shape %v", msz)
	}
	numClasses, mh, mw := msz[1], msz[2], msz[3]

	w, h := mat.Cols(), mat.Rows()
	var instances []Instance
	for i := 0; i*7+6 < len(boxes); i++ {
		det := boxes[i*7 : i*7+7]
		score := float64(det[2])
		if score < d.minScore {
			continue
		}
		tfClass := int(det[1])
		classID, ok := ClassIDFromCategory(tfClass + 1)
		if !ok || tfClass >= numClasses {
			continue
		}
		box := image.Rect(
			clamp(int(det[3]*float32(w)), 0, w),
			clamp(int(det[4]*float32(h)), 0, h),
			clamp(int(det[5]*float32(w)), 0, w),
			clamp(int(det[6]*float32(h)), 0, h),
		)
		if box.Empty() {
			continue
		}
		off := (i*numClasses + tfClass) * mh * mw
		if off+mh*mw > len(masks) {
			break
		}
		instances = append(instances, Instance{
			ClassID: classID,
			Score:   score,
			Mask:    boxMask(masks[off:off+mh*mw], mw, mh, box, w, h),
		})
	}
	return instances, nil
}

// boxMask scales a low-resolution probability mask onto box and thresholds it.
func boxMask(probs []float32, mw, mh int, box image.Rectangle, w, h int) *Mask {
	src := image.NewGray(image.Rect(0, 0, mw, mh))
	for i, p := range probs {
		src.Pix[i] = uint8(clamp(int(p*255), 0, 255))
	}
	dst := image.NewGray(image.Rect(0, 0, box.Dx(), box.Dy()))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	m := NewMask(w, h)
	thresh := uint8(dnnMaskThresh * 255)
	for y := 0; y < box.Dy(); y++ {
		for x := 0; x < box.Dx(); x++ {
			if dst.Pix[y*dst.Stride+x] > thresh {
				m.Set(box.Min.X+x, box.Min.Y+y)
			}
		}
	}
	return m
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Close releases the network.
func (d *DNNSegmenter) Close() error {
	return d.net.Close()
}
