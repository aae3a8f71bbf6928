package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"

	"github.com/disintegration/imaging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/image/draw"
)

// RLE is a COCO uncompressed run-length mask: Size is [height, width] and
// Counts alternate between unset and set runs over the pixels in
// column-major order, starting with unset.
type RLE struct {
	Size   []int `json:"size"`
	Counts []int `json:"counts"`
}

type wireInstance struct {
	ClassID int     `json:"class_id"`
	Score   float64 `json:"score"`
	Mask    RLE     `json:"mask"`
}

type wireResponse struct {
	Instances []wireInstance `json:"instances"`
}

// HTTPSegmenter posts images to a model server.
//
// Request: POST <url> with the PNG-encoded image (Content-Type image/png).
// Response: {"instances":[{"class_id":1,"score":0.98,"mask":{"size":[h,w],"counts":[...]}}]}.
type HTTPSegmenter struct {
	url      string
	minScore float64
	client   *http.Client
}

// NewHTTPSegmenter returns a segmenter for the model server at url.
// Instances scoring below minScore are dropped.
func NewHTTPSegmenter(url string, minScore float64, client *http.Client) *HTTPSegmenter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSegmenter{url: url, minScore: minScore, client: client}
}

// Segment implements Segmenter.
func (s *HTTPSegmenter) Segment(ctx context.Context, img image.Image) ([]Instance, error) {
	ctx, span := otel.Tracer("segment").Start(ctx, "HTTPSegmenter.Segment")
	defer span.End()

	if s.url == "" {
		return nil, errors.New("segmenter url is not configured")
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/png")

	resp, err := s.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("segmenter request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("segmenter status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode segmenter response: %w", err)
	}

	b := img.Bounds()
	instances := make([]Instance, 0, len(out.Instances))
	for i, wi := range out.Instances {
		if wi.Score < s.minScore {
			continue
		}
		m, err := DecodeRLE(wi.Mask)
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		instances = append(instances, Instance{
			ClassID: wi.ClassID,
			Score:   wi.Score,
			Mask:    ScaleMask(m, b.Dx(), b.Dy()),
		})
	}
	span.SetAttributes(attribute.Int("instances", len(instances)))
	return instances, nil
}

// MaxMaskPixels caps the size a decoded RLE mask may declare.
const MaxMaskPixels = 64 << 20

// DecodeRLE expands an uncompressed COCO RLE into a Mask. The counts must
// cover exactly height*width pixels.
func DecodeRLE(r RLE) (*Mask, error) {
	if len(r.Size) != 2 || r.Size[0] <= 0 || r.Size[1] <= 0 {
		return nil, fmt.Errorf("invalid rle size %v", r.Size)
	}
	h, w := r.Size[0], r.Size[1]
	if h > MaxMaskPixels/w {
		return nil, fmt.Errorf("rle size %dx%d exceeds %d pixels", w, h, MaxMaskPixels)
	}
	total := w * h
	sum := 0
	for _, n := range r.Counts {
		if n < 0 || n > total-sum {
			return nil, fmt.Errorf("rle counts overflow %dx%d", w, h)
		}
		sum += n
	}
	if sum != total {
		return nil, fmt.Errorf("rle counts cover %d of %d pixels", sum, total)
	}

	m := NewMask(w, h)
	pos := 0
	for i, n := range r.Counts {
		if i%2 == 1 {
			for p := pos; p < pos+n; p++ {
				m.Bits[(p%h)*w+p/h] = true
			}
		}
		pos += n
	}
	return m, nil
}

// EncodeRLE is the inverse of DecodeRLE.
func EncodeRLE(m *Mask) RLE {
	r := RLE{Size: []int{m.H, m.W}}
	cur, run := false, 0
	for x := 0; x < m.W; x++ {
		for y := 0; y < m.H; y++ {
			v := m.Bits[y*m.W+x]
			if v != cur {
				r.Counts = append(r.Counts, run)
				cur, run = v, 0
			}
			run++
		}
	}
	r.Counts = append(r.Counts, run)
	return r
}

// ScaleMask resizes m to w×h with nearest-neighbour sampling. A mask that
// already has that size is returned as is.
func ScaleMask(m *Mask, w, h int) *Mask {
	if m.W == w && m.H == h {
		return m
	}
	src := image.NewGray(image.Rect(0, 0, m.W, m.H))
	for i, b := range m.Bits {
		if b {
			src.Pix[(i/m.W)*src.Stride+i%m.W] = 0xff
		}
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return maskFromGray(dst, 0x80)
}

// maskFromGray sets every pixel of g at or above threshold.
func maskFromGray(g *image.Gray, threshold uint8) *Mask {
	b := g.Bounds()
	m := NewMask(b.Dx(), b.Dy())
	for y := 0; y < m.H; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+m.W]
		for x, v := range row {
			if v >= threshold {
				m.Bits[y*m.W+x] = true
			}
		}
	}
	return m
}
