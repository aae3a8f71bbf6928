// Package blocker hides selected objects in an image by painting their
// pixels with a noisy fill colour.
//
// The noise rule: for each masked pixel one sample n ~ N(0, σ) is drawn and
// added to every channel of the fill colour, and the result is clipped to
// [0, 255]. With the default white fill all three channels therefore carry
// the same value. Pixels outside the selection keep their original values,
// and masked pixels keep their original alpha.
package blocker

import (
	"image"
	"math/rand"

	"github.com/disintegration/imaging"

	"github.com/tbourn/go-person-blocker/internal/segment"
)

// Blocker applies the noise rule with a fixed colour and deviation.
type Blocker struct {
	Color  [3]uint8
	StdDev float64
	// Rand is the noise source; nil uses a time-seeded generator.
	Rand *rand.Rand
}

// New returns a Blocker with its own time-seeded noise source.
func New(color [3]uint8, stddev float64) *Blocker {
	return &Blocker{Color: color, StdDev: stddev}
}

// Select unions the masks of instances whose class is in targets into a
// single selection the size of w×h.
func Select(w, h int, instances []segment.Instance, targets map[int]bool) *segment.Mask {
	sel := segment.NewMask(w, h)
	for _, in := range instances {
		if !targets[in.ClassID] || in.Mask == nil {
			continue
		}
		sel.Union(segment.ScaleMask(in.Mask, w, h))
	}
	return sel
}

// Apply returns a copy of img with every pixel in sel replaced by the noisy
// fill colour. sel must have the image's dimensions.
func (b *Blocker) Apply(img image.Image, sel *segment.Mask) *image.NRGBA {
	out := imaging.Clone(img)
	if sel == nil {
		return out
	}
	rng := b.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	w, h := out.Bounds().Dx(), out.Bounds().Dy()
	for y := 0; y < h && y < sel.H; y++ {
		for x := 0; x < w && x < sel.W; x++ {
			if !sel.Bits[y*sel.W+x] {
				continue
			}
			n := rng.NormFloat64() * b.StdDev
			i := y*out.Stride + x*4
			out.Pix[i+0] = noisy(b.Color[0], n)
			out.Pix[i+1] = noisy(b.Color[1], n)
			out.Pix[i+2] = noisy(b.Color[2], n)
		}
	}
	return out
}

// noisy adds n to c, clips to [0, 255] and truncates the fraction.
func noisy(c uint8, n float64) uint8 {
	v := float64(c) + n
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
