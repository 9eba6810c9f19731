// Package imagery defines the satellite image tensor exchanged with the
// vegetation engine and the provider interface for acquiring imagery.
package imagery

import (
	"fmt"
	"time"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

// Channel indices within a pixel.
const (
	ChannelRed = iota
	ChannelGreen
	ChannelBlue
	Channels
)

// Image is an H×W×3 tensor of pixel intensities in [0,255], row-major
// with interleaved RGB channels.
type Image struct {
	Width  int
	Height int
	Pix    []float64
}

// NewImage allocates a zeroed image of the given dimensions.
func NewImage(width, height int) Image {
	return Image{
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height*Channels),
	}
}

// At returns the intensity of channel c at pixel (x, y).
func (im Image) At(x, y, c int) float64 {
	return im.Pix[(y*im.Width+x)*Channels+c]
}

// Set assigns the intensity of channel c at pixel (x, y).
func (im Image) Set(x, y, c int, v float64) {
	im.Pix[(y*im.Width+x)*Channels+c] = v
}

// Validate checks the tensor's shape invariants.
func (im Image) Validate() error {
	if im.Width <= 0 || im.Height <= 0 {
		return fmt.Errorf("%w: image dimensions %dx%d", types.ErrInvalidInput, im.Width, im.Height)
	}
	if len(im.Pix) != im.Width*im.Height*Channels {
		return fmt.Errorf("%w: pixel buffer length %d does not match %dx%dx%d",
			types.ErrInvalidInput, len(im.Pix), im.Height, im.Width, Channels)
	}
	return nil
}

// Resize returns a nearest-neighbor resampling of the image.
func Resize(im Image, width, height int) Image {
	out := NewImage(width, height)
	for y := 0; y < height; y++ {
		srcY := y * im.Height / height
		for x := 0; x < width; x++ {
			srcX := x * im.Width / width
			for c := 0; c < Channels; c++ {
				out.Set(x, y, c, im.At(srcX, srcY, c))
			}
		}
	}
	return out
}

// TimedImage pairs an image with its acquisition date.
type TimedImage struct {
	Date  time.Time
	Image Image
}
