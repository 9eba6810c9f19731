package server

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/imagery"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

// decodeImage reads an uploaded PNG or JPEG into the analysis tensor
// format.
func decodeImage(r io.Reader) (imagery.Image, error) {
	decoded, _, err := image.Decode(r)
	if err != nil {
		return imagery.Image{}, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}

	bounds := decoded.Bounds()
	out := imagery.NewImage(bounds.Dx(), bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r16, g16, b16, _ := decoded.At(x, y).RGBA()
			out.Set(x-bounds.Min.X, y-bounds.Min.Y, imagery.ChannelRed, float64(r16>>8))
			out.Set(x-bounds.Min.X, y-bounds.Min.Y, imagery.ChannelGreen, float64(g16>>8))
			out.Set(x-bounds.Min.X, y-bounds.Min.Y, imagery.ChannelBlue, float64(b16>>8))
		}
	}
	return out, nil
}
