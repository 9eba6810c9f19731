package vegetation

import (
	"github.com/carbonflow/ai-engine/pkg/carbonverify/imagery"
)

// ndviThreshold marks a pixel as vegetated when its visible-spectrum
// vegetation index exceeds it.
const ndviThreshold = 0.2

// vegetationCoverage estimates the vegetated fraction of the raw image as
// a percentage, using a green/red proxy for NDVI. Works on original pixel
// values, independent of the classifier.
func vegetationCoverage(img imagery.Image) float64 {
	total := img.Width * img.Height
	if total == 0 {
		return 0
	}

	vegetated := 0
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			g := img.At(x, y, imagery.ChannelGreen)
			r := img.At(x, y, imagery.ChannelRed)
			index := (g - r) / (g + r + 1e-8)
			if index > ndviThreshold {
				vegetated++
			}
		}
	}

	coverage := float64(vegetated) / float64(total) * 100
	if coverage > 100 {
		coverage = 100
	}
	return coverage
}
