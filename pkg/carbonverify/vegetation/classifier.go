package vegetation

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/imagery"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

const (
	// inputSize is the square side every image is resized to before
	// feature extraction.
	inputSize = 224

	// poolGrid divides the input into an 8x8 grid of averaged cells per
	// channel, giving the dense head its 192-dimensional input.
	poolGrid   = 8
	featureDim = poolGrid * poolGrid * imagery.Channels

	classifierArtifact = "cnn.json"
)

// VegetationClasses are the classifier's output classes, in output order.
var VegetationClasses = []string{
	"no_vegetation",
	"sparse_vegetation",
	"moderate_vegetation",
	"dense_vegetation",
	"forest",
	"deforestation",
	"reforestation",
}

// softmaxNet is the dense softmax head over pooled image features.
type softmaxNet struct {
	weights *mat.Dense // numClasses x featureDim
	bias    []float64
}

type netArtifact struct {
	Classes []int     `json:"shape"` // [numClasses, featureDim]
	Weights []float64 `json:"weights"`
	Bias    []float64 `json:"bias"`
	Labels  []string  `json:"labels"`
}

// preprocess resizes to the model input shape, scales pixels to [0,1] and
// average-pools each channel over the 8x8 grid.
func preprocess(img imagery.Image) ([]float64, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	resized := imagery.Resize(img, inputSize, inputSize)

	cell := inputSize / poolGrid
	feats := make([]float64, featureDim)
	for gy := 0; gy < poolGrid; gy++ {
		for gx := 0; gx < poolGrid; gx++ {
			var sums [imagery.Channels]float64
			for y := gy * cell; y < (gy+1)*cell; y++ {
				for x := gx * cell; x < (gx+1)*cell; x++ {
					for c := 0; c < imagery.Channels; c++ {
						sums[c] += resized.At(x, y, c) / 255.0
					}
				}
			}
			base := (gy*poolGrid + gx) * imagery.Channels
			for c := 0; c < imagery.Channels; c++ {
				feats[base+c] = sums[c] / float64(cell*cell)
			}
		}
	}
	return feats, nil
}

// forward returns the softmax class distribution for one feature vector.
func (n *softmaxNet) forward(feats []float64) []float64 {
	x := mat.NewVecDense(featureDim, feats)
	logits := mat.NewVecDense(len(n.bias), nil)
	logits.MulVec(n.weights, x)

	maxLogit := math.Inf(-1)
	for i := 0; i < logits.Len(); i++ {
		v := logits.AtVec(i) + n.bias[i]
		logits.SetVec(i, v)
		if v > maxLogit {
			maxLogit = v
		}
	}

	probs := make([]float64, logits.Len())
	sum := 0.0
	for i := range probs {
		probs[i] = math.Exp(logits.AtVec(i) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// trainNet fits the head with full-batch gradient descent on a synthetic
// set of class-characteristic scenes.
func trainNet(seed int64) *softmaxNet {
	const (
		samplesPerClass = 40
		epochs          = 150
		learningRate    = 0.5
	)

	rng := rand.New(rand.NewSource(seed))
	numClasses := len(VegetationClasses)

	var feats [][]float64
	var labels []int
	for class := 0; class < numClasses; class++ {
		for s := 0; s < samplesPerClass; s++ {
			f, err := preprocess(synthTrainingScene(class, rng))
			if err != nil {
				// Synthetic scenes are always valid by construction.
				continue
			}
			feats = append(feats, f)
			labels = append(labels, class)
		}
	}

	net := &softmaxNet{
		weights: mat.NewDense(numClasses, featureDim, nil),
		bias:    make([]float64, numClasses),
	}
	for i := 0; i < numClasses; i++ {
		for j := 0; j < featureDim; j++ {
			net.weights.Set(i, j, rng.NormFloat64()*0.01)
		}
	}

	n := float64(len(feats))
	gradW := mat.NewDense(numClasses, featureDim, nil)
	gradB := make([]float64, numClasses)
	for epoch := 0; epoch < epochs; epoch++ {
		gradW.Zero()
		for i := range gradB {
			gradB[i] = 0
		}

		loss := 0.0
		for s, f := range feats {
			probs := net.forward(f)
			loss -= math.Log(math.Max(probs[labels[s]], 1e-12))
			for c := 0; c < numClasses; c++ {
				delta := probs[c]
				if c == labels[s] {
					delta -= 1
				}
				gradB[c] += delta / n
				for j := 0; j < featureDim; j++ {
					gradW.Set(c, j, gradW.At(c, j)+delta*f[j]/n)
				}
			}
		}

		for c := 0; c < numClasses; c++ {
			net.bias[c] -= learningRate * gradB[c]
			for j := 0; j < featureDim; j++ {
				net.weights.Set(c, j, net.weights.At(c, j)-learningRate*gradW.At(c, j))
			}
		}

		if epoch%50 == 0 {
			klog.V(4).InfoS("Vegetation classifier training", "epoch", epoch, "loss", loss/n)
		}
	}
	return net
}

// synthTrainingScene renders a 64x64 scene with the visual signature of
// one vegetation class: density-driven for the coverage classes, spatially
// split for deforestation, bright young growth for reforestation.
func synthTrainingScene(class int, rng *rand.Rand) imagery.Image {
	const size = 64
	im := imagery.NewImage(size, size)

	density := func(x, y int) float64 {
		switch VegetationClasses[class] {
		case "no_vegetation":
			return 0.02
		case "sparse_vegetation":
			return 0.15
		case "moderate_vegetation":
			return 0.45
		case "dense_vegetation":
			return 0.70
		case "forest":
			return 0.92
		case "deforestation":
			// Standing forest above a cleared strip.
			if y < size/2 {
				return 0.85
			}
			return 0.05
		default: // reforestation
			return 0.50
		}
	}

	bright := VegetationClasses[class] == "reforestation"
	dark := VegetationClasses[class] == "forest"
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if rng.Float64() < density(x, y) {
				g := 130 + 80*rng.Float64()
				if bright {
					g = 180 + 60*rng.Float64()
				}
				if dark {
					g = 90 + 50*rng.Float64()
				}
				im.Set(x, y, imagery.ChannelRed, 40+40*rng.Float64())
				im.Set(x, y, imagery.ChannelGreen, math.Min(g, 255))
				im.Set(x, y, imagery.ChannelBlue, 30+40*rng.Float64())
			} else {
				im.Set(x, y, imagery.ChannelRed, 120+80*rng.Float64())
				im.Set(x, y, imagery.ChannelGreen, 90+50*rng.Float64())
				im.Set(x, y, imagery.ChannelBlue, 60+40*rng.Float64())
			}
		}
	}
	return im
}

func loadNet(dir string) (*softmaxNet, error) {
	raw, err := os.ReadFile(filepath.Join(dir, classifierArtifact))
	if err != nil {
		return nil, err
	}
	var a netArtifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", classifierArtifact, err)
	}
	if len(a.Classes) != 2 || a.Classes[0] != len(VegetationClasses) || a.Classes[1] != featureDim {
		return nil, fmt.Errorf("%w: classifier artifact shape %v does not match %dx%d",
			types.ErrInvalidInput, a.Classes, len(VegetationClasses), featureDim)
	}
	if len(a.Weights) != a.Classes[0]*a.Classes[1] || len(a.Bias) != a.Classes[0] {
		return nil, fmt.Errorf("%w: classifier artifact payload truncated", types.ErrInvalidInput)
	}
	return &softmaxNet{
		weights: mat.NewDense(a.Classes[0], a.Classes[1], a.Weights),
		bias:    a.Bias,
	}, nil
}

func saveNet(dir string, net *softmaxNet) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	rows, cols := net.weights.Dims()
	a := netArtifact{
		Classes: []int{rows, cols},
		Weights: make([]float64, 0, rows*cols),
		Bias:    net.bias,
		Labels:  VegetationClasses,
	}
	for i := 0; i < rows; i++ {
		a.Weights = append(a.Weights, net.weights.RawRowView(i)...)
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, classifierArtifact), raw, 0o644)
}
