package preprocess

import (
	"fmt"
	"math"

	"multitisynth/internal/models"
)

// OtsuMask builds a fallback foreground mask from the sum of absolute
// intensities of the two acquisitions, thresholded by Otsu's method
// over a 256-bin histogram. It is used when no brain mask is supplied
// by the upstream tools.
func OtsuMask(a, b *models.Volume) (*models.Volume, error) {
	if !a.SameShape(b) {
		return nil, fmt.Errorf("input volumes must share a shape: %s vs %s", a, b)
	}

	sum := models.NewVolumeLike(a)
	for i := range sum.Data {
		sum.Data[i] = math.Abs(a.Data[i]) + math.Abs(b.Data[i])
	}

	threshold, err := otsuThreshold(sum.Data)
	if err != nil {
		return nil, err
	}

	mask := models.NewVolumeLike(a)
	for i, v := range sum.Data {
		if v > threshold {
			mask.Data[i] = 1
		}
	}
	return mask, nil
}

// otsuThreshold returns the intensity that maximizes the between-class
// variance of a 256-bin histogram of the data.
func otsuThreshold(data []float64) (float64, error) {
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if !(max > min) {
		return 0, fmt.Errorf("cannot threshold a constant image (all voxels are %g)", min)
	}

	const numBins = 256
	hist := make([]float64, numBins)
	binWidth := (max - min) / numBins
	for _, v := range data {
		bin := int((v - min) / binWidth)
		if bin >= numBins {
			bin = numBins - 1
		}
		hist[bin]++
	}

	total := float64(len(data))
	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i) * c
	}

	var sumBelow, weightBelow float64
	bestBin := 0
	bestVariance := -1.0
	for i := 0; i < numBins-1; i++ {
		weightBelow += hist[i]
		if weightBelow == 0 {
			continue
		}
		weightAbove := total - weightBelow
		if weightAbove == 0 {
			break
		}
		sumBelow += float64(i) * hist[i]

		meanBelow := sumBelow / weightBelow
		meanAbove := (sumAll - sumBelow) / weightAbove
		diff := meanBelow - meanAbove
		variance := weightBelow * weightAbove * diff * diff
		if variance > bestVariance {
			bestVariance = variance
			bestBin = i
		}
	}

	return min + (float64(bestBin)+1)*binWidth, nil
}
