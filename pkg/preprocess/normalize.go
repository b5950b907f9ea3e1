package preprocess

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"multitisynth/internal/models"
)

// Default white-matter normalization parameters, matching the values
// the pipeline was calibrated with.
const (
	// DefaultWMThreshold is the membership level above which a voxel
	// counts as white matter.
	DefaultWMThreshold = 0.40

	// DefaultWMTarget is the intensity the white-matter mean is scaled
	// to.
	DefaultWMTarget = 1000.0
)

// WMNormResult holds the outcome of white-matter mean normalization.
type WMNormResult struct {
	// MPRAGE and FGATIR are the rescaled copies of the inputs.
	MPRAGE *models.Volume
	FGATIR *models.Volume

	// Mask is the binary white-matter mask derived from the membership
	// volume (1 inside, 0 outside).
	Mask *models.Volume

	// Mean is the MPRAGE white-matter mean before scaling.
	Mean float64
}

// NormalizeWhiteMatter rescales both acquisitions by the same factor
// target/mean, where mean is the MPRAGE average over voxels whose
// white-matter membership exceeds the threshold. Using one shared
// factor preserves the inter-image intensity ratio the two-point fit
// relies on.
func NormalizeWhiteMatter(mprage, fgatir, membership *models.Volume, threshold, target float64) (*WMNormResult, error) {
	if !mprage.SameShape(fgatir) {
		return nil, fmt.Errorf("input volumes must share a shape: MPRAGE is %s, FGATIR is %s", mprage, fgatir)
	}
	if !mprage.SameShape(membership) {
		return nil, fmt.Errorf("membership shape %s does not match input shape %s", membership, mprage)
	}
	if !(target > 0) {
		return nil, fmt.Errorf("normalization target must be positive, got %g", target)
	}

	mask := models.NewVolumeLike(membership)
	var wm []float64
	for i, m := range membership.Data {
		if m > threshold {
			mask.Data[i] = 1
			wm = append(wm, mprage.Data[i])
		}
	}
	if len(wm) == 0 {
		return nil, fmt.Errorf("white-matter mask is empty at membership threshold %g", threshold)
	}

	mean := stat.Mean(wm, nil)
	if !(mean > 0) {
		return nil, fmt.Errorf("white-matter mean must be positive, got %g", mean)
	}
	scale := target / mean

	out := &WMNormResult{
		MPRAGE: models.NewVolumeLike(mprage),
		FGATIR: models.NewVolumeLike(fgatir),
		Mask:   mask,
		Mean:   mean,
	}
	for i := range mprage.Data {
		out.MPRAGE.Data[i] = mprage.Data[i] * scale
		out.FGATIR.Data[i] = fgatir.Data[i] * scale
	}
	return out, nil
}
