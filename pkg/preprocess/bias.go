// Package preprocess implements the array-level preparation steps that
// run between the external preprocessing tools and the map solver:
// harmonic bias-field combination, white-matter mean normalization,
// reference-minimum clamping, and the fallback foreground mask.
package preprocess

import (
	"fmt"
	"math"

	"multitisynth/internal/models"
)

// CombineHarmonicBias combines two independently estimated bias fields
// into a single harmonic field, the voxelwise geometric mean
// sqrt(b1*b2). Applying one shared field to both acquisitions keeps
// their intensity relationship intact, which the two-point fit depends
// on. Both fields must be strictly positive everywhere.
func CombineHarmonicBias(mprageBias, fgatirBias *models.Volume) (*models.Volume, error) {
	if !mprageBias.SameShape(fgatirBias) {
		return nil, fmt.Errorf("bias fields must share a shape: %s vs %s", mprageBias, fgatirBias)
	}
	out := models.NewVolumeLike(mprageBias)
	for i, b1 := range mprageBias.Data {
		b2 := fgatirBias.Data[i]
		if b1 <= 0 || b2 <= 0 {
			return nil, fmt.Errorf("bias fields must be strictly positive, got %g and %g at voxel %d", b1, b2, i)
		}
		out.Data[i] = math.Sqrt(b1 * b2)
	}
	return out, nil
}

// ApplyBias divides an image voxelwise by a bias field, returning a
// corrected copy.
func ApplyBias(img, field *models.Volume) (*models.Volume, error) {
	if !img.SameShape(field) {
		return nil, fmt.Errorf("bias field shape %s does not match image shape %s", field, img)
	}
	out := models.NewVolumeLike(img)
	for i, v := range img.Data {
		out.Data[i] = v / field.Data[i]
	}
	return out, nil
}

// ApplyReferenceMin clamps the image's low tail to the minimum
// intensity of the reference volume, returning a clamped copy.
func ApplyReferenceMin(img, ref *models.Volume) *models.Volume {
	refMin, _ := ref.MinMax()
	out := img.Clone()
	for i, v := range out.Data {
		if v < refMin {
			out.Data[i] = refMin
		}
	}
	return out
}
