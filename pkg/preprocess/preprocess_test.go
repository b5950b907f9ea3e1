package preprocess

import (
	"math"
	"testing"

	"multitisynth/internal/models"
)

// fillVolume creates a volume and fills it from a per-index function.
func fillVolume(nx, ny, nz int, f func(i int) float64) *models.Volume {
	v := models.NewVolume(nx, ny, nz)
	for i := range v.Data {
		v.Data[i] = f(i)
	}
	return v
}

// TestCombineHarmonicBias checks the geometric-mean combination
// against hand-computed values.
func TestCombineHarmonicBias(t *testing.T) {
	b1 := fillVolume(2, 2, 1, func(i int) float64 { return 4 })
	b2 := fillVolume(2, 2, 1, func(i int) float64 { return 9 })

	field, err := CombineHarmonicBias(b1, b2)
	if err != nil {
		t.Fatalf("CombineHarmonicBias failed: %v", err)
	}
	for i, v := range field.Data {
		if math.Abs(v-6) > 1e-12 {
			t.Errorf("voxel %d: sqrt(4*9) should be 6, got %g", i, v)
		}
	}
}

// TestCombineHarmonicBiasRejectsNonPositive verifies the positivity
// precondition.
func TestCombineHarmonicBiasRejectsNonPositive(t *testing.T) {
	b1 := fillVolume(2, 2, 1, func(i int) float64 { return 1 })
	b2 := fillVolume(2, 2, 1, func(i int) float64 { return 1 })
	b2.Data[3] = 0

	if _, err := CombineHarmonicBias(b1, b2); err == nil {
		t.Error("expected an error for a non-positive bias voxel")
	}
}

// TestApplyBias verifies voxelwise division.
func TestApplyBias(t *testing.T) {
	img := fillVolume(2, 1, 1, func(i int) float64 { return float64((i + 1) * 10) })
	field := fillVolume(2, 1, 1, func(i int) float64 { return 2 })

	out, err := ApplyBias(img, field)
	if err != nil {
		t.Fatalf("ApplyBias failed: %v", err)
	}
	if out.Data[0] != 5 || out.Data[1] != 10 {
		t.Errorf("expected [5 10], got %v", out.Data)
	}
	if img.Data[0] != 10 {
		t.Error("ApplyBias must not mutate its input")
	}
}

// TestNormalizeWhiteMatter checks the shared scale factor and the
// derived mask.
func TestNormalizeWhiteMatter(t *testing.T) {
	// Two WM voxels with MPRAGE mean 500 -> scale factor 2.
	mprage := fillVolume(2, 2, 1, func(i int) float64 { return float64(400 + 100*i) })
	fgatir := fillVolume(2, 2, 1, func(i int) float64 { return 50 })
	membership := fillVolume(2, 2, 1, func(i int) float64 {
		if i < 2 {
			return 0.9
		}
		return 0.1
	})

	res, err := NormalizeWhiteMatter(mprage, fgatir, membership, DefaultWMThreshold, DefaultWMTarget)
	if err != nil {
		t.Fatalf("NormalizeWhiteMatter failed: %v", err)
	}

	// mean over voxels 0,1 = (400+500)/2 = 450; scale = 1000/450.
	if math.Abs(res.Mean-450) > 1e-12 {
		t.Errorf("WM mean = %g, want 450", res.Mean)
	}
	scale := 1000.0 / 450.0
	for i := range mprage.Data {
		if math.Abs(res.MPRAGE.Data[i]-mprage.Data[i]*scale) > 1e-9 {
			t.Errorf("MPRAGE voxel %d not scaled by the shared factor", i)
		}
		if math.Abs(res.FGATIR.Data[i]-fgatir.Data[i]*scale) > 1e-9 {
			t.Errorf("FGATIR voxel %d not scaled by the shared factor", i)
		}
	}
	for i, want := range []float64{1, 1, 0, 0} {
		if res.Mask.Data[i] != want {
			t.Errorf("mask voxel %d = %g, want %g", i, res.Mask.Data[i], want)
		}
	}
}

// TestNormalizeWhiteMatterEmptyMask verifies the empty-mask error.
func TestNormalizeWhiteMatterEmptyMask(t *testing.T) {
	mprage := fillVolume(2, 2, 1, func(i int) float64 { return 100 })
	fgatir := fillVolume(2, 2, 1, func(i int) float64 { return 100 })
	membership := fillVolume(2, 2, 1, func(i int) float64 { return 0.1 })

	if _, err := NormalizeWhiteMatter(mprage, fgatir, membership, DefaultWMThreshold, DefaultWMTarget); err == nil {
		t.Error("expected an error for an empty white-matter mask")
	}
}

// TestApplyReferenceMin verifies the low-tail clamp.
func TestApplyReferenceMin(t *testing.T) {
	img := fillVolume(3, 1, 1, func(i int) float64 { return float64(i) - 1 }) // -1, 0, 1
	ref := fillVolume(3, 1, 1, func(i int) float64 { return float64(i) })     // min 0

	out := ApplyReferenceMin(img, ref)
	want := []float64{0, 0, 1}
	for i := range want {
		if out.Data[i] != want[i] {
			t.Errorf("voxel %d = %g, want %g", i, out.Data[i], want[i])
		}
	}
}

// TestOtsuMask checks foreground/background separation on a bimodal
// image: a dim background cluster and a bright object cluster.
func TestOtsuMask(t *testing.T) {
	const n = 8
	a := fillVolume(n, n, 1, func(i int) float64 {
		if i >= n*n/2 {
			return 800 + float64(i%7)
		}
		return 5 + float64(i%3)
	})
	b := fillVolume(n, n, 1, func(i int) float64 {
		if i >= n*n/2 {
			return 400 + float64(i%5)
		}
		return 3 + float64(i%2)
	})

	mask, err := OtsuMask(a, b)
	if err != nil {
		t.Fatalf("OtsuMask failed: %v", err)
	}
	for i := 0; i < n*n/2; i++ {
		if mask.Data[i] != 0 {
			t.Fatalf("background voxel %d should be masked out", i)
		}
	}
	for i := n * n / 2; i < n*n; i++ {
		if mask.Data[i] != 1 {
			t.Fatalf("foreground voxel %d should be kept", i)
		}
	}
}

// TestOtsuMaskConstantImage verifies the degenerate-input error.
func TestOtsuMaskConstantImage(t *testing.T) {
	a := fillVolume(4, 4, 1, func(i int) float64 { return 7 })
	b := fillVolume(4, 4, 1, func(i int) float64 { return 7 })
	if _, err := OtsuMask(a, b); err == nil {
		t.Error("expected an error for a constant image")
	}
}
