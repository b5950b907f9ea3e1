package models

import "testing"

// TestVolumeIndexing verifies the row-major layout with x fastest.
func TestVolumeIndexing(t *testing.T) {
	v := NewVolume(3, 4, 5)

	if v.Len() != 60 || len(v.Data) != 60 {
		t.Fatalf("Len() = %d, want 60", v.Len())
	}
	if v.Index(0, 0, 0) != 0 {
		t.Errorf("Index(0,0,0) = %d, want 0", v.Index(0, 0, 0))
	}
	if v.Index(1, 0, 0) != 1 {
		t.Errorf("x must vary fastest, Index(1,0,0) = %d", v.Index(1, 0, 0))
	}
	if v.Index(0, 1, 0) != 3 {
		t.Errorf("Index(0,1,0) = %d, want 3", v.Index(0, 1, 0))
	}
	if v.Index(0, 0, 1) != 12 {
		t.Errorf("Index(0,0,1) = %d, want 12", v.Index(0, 0, 1))
	}
	if v.Index(2, 3, 4) != 59 {
		t.Errorf("Index(2,3,4) = %d, want 59", v.Index(2, 3, 4))
	}

	v.SetAt(2, 1, 3, 42)
	if v.At(2, 1, 3) != 42 {
		t.Error("SetAt/At round trip failed")
	}
}

// TestSameShape checks shape comparison ignores spacing.
func TestSameShape(t *testing.T) {
	a := NewVolume(2, 3, 4)
	b := NewVolume(2, 3, 4)
	b.VoxelSize.Z = 3.0
	c := NewVolume(2, 3, 5)

	if !a.SameShape(b) {
		t.Error("volumes with equal dimensions must compare as same shape")
	}
	if a.SameShape(c) {
		t.Error("volumes with different dimensions must not compare as same shape")
	}
}

// TestClone verifies deep copies.
func TestClone(t *testing.T) {
	a := NewVolume(2, 2, 2)
	a.VoxelSize.X = 0.7
	a.Data[3] = 5

	b := a.Clone()
	b.Data[3] = 9

	if a.Data[3] != 5 {
		t.Error("mutating a clone must not touch the original")
	}
	if b.VoxelSize.X != 0.7 {
		t.Error("clone must carry the voxel spacing")
	}
}

// TestMinMax covers the scan over intensities.
func TestMinMax(t *testing.T) {
	v := NewVolume(2, 2, 1)
	copy(v.Data, []float64{3, -1, 7, 0})

	min, max := v.MinMax()
	if min != -1 || max != 7 {
		t.Errorf("MinMax() = (%g, %g), want (-1, 7)", min, max)
	}
}
