package models

import "fmt"

// Volume represents a 3D scalar image as a flat array in row-major order,
// where the x index varies fastest. All stages of the synthesis core share
// this representation: input images, the foreground mask, the fitted T1 and
// PD maps, and the synthetic outputs are all Volumes of identical shape.
type Volume struct {
	// Data holds the voxel intensities indexed as z*Nx*Ny + y*Nx + x.
	Data []float64

	// Nx, Ny, Nz are the volume dimensions in voxels.
	Nx, Ny, Nz int

	// VoxelSize is the physical size of each voxel in mm, carried from
	// the input header so outputs can be written with the same spacing.
	VoxelSize struct {
		X, Y, Z float64
	}
}

// NewVolume allocates a zero-filled volume with the given dimensions
// and unit voxel spacing.
func NewVolume(nx, ny, nz int) *Volume {
	v := &Volume{
		Data: make([]float64, nx*ny*nz),
		Nx:   nx,
		Ny:   ny,
		Nz:   nz,
	}
	v.VoxelSize.X = 1
	v.VoxelSize.Y = 1
	v.VoxelSize.Z = 1
	return v
}

// NewVolumeLike allocates a zero-filled volume with the same shape and
// voxel spacing as the reference volume.
func NewVolumeLike(ref *Volume) *Volume {
	v := NewVolume(ref.Nx, ref.Ny, ref.Nz)
	v.VoxelSize = ref.VoxelSize
	return v
}

// Len returns the total number of voxels.
func (v *Volume) Len() int {
	return v.Nx * v.Ny * v.Nz
}

// Index returns the flat index of voxel (x, y, z).
func (v *Volume) Index(x, y, z int) int {
	return z*v.Nx*v.Ny + y*v.Nx + x
}

// At returns the intensity at voxel (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// SetAt stores an intensity at voxel (x, y, z).
func (v *Volume) SetAt(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// SameShape reports whether two volumes have identical dimensions.
// Voxel spacing is not compared: co-registered inputs are expected to
// agree on spacing, and shape is the invariant the solvers rely on.
func (v *Volume) SameShape(other *Volume) bool {
	return v.Nx == other.Nx && v.Ny == other.Ny && v.Nz == other.Nz
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := NewVolumeLike(v)
	copy(out.Data, v.Data)
	return out
}

// MinMax returns the minimum and maximum intensity in the volume.
func (v *Volume) MinMax() (min, max float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	min = v.Data[0]
	max = v.Data[0]
	for _, val := range v.Data {
		if val < min {
			min = val
		}
		if val > max {
			max = val
		}
	}
	return min, max
}

// String describes the volume shape, for log and error messages.
func (v *Volume) String() string {
	return fmt.Sprintf("%dx%dx%d", v.Nx, v.Ny, v.Nz)
}
