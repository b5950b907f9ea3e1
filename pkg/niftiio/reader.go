// Package niftiio reads and writes volumes in the NIfTI-1 format used
// by the surrounding neuroimaging tools. Reading goes through the
// nifti library; writing emits a standard single-file (.nii / .nii.gz)
// image with float32 storage.
package niftiio

import (
	"fmt"

	"github.com/henghuang/nifti"

	"multitisynth/internal/models"
)

// ReadVolume loads the first 3D frame of a NIfTI-1 file into a Volume,
// carrying the voxel spacing from the header.
func ReadVolume(path string) (*models.Volume, error) {
	img, err := safelyLoadImage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read NIfTI image %s: %v", path, err)
	}
	hdr, err := safelyLoadHeader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read NIfTI header %s: %v", path, err)
	}

	dims := img.GetDims()
	nx, ny, nz := dims[0], dims[1], dims[2]
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("NIfTI image %s has degenerate dimensions %dx%dx%d", path, nx, ny, nz)
	}

	vol := models.NewVolume(nx, ny, nz)
	vol.VoxelSize.X = float64(hdr.Pixdim[1])
	vol.VoxelSize.Y = float64(hdr.Pixdim[2])
	vol.VoxelSize.Z = float64(hdr.Pixdim[3])

	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				vol.SetAt(x, y, z, float64(img.GetAt(x, y, z, 0)))
			}
		}
	}
	return vol, nil
}

// safelyLoadImage consumes panics emitted by the nifti library, which
// are inappropriate and must be captured in order to turn them into
// recoverable errors.
func safelyLoadImage(path string) (img nifti.Nifti1Image, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%v", panicErr)
		}
	}()

	img.LoadImage(path, true)

	return
}

// safelyLoadHeader consumes panics emitted by the nifti library when
// parsing headers.
func safelyLoadHeader(path string) (hdr nifti.Nifti1Header, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%v", panicErr)
		}
	}()

	hdr.LoadHeader(path)

	return
}
