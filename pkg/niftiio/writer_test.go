package niftiio

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"multitisynth/internal/models"
)

// makeTestVolume builds a small volume with a recognizable ramp.
func makeTestVolume() *models.Volume {
	v := models.NewVolume(3, 4, 2)
	v.VoxelSize.X = 0.8
	v.VoxelSize.Y = 0.8
	v.VoxelSize.Z = 1.2
	for i := range v.Data {
		v.Data[i] = float64(i) * 0.5
	}
	return v
}

// readAll reads a written file, transparently decompressing .gz.
func readAll(t *testing.T, path string) []byte {
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if filepath.Ext(path) == ".gz" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			t.Fatalf("failed to open gzip stream: %v", err)
		}
		defer gz.Close()
		r = gz
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return data
}

// TestWriteVolumeHeader verifies the fixed NIfTI-1 header fields at
// their standard byte offsets.
func TestWriteVolumeHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.nii")
	vol := makeTestVolume()

	if err := WriteVolume(path, vol); err != nil {
		t.Fatalf("WriteVolume failed: %v", err)
	}
	raw := readAll(t, path)

	if len(raw) != 352+4*vol.Len() {
		t.Fatalf("file length = %d, want %d", len(raw), 352+4*vol.Len())
	}

	le := binary.LittleEndian
	if got := int32(le.Uint32(raw[0:4])); got != 348 {
		t.Errorf("sizeof_hdr = %d, want 348", got)
	}
	// dim[0..3] at offset 40.
	dims := []int16{3, 3, 4, 2}
	for i, want := range dims {
		if got := int16(le.Uint16(raw[40+2*i : 42+2*i])); got != want {
			t.Errorf("dim[%d] = %d, want %d", i, got, want)
		}
	}
	if got := int16(le.Uint16(raw[70:72])); got != 16 {
		t.Errorf("datatype = %d, want 16 (float32)", got)
	}
	if got := int16(le.Uint16(raw[72:74])); got != 32 {
		t.Errorf("bitpix = %d, want 32", got)
	}
	// pixdim[1..3] at offset 76 (pixdim[0] is the qfac slot).
	spacing := []float32{0.8, 0.8, 1.2}
	for i, want := range spacing {
		bits := le.Uint32(raw[80+4*i : 84+4*i])
		if got := math.Float32frombits(bits); got != want {
			t.Errorf("pixdim[%d] = %g, want %g", i+1, got, want)
		}
	}
	if got := math.Float32frombits(le.Uint32(raw[108:112])); got != 352 {
		t.Errorf("vox_offset = %g, want 352", got)
	}
	if !bytes.Equal(raw[344:348], []byte{'n', '+', '1', 0}) {
		t.Errorf("magic = %q, want \"n+1\\x00\"", raw[344:348])
	}
}

// TestWriteVolumePayload verifies the float32 voxel data, which is the
// single point where double precision is narrowed.
func TestWriteVolumePayload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.nii")
	vol := makeTestVolume()

	if err := WriteVolume(path, vol); err != nil {
		t.Fatalf("WriteVolume failed: %v", err)
	}
	raw := readAll(t, path)

	le := binary.LittleEndian
	for i, want := range vol.Data {
		bits := le.Uint32(raw[352+4*i : 356+4*i])
		if got := math.Float32frombits(bits); got != float32(want) {
			t.Fatalf("voxel %d = %g, want %g", i, got, float32(want))
		}
	}
}

// TestWriteVolumeGzip verifies that .nii.gz output decompresses to the
// same byte stream as plain .nii output.
func TestWriteVolumeGzip(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "vol.nii")
	compressed := filepath.Join(dir, "vol.nii.gz")
	vol := makeTestVolume()

	if err := WriteVolume(plain, vol); err != nil {
		t.Fatalf("WriteVolume(.nii) failed: %v", err)
	}
	if err := WriteVolume(compressed, vol); err != nil {
		t.Fatalf("WriteVolume(.nii.gz) failed: %v", err)
	}

	if !bytes.Equal(readAll(t, plain), readAll(t, compressed)) {
		t.Error("gzip output should decompress to the plain byte stream")
	}
}
