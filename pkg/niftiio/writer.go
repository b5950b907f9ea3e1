package niftiio

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"multitisynth/internal/models"
)

// NIfTI-1 constants for the single-file layout this writer emits.
const (
	headerSize    = 348
	voxOffset     = 352 // header + 4-byte empty extension
	datatypeFloat = 16  // NIFTI_TYPE_FLOAT32
	unitsMMSec    = 10  // NIFTI_UNITS_MM | NIFTI_UNITS_SEC
	sformAligned  = 1   // NIFTI_XFORM_SCANNER_ANAT
)

// nifti1Header mirrors the fixed 348-byte NIfTI-1 header layout.
// Field order and sizes must not change.
type nifti1Header struct {
	SizeofHdr                    int32
	DataTypeUnused               [10]byte
	DbName                       [18]byte
	Extents                      int32
	SessionError                 int16
	Regular                      byte
	DimInfo                      byte
	Dim                          [8]int16
	IntentP1, IntentP2, IntentP3 float32
	IntentCode                   int16
	Datatype                     int16
	Bitpix                       int16
	SliceStart                   int16
	Pixdim                       [8]float32
	VoxOffset                    float32
	SclSlope                     float32
	SclInter                     float32
	SliceEnd                     int16
	SliceCode                    byte
	XyztUnits                    byte
	CalMax                       float32
	CalMin                       float32
	SliceDuration                float32
	Toffset                      float32
	Glmax                        int32
	Glmin                        int32
	Descrip                      [80]byte
	AuxFile                      [24]byte
	QformCode                    int16
	SformCode                    int16
	QuaternB, QuaternC, QuaternD float32
	QoffsetX, QoffsetY, QoffsetZ float32
	SrowX                        [4]float32
	SrowY                        [4]float32
	SrowZ                        [4]float32
	IntentName                   [16]byte
	Magic                        [4]byte
}

// WriteVolume serializes a volume as a single-file NIfTI-1 image with
// little-endian float32 storage; this is the only point where the
// pipeline's double-precision values are narrowed. Output is
// gzip-compressed when the path ends in .gz.
func WriteVolume(path string, vol *models.Volume) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	var w io.Writer = bw
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(bw)
		w = gz
	}

	if err := writeNifti1(w, vol); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to finish gzip stream: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Close()
}

func writeNifti1(w io.Writer, vol *models.Volume) error {
	hdr := nifti1Header{
		SizeofHdr: headerSize,
		Regular:   'r',
		Dim:       [8]int16{3, int16(vol.Nx), int16(vol.Ny), int16(vol.Nz), 1, 1, 1, 1},
		Datatype:  datatypeFloat,
		Bitpix:    32,
		Pixdim: [8]float32{1,
			float32(vol.VoxelSize.X),
			float32(vol.VoxelSize.Y),
			float32(vol.VoxelSize.Z), 0, 0, 0, 0},
		VoxOffset: voxOffset,
		SclSlope:  1,
		XyztUnits: unitsMMSec,
		SformCode: sformAligned,
		SrowX:     [4]float32{float32(vol.VoxelSize.X), 0, 0, 0},
		SrowY:     [4]float32{0, float32(vol.VoxelSize.Y), 0, 0},
		SrowZ:     [4]float32{0, 0, float32(vol.VoxelSize.Z), 0},
		Magic:     [4]byte{'n', '+', '1', 0},
	}

	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return err
	}
	// Empty extension marker.
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}

	data := make([]float32, len(vol.Data))
	for i, v := range vol.Data {
		data[i] = float32(v)
	}
	return binary.Write(w, binary.LittleEndian, data)
}
