// Package synthesis generates T1-weighted volumes at arbitrary
// inversion times by evaluating the forward inversion-recovery model
// over fitted T1 and PD maps.
package synthesis

import (
	"fmt"
	"math"
	"runtime"
	"strconv"

	"golang.org/x/sync/errgroup"

	"multitisynth/internal/models"
	"multitisynth/pkg/signal"
)

// Request describes the inversion times to synthesize: the arithmetic
// ladder TIMin, TIMin+TIStep, ... clipped at TIMax. All values in ms.
type Request struct {
	TIMin  float64
	TIMax  float64
	TIStep float64
}

// Validate checks the enumeration invariants: a positive starting TI,
// a positive step, and a non-inverted range.
func (r Request) Validate() error {
	if !(r.TIMin > 0) {
		return fmt.Errorf("TI range must start above zero, got tiMin=%g", r.TIMin)
	}
	if r.TIMax < r.TIMin {
		return fmt.Errorf("TI range is inverted: tiMin=%g tiMax=%g", r.TIMin, r.TIMax)
	}
	if !(r.TIStep > 0) {
		return fmt.Errorf("TI step must be positive, got tiStep=%g", r.TIStep)
	}
	return nil
}

// TIs enumerates the requested inversion times. TIMin is always
// included; TIMax is included only when exactly reachable by the step.
// A small step-relative epsilon absorbs accumulated floating-point
// error so an exactly-reachable upper bound is not dropped.
func (r Request) TIs() []float64 {
	eps := r.TIStep * 1e-9
	var tis []float64
	for k := 0; ; k++ {
		ti := r.TIMin + float64(k)*r.TIStep
		if ti > r.TIMax+eps {
			break
		}
		tis = append(tis, ti)
	}
	return tis
}

// Image is one synthetic volume tagged with the inversion time it was
// generated at, for output naming.
type Image struct {
	TI     float64
	Volume *models.Volume
}

// Name returns the output tag for this image, e.g. "synT1_850".
func (im Image) Name() string {
	return "synT1_" + strconv.FormatFloat(im.TI, 'g', -1, 64)
}

// Engine evaluates the forward signal model over T1/PD maps. Images
// for distinct TIs are independent, so the engine parallelizes across
// the requested TIs with a bounded worker pool.
type Engine struct {
	// NumWorkers bounds per-TI parallelism; values below 1 default to
	// the number of CPUs.
	NumWorkers int
}

// Synthesize produces one volume per requested TI, in request order.
// Voxels carrying the invalid sentinel in either map (T1 <= 0 or
// PD <= 0) are written as zero in every output. Evaluation is in
// double precision throughout; precision is only reduced when a
// caller serializes the volume.
func (e *Engine) Synthesize(t1map, pdmap *models.Volume, tr float64, req Request) ([]Image, error) {
	if !(tr > 0) || math.IsNaN(tr) || math.IsInf(tr, 0) {
		return nil, fmt.Errorf("repetition time must be positive and finite, got TR=%g", tr)
	}
	if !t1map.SameShape(pdmap) {
		return nil, fmt.Errorf("map volumes must share a shape: T1 is %s, PD is %s", t1map, pdmap)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tis := req.TIs()
	images := make([]Image, len(tis))

	workers := e.NumWorkers
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	var eg errgroup.Group
	eg.SetLimit(workers)
	for i, ti := range tis {
		i, ti := i, ti
		eg.Go(func() error {
			out := models.NewVolumeLike(t1map)
			for v := 0; v < len(out.Data); v++ {
				t1 := t1map.Data[v]
				pd := pdmap.Data[v]
				if t1 <= 0 || pd <= 0 {
					continue
				}
				out.Data[v] = signal.Signal(t1, pd, ti, tr)
			}
			images[i] = Image{TI: ti, Volume: out}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}
