// Package fitting estimates per-voxel T1 and PD maps from a pair of
// co-registered, intensity-normalized inversion-recovery volumes by
// applying the two-point signal-model inverse independently at every
// voxel, partitioned across a fixed worker pool.
package fitting

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"multitisynth/internal/models"
	"multitisynth/pkg/signal"
)

// Options configures a map-solver run.
type Options struct {
	// NumWorkers is the number of parallel workers; values below 1
	// default to the number of CPUs.
	NumWorkers int

	// Solver configures the per-voxel root search. The zero value is
	// replaced by signal.DefaultSolverParams.
	Solver signal.SolverParams
}

// Stats summarizes a map-solver run so callers can judge map quality
// without inspecting individual voxels.
type Stats struct {
	// Total is the number of voxels in the volume.
	Total int

	// Masked counts voxels skipped because they fell outside the
	// foreground mask.
	Masked int

	// Fitted counts voxels with a converged T1/PD estimate.
	Fitted int

	// Invalid counts voxels where the estimate was rejected
	// (degenerate signal, no bracket, residual above tolerance, or
	// iteration cap).
	Invalid int

	// SolverCalls counts invocations of the per-voxel estimator. It
	// equals Fitted+Invalid and exists so tests can verify that masked
	// voxels never reach the solver.
	SolverCalls int
}

// InvalidFraction returns the fraction of attempted (unmasked) voxels
// whose estimate was rejected.
func (s Stats) InvalidFraction() float64 {
	attempted := s.Fitted + s.Invalid
	if attempted == 0 {
		return 0
	}
	return float64(s.Invalid) / float64(attempted)
}

// Solve fits T1 and PD maps from the MPRAGE and FGATIR volumes. The
// mask may be nil, in which case every voxel is fitted; otherwise
// voxels with mask intensity <= 0.5 are written as the invalid
// sentinel (0 in both maps) without invoking the estimator.
//
// Work is partitioned into contiguous, disjoint voxel index ranges,
// one per worker. Workers share only the read-only inputs and write
// exclusively to their own output range, so the result is identical
// for any worker count. Per-voxel failures never abort the run; they
// degrade to sentinel voxels counted in Stats.
func Solve(mprage, fgatir, mask *models.Volume, acq signal.Acquisition, opts Options) (t1map, pdmap *models.Volume, stats Stats, err error) {
	if err := acq.Validate(); err != nil {
		return nil, nil, Stats{}, err
	}
	if !mprage.SameShape(fgatir) {
		return nil, nil, Stats{}, fmt.Errorf("input volumes must share a shape: MPRAGE is %s, FGATIR is %s", mprage, fgatir)
	}
	if mask != nil && !mprage.SameShape(mask) {
		return nil, nil, Stats{}, fmt.Errorf("mask shape %s does not match input shape %s", mask, mprage)
	}

	params := opts.Solver
	if params == (signal.SolverParams{}) {
		params = signal.DefaultSolverParams()
	}
	workers := opts.NumWorkers
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	t1map = models.NewVolumeLike(mprage)
	pdmap = models.NewVolumeLike(mprage)

	total := mprage.Len()
	stats.Total = total
	if workers > total && total > 0 {
		workers = total
	}

	// Per-worker counters, merged after the join so the hot path
	// stays free of shared mutable state.
	counts := make([]Stats, workers)
	chunk := (total + workers - 1) / workers

	var eg errgroup.Group
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > total {
			end = total
		}
		if start >= end {
			continue
		}
		c := &counts[w]
		eg.Go(func() error {
			for i := start; i < end; i++ {
				if mask != nil && mask.Data[i] <= 0.5 {
					c.Masked++
					continue
				}
				c.SolverCalls++
				res := signal.Estimate(mprage.Data[i], fgatir.Data[i], acq.TIMPRAGE, acq.TIFGATIR, acq.TR, params)
				if !res.Converged {
					c.Invalid++
					continue
				}
				t1map.Data[i] = res.T1
				pdmap.Data[i] = res.PD
				c.Fitted++
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, Stats{}, err
	}

	for _, c := range counts {
		stats.Masked += c.Masked
		stats.Fitted += c.Fitted
		stats.Invalid += c.Invalid
		stats.SolverCalls += c.SolverCalls
	}
	return t1map, pdmap, stats, nil
}
