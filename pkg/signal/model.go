// Package signal implements the magnitude inversion-recovery signal
// equation and its two-point inverse, which recovers longitudinal
// relaxation time (T1) and proton density (PD) from a pair of
// T1-weighted acquisitions that share a repetition time but differ in
// inversion time.
package signal

import (
	"fmt"
	"math"
)

// Acquisition holds the pulse-sequence timing shared by the two input
// images. All times are in milliseconds.
type Acquisition struct {
	// TR is the repetition time.
	TR float64

	// TIMPRAGE is the inversion time of the MPRAGE acquisition.
	TIMPRAGE float64

	// TIFGATIR is the inversion time of the FGATIR acquisition.
	TIFGATIR float64
}

// Validate checks the timing invariants: TR must be positive and each
// inversion time must lie strictly between zero and TR.
func (a Acquisition) Validate() error {
	if !(a.TR > 0) || math.IsInf(a.TR, 0) || math.IsNaN(a.TR) {
		return fmt.Errorf("repetition time must be positive and finite, got TR=%g", a.TR)
	}
	if !(a.TIMPRAGE > 0 && a.TIMPRAGE < a.TR) {
		return fmt.Errorf("MPRAGE inversion time must satisfy 0 < TI < TR, got TI=%g TR=%g", a.TIMPRAGE, a.TR)
	}
	if !(a.TIFGATIR > 0 && a.TIFGATIR < a.TR) {
		return fmt.Errorf("FGATIR inversion time must satisfy 0 < TI < TR, got TI=%g TR=%g", a.TIFGATIR, a.TR)
	}
	return nil
}

// Signal evaluates the forward magnitude inversion-recovery equation
//
//	S = PD * |1 - 2*exp(-TI/T1) + exp(-TR/T1)|
//
// in double precision. The absolute value reflects that magnitude MR
// images lose the sign of the longitudinal magnetization. A
// non-positive T1 yields zero, matching the invalid-voxel sentinel.
func Signal(t1, pd, ti, tr float64) float64 {
	if t1 <= 0 {
		return 0
	}
	return pd * math.Abs(recovery(t1, ti, tr))
}

// recovery is the signed longitudinal recovery term 1 - 2e^(-TI/T1) + e^(-TR/T1).
func recovery(t1, ti, tr float64) float64 {
	return 1 - 2*math.Exp(-ti/t1) + math.Exp(-tr/t1)
}

// NullTI returns the inversion time at which the signed recovery term
// crosses zero for a given T1 and TR. At that TI the magnitude signal
// reaches its minimum; for TR >> T1 it approaches T1*ln(2).
func NullTI(t1, tr float64) float64 {
	return t1 * math.Log(2/(1+math.Exp(-tr/t1)))
}

// SolverParams configures the one-dimensional root search used by
// Estimate. The zero value is not usable; start from
// DefaultSolverParams.
type SolverParams struct {
	// T1Min and T1Max bound the physiologically plausible search
	// interval in milliseconds.
	T1Min float64
	T1Max float64

	// ScanIntervals is the number of subintervals used to bracket sign
	// changes of the ratio residual before bisection.
	ScanIntervals int

	// Tolerance is the relative bracket width at which bisection stops.
	Tolerance float64

	// MaxIterations caps bisection; exceeding it marks the candidate
	// root as non-converged rather than failing the batch.
	MaxIterations int

	// ResidualTol is the largest admissible normalized two-point
	// residual; a fit above it is reported as invalid.
	ResidualTol float64
}

// DefaultSolverParams returns the solver configuration used by the
// pipeline: T1 in [1, 5000] ms, 64 bracketing intervals, bisection to
// 1e-6 relative width within 100 iterations, and a residual ceiling of
// 1e-3.
func DefaultSolverParams() SolverParams {
	return SolverParams{
		T1Min:         1,
		T1Max:         5000,
		ScanIntervals: 64,
		Tolerance:     1e-6,
		MaxIterations: 100,
		ResidualTol:   1e-3,
	}
}

// Reason identifies why a voxel estimate was rejected.
type Reason int

const (
	// ReasonNone marks a converged estimate.
	ReasonNone Reason = iota

	// ReasonDegenerate marks unusable observations: both signals zero,
	// or either negative (magnitudes cannot be negative).
	ReasonDegenerate

	// ReasonNoBracket means no sign change of the ratio residual was
	// found in the T1 search interval, so the observed ratio is not
	// achievable by any T1 in range.
	ReasonNoBracket

	// ReasonNoConvergence means bisection exhausted its iteration cap
	// before reaching the bracket tolerance.
	ReasonNoConvergence

	// ReasonNonPhysical means every candidate root implied a
	// non-positive proton density.
	ReasonNonPhysical

	// ReasonResidual means the best fit exceeded the residual
	// tolerance.
	ReasonResidual
)

// String returns a short description of the rejection reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "converged"
	case ReasonDegenerate:
		return "degenerate signal"
	case ReasonNoBracket:
		return "ratio not achievable in T1 range"
	case ReasonNoConvergence:
		return "iteration cap exceeded"
	case ReasonNonPhysical:
		return "non-positive proton density"
	case ReasonResidual:
		return "residual above tolerance"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of a per-voxel estimate. Invalid voxels
// are data, not errors: batch processing inspects Converged and keeps
// going.
type Result struct {
	// Converged reports whether T1 and PD hold a valid estimate.
	Converged bool

	// T1 is the estimated relaxation time in ms (0 when invalid).
	T1 float64

	// PD is the estimated proton-density scale (0 when invalid).
	PD float64

	// Residual is the normalized two-point residual of the accepted
	// fit.
	Residual float64

	// Iterations counts bisection steps spent on the accepted root.
	Iterations int

	// Reason explains rejection; ReasonNone for converged results.
	Reason Reason
}

func invalid(reason Reason) Result {
	return Result{Reason: reason}
}

// Estimate solves the two-equation magnitude system
//
//	s1 = PD * |1 - 2*exp(-ti1/T1) + exp(-tr/T1)|
//	s2 = PD * |1 - 2*exp(-ti2/T1) + exp(-tr/T1)|
//
// for T1 and PD. The ratio formulation cancels PD and reduces the
// problem to a one-dimensional root search in T1 over
// [p.T1Min, p.T1Max]; sign changes of the symmetric ratio residual
//
//	g(T1) = s2*|f(ti1,T1)| - s1*|f(ti2,T1)|
//
// are bracketed on a logarithmic scan grid and refined by bisection.
// PD is then recovered by least squares with T1 fixed.
//
// Because magnitude data loses polarity, the ratio equation can admit
// several exact roots; PD absorbs the scale, so the two-point residual
// cannot tell them apart. Among admissible roots (positive PD,
// residual within tolerance) the largest T1 wins: with the
// long-TI/short-TI acquisition pair this selects the branch where the
// short-TI image is still inverted, which is the physiological regime
// for brain tissue and fluid.
func Estimate(s1, s2, ti1, ti2, tr float64, p SolverParams) Result {
	if s1 < 0 || s2 < 0 || math.IsNaN(s1) || math.IsNaN(s2) {
		return invalid(ReasonDegenerate)
	}
	if s1 == 0 && s2 == 0 {
		return invalid(ReasonDegenerate)
	}

	g := func(t1 float64) float64 {
		return s2*math.Abs(recovery(t1, ti1, tr)) - s1*math.Abs(recovery(t1, ti2, tr))
	}

	// Scan the interval on a log grid so short and long T1 are
	// bracketed with comparable relative resolution.
	n := p.ScanIntervals
	if n < 1 {
		n = 1
	}
	logMin := math.Log(p.T1Min)
	logStep := (math.Log(p.T1Max) - logMin) / float64(n)

	// best is the accepted root: the largest admissible T1 within the
	// residual tolerance. closest tracks the smallest residual seen so
	// rejection can report ReasonResidual when roots exist but none
	// fit well enough.
	best := invalid(ReasonNoBracket)
	closest := math.Inf(1)
	sawCapHit := false
	sawNonPhysical := false

	consider := func(res Result, ok bool) {
		if !ok {
			sawNonPhysical = true
			return
		}
		if res.Residual < closest {
			closest = res.Residual
		}
		// Roots are visited in ascending T1 order, so the last
		// accepted one is the largest.
		if res.Residual <= p.ResidualTol {
			best = res
		}
	}

	prevT1 := p.T1Min
	prevG := g(prevT1)
	for i := 1; i <= n; i++ {
		t1 := math.Exp(logMin + float64(i)*logStep)
		if i == n {
			t1 = p.T1Max
		}
		curG := g(t1)

		switch {
		case prevG == 0:
			consider(evaluateRoot(prevT1, 0, s1, s2, ti1, ti2, tr))
		case prevG*curG < 0:
			root, iters, converged := bisect(g, prevT1, t1, p)
			if !converged {
				sawCapHit = true
				break
			}
			consider(evaluateRoot(root, iters, s1, s2, ti1, ti2, tr))
		}

		prevT1 = t1
		prevG = curG
	}
	if prevG == 0 {
		consider(evaluateRoot(prevT1, 0, s1, s2, ti1, ti2, tr))
	}

	if best.Converged {
		return best
	}
	switch {
	case !math.IsInf(closest, 1):
		return invalid(ReasonResidual)
	case sawNonPhysical:
		return invalid(ReasonNonPhysical)
	case sawCapHit:
		return invalid(ReasonNoConvergence)
	default:
		return best
	}
}

// bisect narrows a sign-change bracket [lo, hi] of g until the relative
// bracket width falls below the tolerance or the iteration cap is hit.
func bisect(g func(float64) float64, lo, hi float64, p SolverParams) (root float64, iterations int, converged bool) {
	gLo := g(lo)
	for i := 0; i < p.MaxIterations; i++ {
		mid := 0.5 * (lo + hi)
		if (hi-lo) <= p.Tolerance*math.Abs(mid) || hi == lo {
			return mid, i, true
		}
		gMid := g(mid)
		if gMid == 0 {
			return mid, i + 1, true
		}
		if gLo*gMid < 0 {
			hi = mid
		} else {
			lo = mid
			gLo = gMid
		}
	}
	return 0, p.MaxIterations, false
}

// evaluateRoot fixes T1 at a candidate root, recovers PD by least
// squares over both observations, and scores the fit by the normalized
// two-point residual. Roots implying non-positive PD are rejected.
func evaluateRoot(t1 float64, iterations int, s1, s2, ti1, ti2, tr float64) (Result, bool) {
	a1 := math.Abs(recovery(t1, ti1, tr))
	a2 := math.Abs(recovery(t1, ti2, tr))

	den := a1*a1 + a2*a2
	if den == 0 {
		return Result{}, false
	}
	pd := (s1*a1 + s2*a2) / den
	if !(pd > 0) || math.IsInf(pd, 0) {
		return Result{}, false
	}

	r1 := pd*a1 - s1
	r2 := pd*a2 - s2
	norm := math.Hypot(s1, s2)
	residual := math.Hypot(r1, r2) / norm

	return Result{
		Converged:  true,
		T1:         t1,
		PD:         pd,
		Residual:   residual,
		Iterations: iterations,
	}, true
}
