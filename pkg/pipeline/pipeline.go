// Package pipeline sequences the multi-TI synthesis stages: reading
// the preprocessed input volumes, the optional array-level preparation
// steps, the per-voxel T1/PD fit, synthesis of the requested TI range,
// and serialization of the outputs.
package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"multitisynth/internal/models"
	"multitisynth/pkg/config"
	"multitisynth/pkg/fitting"
	"multitisynth/pkg/niftiio"
	"multitisynth/pkg/preprocess"
	"multitisynth/pkg/synthesis"
)

// Params holds the input locations for one subject. The MPRAGE and
// FGATIR paths are required; the rest are optional stages that run
// only when a path is supplied.
type Params struct {
	// MPRAGEPath and FGATIRPath locate the co-registered,
	// intensity-normalized input volumes.
	MPRAGEPath string
	FGATIRPath string

	// MaskPath locates the foreground/brain mask. When empty, a
	// fallback mask is derived by Otsu thresholding.
	MaskPath string

	// MPRAGEBiasPath and FGATIRBiasPath locate the two estimated bias
	// fields. When both are set, the harmonic combination is applied
	// to the inputs before fitting.
	MPRAGEBiasPath string
	FGATIRBiasPath string

	// WMMembershipPath locates a white-matter membership volume. When
	// set, both inputs are rescaled so the MPRAGE white-matter mean
	// hits the standard target before fitting.
	WMMembershipPath string

	// Config carries the acquisition timing, TI range, solver and
	// worker settings.
	Config *config.Config
}

// Result reports what a pipeline run produced.
type Result struct {
	// Stats summarizes the map fit.
	Stats fitting.Stats

	// T1MapPath and PDMapPath are set when map saving is enabled.
	T1MapPath string
	PDMapPath string

	// SyntheticPaths lists the written per-TI volumes in TI order.
	SyntheticPaths []string
}

// Pipeline orchestrates one subject's multi-TI synthesis run.
type Pipeline struct {
	params *Params
	log    *slog.Logger
}

// New creates a pipeline for the given parameters. A nil logger
// defaults to slog's package-level logger.
func New(params *Params, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{params: params, log: log}
}

// Run executes the full pipeline. Every precondition is checked before
// per-voxel work starts; a returned error identifies the violated
// invariant.
func (p *Pipeline) Run() (*Result, error) {
	cfg := p.params.Config
	if cfg == nil {
		return nil, fmt.Errorf("pipeline requires a configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if p.params.MPRAGEPath == "" || p.params.FGATIRPath == "" {
		return nil, fmt.Errorf("pipeline requires both an MPRAGE and an FGATIR input path")
	}
	if (p.params.MPRAGEBiasPath == "") != (p.params.FGATIRBiasPath == "") {
		return nil, fmt.Errorf("bias correction needs both bias fields; only one path was supplied")
	}

	p.log.Info("reading input volumes",
		"mprage", p.params.MPRAGEPath,
		"fgatir", p.params.FGATIRPath)
	mprage, err := niftiio.ReadVolume(p.params.MPRAGEPath)
	if err != nil {
		return nil, err
	}
	fgatir, err := niftiio.ReadVolume(p.params.FGATIRPath)
	if err != nil {
		return nil, err
	}
	if !mprage.SameShape(fgatir) {
		return nil, fmt.Errorf("input volumes must share a shape: MPRAGE is %s, FGATIR is %s", mprage, fgatir)
	}

	if mprage, fgatir, err = p.correctBias(mprage, fgatir); err != nil {
		return nil, err
	}
	if mprage, fgatir, err = p.normalize(mprage, fgatir); err != nil {
		return nil, err
	}

	mask, err := p.loadMask(mprage, fgatir)
	if err != nil {
		return nil, err
	}

	p.log.Info("fitting T1/PD maps", "shape", mprage.String(), "workers", cfg.Processing.NumWorkers)
	t1map, pdmap, stats, err := fitting.Solve(mprage, fgatir, mask, cfg.AcquisitionParams(), fitting.Options{
		NumWorkers: cfg.Processing.NumWorkers,
		Solver:     cfg.SolverParams(),
	})
	if err != nil {
		return nil, err
	}
	p.log.Info("map fit complete",
		"fitted", stats.Fitted,
		"masked", stats.Masked,
		"invalid", stats.Invalid,
		"invalidFraction", stats.InvalidFraction())

	req := cfg.SynthesisRequest()
	p.log.Info("synthesizing volumes",
		"tiMin", req.TIMin, "tiMax", req.TIMax, "tiStep", req.TIStep)
	engine := &synthesis.Engine{NumWorkers: cfg.Processing.NumWorkers}
	images, err := engine.Synthesize(t1map, pdmap, cfg.Acquisition.TR, req)
	if err != nil {
		return nil, err
	}

	return p.writeOutputs(t1map, pdmap, images, stats)
}

// correctBias applies the harmonic bias combination when both
// estimated fields are supplied.
func (p *Pipeline) correctBias(mprage, fgatir *models.Volume) (*models.Volume, *models.Volume, error) {
	if p.params.MPRAGEBiasPath == "" {
		return mprage, fgatir, nil
	}

	p.log.Info("combining bias fields")
	mprageBias, err := niftiio.ReadVolume(p.params.MPRAGEBiasPath)
	if err != nil {
		return nil, nil, err
	}
	fgatirBias, err := niftiio.ReadVolume(p.params.FGATIRBiasPath)
	if err != nil {
		return nil, nil, err
	}
	field, err := preprocess.CombineHarmonicBias(mprageBias, fgatirBias)
	if err != nil {
		return nil, nil, err
	}
	correctedM, err := preprocess.ApplyBias(mprage, field)
	if err != nil {
		return nil, nil, err
	}
	correctedF, err := preprocess.ApplyBias(fgatir, field)
	if err != nil {
		return nil, nil, err
	}
	// Dividing by a small field value can push the low tail below the
	// uncorrected floor; clamp it back.
	return preprocess.ApplyReferenceMin(correctedM, mprage), preprocess.ApplyReferenceMin(correctedF, fgatir), nil
}

// normalize rescales both inputs to the standard white-matter mean
// when a membership volume is supplied.
func (p *Pipeline) normalize(mprage, fgatir *models.Volume) (*models.Volume, *models.Volume, error) {
	if p.params.WMMembershipPath == "" {
		return mprage, fgatir, nil
	}

	membership, err := niftiio.ReadVolume(p.params.WMMembershipPath)
	if err != nil {
		return nil, nil, err
	}
	res, err := preprocess.NormalizeWhiteMatter(mprage, fgatir, membership,
		preprocess.DefaultWMThreshold, preprocess.DefaultWMTarget)
	if err != nil {
		return nil, nil, err
	}
	p.log.Info("white-matter normalization applied", "mean", res.Mean)
	return res.MPRAGE, res.FGATIR, nil
}

// loadMask reads the supplied mask or derives the Otsu fallback.
func (p *Pipeline) loadMask(mprage, fgatir *models.Volume) (*models.Volume, error) {
	if p.params.MaskPath != "" {
		return niftiio.ReadVolume(p.params.MaskPath)
	}
	p.log.Info("no mask supplied, deriving Otsu fallback mask")
	return preprocess.OtsuMask(mprage, fgatir)
}

// writeOutputs persists the maps and per-TI volumes to the output
// directory.
func (p *Pipeline) writeOutputs(t1map, pdmap *models.Volume, images []synthesis.Image, stats fitting.Stats) (*Result, error) {
	cfg := p.params.Config
	if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	result := &Result{Stats: stats}

	if cfg.Output.SaveMaps {
		result.T1MapPath = filepath.Join(cfg.Output.Dir, "t1_map.nii.gz")
		result.PDMapPath = filepath.Join(cfg.Output.Dir, "pd_map.nii.gz")
		if err := niftiio.WriteVolume(result.T1MapPath, t1map); err != nil {
			return nil, err
		}
		if err := niftiio.WriteVolume(result.PDMapPath, pdmap); err != nil {
			return nil, err
		}
	}

	for _, im := range images {
		path := filepath.Join(cfg.Output.Dir, im.Name()+".nii.gz")
		if err := niftiio.WriteVolume(path, im.Volume); err != nil {
			return nil, err
		}
		result.SyntheticPaths = append(result.SyntheticPaths, path)
		p.log.Info("wrote synthetic volume", "ti", im.TI, "path", path)
	}

	return result, nil
}
