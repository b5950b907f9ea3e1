package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"multitisynth/pkg/config"
	"multitisynth/pkg/pipeline"
)

func main() {
	// Parse command line arguments
	mpragePath := flag.String("mprage", "", "Path to the preprocessed MPRAGE volume (.nii or .nii.gz)")
	fgatirPath := flag.String("fgatir", "", "Path to the preprocessed FGATIR volume (.nii or .nii.gz)")
	maskPath := flag.String("mask", "", "Path to the brain/foreground mask (optional; Otsu fallback when omitted)")
	mprageBias := flag.String("mprage-bias", "", "Path to the estimated MPRAGE bias field (optional)")
	fgatirBias := flag.String("fgatir-bias", "", "Path to the estimated FGATIR bias field (optional)")
	wmPath := flag.String("wm-membership", "", "Path to the white-matter membership volume (optional)")
	configPath := flag.String("config", "multitisynth.yaml", "Path to the YAML configuration file")
	outputDir := flag.String("out", "", "Output directory (overrides the configured value)")
	numWorkers := flag.Int("workers", 0, "Number of parallel workers (overrides the configured value)")
	writeConfig := flag.Bool("write-default-config", false, "Write a default configuration file to the -config path and exit")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			slog.Error("failed to write default config", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	// Validate inputs
	if *mpragePath == "" || *fgatirPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *numWorkers > 0 {
		cfg.Processing.NumWorkers = *numWorkers
	}

	params := &pipeline.Params{
		MPRAGEPath:       *mpragePath,
		FGATIRPath:       *fgatirPath,
		MaskPath:         *maskPath,
		MPRAGEBiasPath:   *mprageBias,
		FGATIRBiasPath:   *fgatirBias,
		WMMembershipPath: *wmPath,
		Config:           cfg,
	}

	startTime := time.Now()
	result, err := pipeline.New(params, slog.Default()).Run()
	if err != nil {
		slog.Error("synthesis failed", "error", err)
		os.Exit(1)
	}
	elapsed := time.Since(startTime)

	fmt.Printf("\nMulti-TI synthesis completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Printf("Voxels fitted: %d (masked: %d, invalid: %d, invalid fraction: %.4f)\n",
		result.Stats.Fitted, result.Stats.Masked, result.Stats.Invalid, result.Stats.InvalidFraction())
	if result.T1MapPath != "" {
		fmt.Printf("T1 map: %s\n", result.T1MapPath)
		fmt.Printf("PD map: %s\n", result.PDMapPath)
	}
	fmt.Printf("Synthetic volumes written: %d to %s\n", len(result.SyntheticPaths), cfg.Output.Dir)
}
