package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"ctmesh/pkg/config"
	"ctmesh/pkg/logger"
	"ctmesh/pkg/reconstruction"
	"ctmesh/pkg/segmentation"
)

func main() {
	inputDir := flag.StringP("input", "i", "", "Directory containing the CT DICOM slices")
	configFile := flag.StringP("config", "c", "", "YAML configuration file")
	output := flag.StringP("output", "o", "", "Output JSON mesh document (default from config: meshes.json)")
	stlDir := flag.String("stl-dir", "", "Directory for one binary STL per tissue")
	previewDir := flag.String("preview-dir", "", "Directory for PNG preview slices")
	previewSize := flag.Int("preview-size", 0, "Shorter side of preview images in pixels (default from config: 256)")
	isoFile := flag.String("iso-file", "", "Write an STL of the volume contoured at --iso-hu to this file")
	isoHU := flag.Float64("iso-hu", 0, "Density threshold of the iso-surface in HU (default from config: 300)")
	isoStep := flag.Int("iso-step", 0, "Sampling step of the iso-surface (default from config: 2)")
	workers := flag.IntP("workers", "w", 0, "Number of parallel workers (default from config: all CPU cores)")
	spacing := flag.Float64("spacing", 0, "Isotropic target spacing in mm (default from config: 1.0)")
	logMode := flag.String("log-mode", "", "Logger preset: dev or prod")
	verbose := flag.BoolP("verbose", "v", false, "Enable debug logging")
	writeConfig := flag.String("write-config", "", "Write the default configuration to this file and exit")
	flag.Parse()

	if *writeConfig != "" {
		if err := config.CreateDefaultConfigFile(*writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *writeConfig)
		return
	}

	if *inputDir == "" {
		fmt.Fprintln(os.Stderr, "Error: --input is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configFile != "" {
		loaded, err := config.LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// flags given explicitly win over the file
	if flag.CommandLine.Changed("output") {
		cfg.Output.MeshFile = *output
	}
	if flag.CommandLine.Changed("stl-dir") {
		cfg.Output.STLDir = *stlDir
	}
	if flag.CommandLine.Changed("preview-dir") {
		cfg.Output.PreviewDir = *previewDir
	}
	if flag.CommandLine.Changed("preview-size") {
		cfg.Output.PreviewSize = *previewSize
	}
	if flag.CommandLine.Changed("iso-file") {
		cfg.Output.IsoFile = *isoFile
	}
	if flag.CommandLine.Changed("iso-hu") {
		cfg.Output.IsoHU = *isoHU
	}
	if flag.CommandLine.Changed("iso-step") {
		cfg.Output.IsoStep = *isoStep
	}
	if flag.CommandLine.Changed("workers") {
		cfg.Processing.NumCores = *workers
	}
	if flag.CommandLine.Changed("spacing") {
		cfg.Processing.TargetSpacing = *spacing
	}
	if flag.CommandLine.Changed("log-mode") {
		cfg.Logging.Mode = *logMode
	}
	if flag.CommandLine.Changed("verbose") {
		cfg.Output.Verbose = *verbose
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Mode, cfg.Output.Verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	params := &reconstruction.Params{
		InputDir:      *inputDir,
		OutputFile:    cfg.Output.MeshFile,
		STLDir:        cfg.Output.STLDir,
		PreviewDir:    cfg.Output.PreviewDir,
		PreviewSize:   cfg.Output.PreviewSize,
		IsoFile:       cfg.Output.IsoFile,
		IsoHU:         cfg.Output.IsoHU,
		IsoStep:       cfg.Output.IsoStep,
		NumCores:      cfg.Processing.NumCores,
		TargetSpacing: cfg.Processing.TargetSpacing,
		ChunkDepth:    cfg.Processing.ChunkDepth,
		Tissues:       cfg.TissueTable(),
	}

	log.Info("starting reconstruction", "input", *inputDir, "workers", params.NumCores, "spacing", params.TargetSpacing)
	startTime := time.Now()
	res, err := reconstruction.NewReconstructor(params, log).Process(ctx)
	if err != nil {
		var stageErr *reconstruction.StageError
		if errors.As(err, &stageErr) {
			log.Error("reconstruction failed", "stage", string(stageErr.Stage), "err", stageErr.Err)
		} else {
			log.Error("reconstruction failed", "err", err)
		}
		log.Sync()
		os.Exit(1)
	}

	fmt.Printf("\nReconstruction completed in %.2f seconds\n", time.Since(startTime).Seconds())
	fmt.Printf("Volume: %s voxels at %.3f x %.3f x %.3f mm\n",
		res.VolumeShape, res.Spacing.Z, res.Spacing.Y, res.Spacing.X)
	fmt.Printf("Density: min %.0f, max %.0f, mean %.1f HU\n", res.Stats.MinHU, res.Stats.MaxHU, res.Stats.MeanHU)
	for _, class := range segmentation.Classes() {
		m := res.Meshes[class]
		fmt.Printf("- %-8s %9d voxels %9d vertices %9d faces\n",
			class.OutputKey(), res.Stats.Voxels[class.OutputKey()], len(m.Vertices), len(m.Faces))
	}
	if params.OutputFile != "" {
		fmt.Printf("Meshes saved to: %s\n", params.OutputFile)
	}
	if params.IsoFile != "" {
		fmt.Printf("Iso-surface at %g HU saved to: %s\n", params.IsoHU, params.IsoFile)
	}
}
