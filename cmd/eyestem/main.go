package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"gopkg.in/yaml.v3"

	"eyestem/internal/models"
	"eyestem/pkg/config"
	"eyestem/pkg/estimation"
	"eyestem/pkg/imagefilter"
	"eyestem/pkg/imageio"
	"eyestem/pkg/overlay"
	"eyestem/pkg/timing"
)

// Exit codes
const (
	exitOK    = 0
	exitIO    = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// options holds the parsed command line
type options struct {
	image      string
	prefix     string
	noImage    bool
	configPath string
	timing     bool
	verbose    bool
	format     string
	spacing    float64
	debug      bool
	writeCfg   string
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("eyestem", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.StringVar(&opts.image, "image", "", "Input ultrasound image (required)")
	fs.StringVar(&opts.image, "i", "", "Shorthand for -image")
	fs.StringVar(&opts.prefix, "prefix", "", "Prefix of every output file (required)")
	fs.StringVar(&opts.prefix, "p", "", "Shorthand for -prefix")
	fs.BoolVar(&opts.noImage, "noimage", false, "Skip aligned templates, overlays and all output files")
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.BoolVar(&opts.timing, "timing", false, "Print a per-phase timing summary")
	fs.BoolVar(&opts.verbose, "v", false, "Log progress to stderr")
	fs.StringVar(&opts.format, "format", "", "Overlay image format: png, jpg, webp or tif")
	fs.Float64Var(&opts.spacing, "spacing", 0, "Pixel size in mm, overriding the file and configuration")
	fs.BoolVar(&opts.debug, "save-intermediary", false, "Save the working image of every stage")
	fs.StringVar(&opts.writeCfg, "write-config", "", "Write the default configuration to this file and exit")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: eyestem -i IMAGE -p PREFIX [options]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.writeCfg != "" {
		return opts, nil
	}
	if opts.image == "" || opts.prefix == "" {
		fs.Usage()
		return nil, fmt.Errorf("both -image and -prefix are required")
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "eyestem: %v\n", err)
		return exitUsage
	}

	if opts.writeCfg != "" {
		if err := config.CreateDefaultConfigFile(opts.writeCfg); err != nil {
			fmt.Fprintf(stderr, "eyestem: %v\n", err)
			return exitIO
		}
		fmt.Fprintf(stdout, "Default configuration saved to: %s\n", opts.writeCfg)
		return exitOK
	}

	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		if cfg, err = config.LoadConfig(opts.configPath); err != nil {
			fmt.Fprintf(stderr, "eyestem: %v\n", err)
			return exitUsage
		}
	}
	if opts.format != "" {
		cfg.Output.OverlayFormat = opts.format
	}
	cfg.Output.Verbose = cfg.Output.Verbose || opts.verbose
	cfg.Output.Timing = cfg.Output.Timing || opts.timing
	cfg.Output.SaveIntermediaryResults = cfg.Output.SaveIntermediaryResults || opts.debug
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "eyestem: %v\n", err)
		return exitUsage
	}

	logger := log.New(io.Discard, "", 0)
	if cfg.Output.Verbose {
		logger = log.New(stderr, "", log.LstdFlags)
	}

	im, err := imageio.Load(opts.image)
	if err != nil {
		fmt.Fprintf(stderr, "eyestem: %v\n", err)
		return exitIO
	}
	im.Spacing = pixelSpacing(opts, cfg, logger)
	logger.Printf("Loaded %s: %dx%d pixels of %.4f x %.4f mm", opts.image, im.Size.W, im.Size.H, im.Spacing.X, im.Spacing.Y)

	params := cfg.EstimationParams()
	params.Aligned = !opts.noImage
	params.Logger = logger
	if cfg.Output.SaveIntermediaryResults && !opts.noImage {
		params.Debug = imageio.DebugWriter{Prefix: opts.prefix}
	}
	if cfg.Output.Timing {
		params.Timings = timing.NewRecorder()
	}

	startTime := time.Now()
	res, err := estimation.NewEstimator(params).Process(ctx, im)
	if err != nil {
		fmt.Fprintf(stderr, "eyestem: %v\n", err)
		return exitIO
	}
	logger.Printf("Estimation completed in %.2f seconds", time.Since(startTime).Seconds())

	if res.Stem.Valid {
		fmt.Fprintf(stdout, "%.4f\n", res.Stem.Diameter())
	} else {
		// -2 keeps the output of scripts that test for a negative width working
		fmt.Fprintf(stdout, "%.4f\n", -2.0)
		logger.Printf("No stem measured: %s", res.Stem.Reason)
	}

	if !opts.noImage {
		if err := writeOutputs(opts, cfg, im, res, params.Timings, logger); err != nil {
			fmt.Fprintf(stderr, "eyestem: %v\n", err)
			return exitIO
		}
	}

	if cfg.Output.Timing {
		if err := params.Timings.WriteSummary(stdout); err != nil {
			fmt.Fprintf(stderr, "eyestem: %v\n", err)
			return exitIO
		}
	}
	return exitOK
}

// pixelSpacing picks the spacing from the command line, the configuration,
// the file's EXIF resolution, or unit spacing, in that order.
func pixelSpacing(opts *options, cfg *config.Config, logger *log.Logger) imagefilter.Vector {
	if opts.spacing > 0 {
		return imagefilter.Vector{X: opts.spacing, Y: opts.spacing}
	}
	if cfg.Input.SpacingX > 0 && cfg.Input.SpacingY > 0 {
		return imagefilter.Vector{X: cfg.Input.SpacingX, Y: cfg.Input.SpacingY}
	}
	s, err := imageio.ReadSpacing(opts.image)
	if err != nil {
		logger.Printf("No pixel spacing in %s (%v), using 1", opts.image, err)
		return imagefilter.Vector{X: 1, Y: 1}
	}
	return s
}

// writeOutputs saves the overlays and the measurement report.
func writeOutputs(opts *options, cfg *config.Config, im *imagefilter.Image, res *estimation.Result, rec *timing.Recorder, logger *log.Logger) error {
	written, err := overlay.NewRenderer(im, res).SaveAll(opts.prefix, cfg.Output.OverlayFormat)
	if err != nil {
		return fmt.Errorf("writing overlays: %w", err)
	}
	for _, path := range written {
		logger.Printf("Overlay saved to: %s", path)
	}

	m := models.NewMeasurement(opts.image, im.Spacing, res)
	for _, p := range rec.Phases() {
		m.Timings = append(m.Timings, models.PhaseReport{
			Name:    p.Name,
			Calls:   p.Count,
			TotalMS: float64(p.Total) / float64(time.Millisecond),
		})
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("error marshaling measurements: %w", err)
	}
	path := opts.prefix + "-measurements.yaml"
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing measurements: %w", err)
	}
	logger.Printf("Measurements saved to: %s", path)
	return nil
}
