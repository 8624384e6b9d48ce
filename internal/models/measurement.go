package models

import (
	"eyestem/pkg/estimation"
	"eyestem/pkg/imagefilter"
)

// Measurement is the report written next to the overlays for one image
type Measurement struct {
	// Image is the path of the measured image
	Image string `yaml:"image"`

	// Spacing is the pixel size in mm along x and y
	Spacing [2]float64 `yaml:"spacing"`

	// Eye holds the eye orb measurement
	Eye EyeReport `yaml:"eye"`

	// Stem holds the optic nerve measurement
	Stem StemReport `yaml:"stem"`

	// Timings lists per-phase durations when timing was enabled
	Timings []PhaseReport `yaml:"timings,omitempty"`
}

// EyeReport is the eye orb part of a Measurement. Lengths are semi-axes in mm.
type EyeReport struct {
	Valid  bool   `yaml:"valid"`
	Reason string `yaml:"reason,omitempty"`

	// InitialCenter is the seed point in physical coordinates
	InitialCenter [2]float64 `yaml:"initialCenter"`

	// InitialRadius holds the seed radii along x and y
	InitialRadius [2]float64 `yaml:"initialRadius"`

	Center      [2]float64 `yaml:"center"`
	CenterIndex [2]int     `yaml:"centerIndex"`
	Minor       float64    `yaml:"minor"`
	Major       float64    `yaml:"major"`

	// Registration is the status of the ring fit
	Registration FitReport `yaml:"registration"`
}

// StemReport is the optic nerve part of a Measurement. Width is a half-width
// and Diameter the full width, both in mm.
type StemReport struct {
	Valid  bool   `yaml:"valid"`
	Reason string `yaml:"reason,omitempty"`

	// Region is the crop searched, as x, y, width, height in pixels
	Region [4]int `yaml:"region"`

	InitialCenter [2]float64 `yaml:"initialCenter"`
	InitialWidth  float64    `yaml:"initialWidth"`
	Center        [2]float64 `yaml:"center"`
	CenterIndex   [2]int     `yaml:"centerIndex"`
	Width         float64    `yaml:"width"`
	Diameter      float64    `yaml:"diameter"`

	// Registration is the status of the bar fit
	Registration FitReport `yaml:"registration"`
}

// FitReport summarizes one registration
type FitReport struct {
	Status        string  `yaml:"status"`
	Message       string  `yaml:"message,omitempty"`
	InitialMetric float64 `yaml:"initialMetric"`
	Metric        float64 `yaml:"metric"`
	Evaluations   int     `yaml:"evaluations"`
}

// PhaseReport is the time spent in one pipeline phase
type PhaseReport struct {
	Name    string  `yaml:"name"`
	Calls   int64   `yaml:"calls"`
	TotalMS float64 `yaml:"totalMs"`
}

// NewMeasurement builds the report for an estimation result
func NewMeasurement(image string, spacing imagefilter.Vector, res *estimation.Result) Measurement {
	m := Measurement{
		Image:   image,
		Spacing: [2]float64{spacing.X, spacing.Y},
	}

	eye := res.Eye
	m.Eye = EyeReport{
		Valid:         eye.Valid,
		Reason:        eye.Reason,
		InitialCenter: point(eye.InitialCenter),
		InitialRadius: [2]float64{eye.InitialRadiusX, eye.InitialRadiusY},
		Center:        point(eye.Center),
		CenterIndex:   [2]int{eye.CenterIndex.X, eye.CenterIndex.Y},
		Minor:         eye.Minor,
		Major:         eye.Major,
	}
	if eye.Valid {
		m.Eye.Registration = fitReport(eye.Fit)
	}

	stem := res.Stem
	r := stem.OriginalImageRegion
	m.Stem = StemReport{
		Valid:         stem.Valid,
		Reason:        stem.Reason,
		Region:        [4]int{r.Index.X, r.Index.Y, r.Size.W, r.Size.H},
		InitialCenter: point(stem.InitialCenter),
		InitialWidth:  stem.InitialWidth,
		Center:        point(stem.Center),
		CenterIndex:   [2]int{stem.CenterIndex.X, stem.CenterIndex.Y},
		Width:         stem.Width,
		Diameter:      stem.Diameter(),
	}
	if stem.Valid {
		m.Stem.Registration = fitReport(stem.Fit)
	}
	return m
}

func point(p imagefilter.Point) [2]float64 {
	return [2]float64{p.X, p.Y}
}

func fitReport(f estimation.Fit) FitReport {
	return FitReport{
		Status:        f.Status.String(),
		Message:       f.Message,
		InitialMetric: f.InitialMetric,
		Metric:        f.Metric,
		Evaluations:   f.Evaluations,
	}
}
