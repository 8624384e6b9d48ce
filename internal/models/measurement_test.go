package models

import (
	"testing"

	"gopkg.in/yaml.v3"

	"eyestem/pkg/estimation"
	"eyestem/pkg/imagefilter"
	"eyestem/pkg/registration"
)

func TestNewMeasurement(t *testing.T) {
	res := &estimation.Result{
		Eye: estimation.Eye{
			Valid:  true,
			Center: imagefilter.Point{X: 12.5, Y: 7},
			Minor:  3,
			Major:  4,
			Fit:    estimation.Fit{Status: registration.BestEffort, Message: "evaluation limit"},
		},
		Stem: estimation.Stem{Reason: "no nerve found", Width: -1, InitialWidth: -1},
	}

	m := NewMeasurement("scan.png", imagefilter.Vector{X: 0.1, Y: 0.2}, res)
	if m.Eye.Center != [2]float64{12.5, 7} || m.Eye.Registration.Status != "best-effort" {
		t.Errorf("eye report = %+v", m.Eye)
	}
	if m.Stem.Valid || m.Stem.Diameter != -1 || m.Stem.Registration.Status != "" {
		t.Errorf("stem report = %+v", m.Stem)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var back Measurement
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back.Image != "scan.png" || back.Eye.Major != 4 || back.Stem.Reason != "no nerve found" {
		t.Errorf("report did not survive YAML:\n%s", data)
	}
}
