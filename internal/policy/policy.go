// Package policy is the Policy/Checkset Engine (spec.md §4.9): derives the
// effective doctor command and a checkset report for one task, before its
// attempt starts.
package policy

import (
	"encoding/json"

	"github.com/anthropics/mycelium-executor/internal/fileutil"
	"github.com/anthropics/mycelium-executor/internal/manifest"
)

// Mode is the checks enforcement level from ProjectConfig.Checks.Mode.
type Mode string

const (
	ModeOff Mode = "off"
)

// CheckDecision names which command was selected and why.
type CheckDecision struct {
	Mode             string `json:"mode"`
	SelectedCommand  string `json:"selected_command"`
	Rationale        string `json:"rationale"`
}

// Decision is the PolicyDecision record (spec.md §4.9).
type Decision struct {
	Tier            string        `json:"tier"`
	Checks          CheckDecision `json:"checks"`
	SurfaceDetection []string     `json:"surface_detection,omitempty"`
}

// BlastRadiusReport is the base-sha blast-radius input the decision may
// consult, when the control plane model is enabled.
type BlastRadiusReport struct {
	SurfacesTouched []string
}

// Input bundles the sources a decision is derived from (spec.md §4.9).
type Input struct {
	Manifest        *manifest.TaskManifest
	ChecksMode      Mode
	SurfacePatterns []string
	BlastRadius     *BlastRadiusReport
	ReportPath      string
}

// Derive computes the effective doctor command and checkset report for one
// task. When checks.mode=off, it falls back to the manifest's verify.doctor
// untouched (spec.md §4.9).
func Derive(in Input) (Decision, error) {
	if in.ChecksMode == ModeOff || in.Manifest == nil {
		d := Decision{
			Tier: "manifest",
			Checks: CheckDecision{
				Mode:            string(ModeOff),
				SelectedCommand: fallbackDoctor(in.Manifest),
				Rationale:       "checks.mode=off: falling back to manifest verify.doctor",
			},
		}
		if in.ReportPath != "" {
			if err := writeReport(in.ReportPath, d); err != nil {
				return d, err
			}
		}
		return d, nil
	}

	surfaces := detectSurfaces(in)
	tier := "standard"
	rationale := "derived from manifest and configured surface patterns"
	if in.BlastRadius != nil && len(in.BlastRadius.SurfacesTouched) > 1 {
		tier = "wide"
		rationale = "blast-radius report touches multiple surfaces"
	}

	d := Decision{
		Tier: tier,
		Checks: CheckDecision{
			Mode:            string(in.ChecksMode),
			SelectedCommand: fallbackDoctor(in.Manifest),
			Rationale:       rationale,
		},
		SurfaceDetection: surfaces,
	}

	if in.ReportPath != "" {
		if err := writeReport(in.ReportPath, d); err != nil {
			return d, err
		}
	}
	return d, nil
}

func fallbackDoctor(m *manifest.TaskManifest) string {
	if m == nil {
		return ""
	}
	if m.TDDMode == manifest.TDDStrict && m.Verify.Fast != "" {
		return m.Verify.Fast
	}
	return m.Verify.Doctor
}

func detectSurfaces(in Input) []string {
	if in.Manifest == nil {
		return nil
	}
	var surfaces []string
	for _, pattern := range in.SurfacePatterns {
		if manifest.MatchesGlobs(pattern, in.Manifest.Files.Writes) {
			surfaces = append(surfaces, pattern)
		}
	}
	return surfaces
}

func writeReport(path string, d Decision) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.AtomicWriteFile(path, append(data, '\n'), 0644)
}
