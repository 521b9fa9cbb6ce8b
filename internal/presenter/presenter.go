// Package presenter turns a navigation handoff into the data the result page shows.
package presenter

import (
	"math"

	"github.com/example/boneguard/internal/analysis"
)

// UploadPath is where the empty state sends the user.
const UploadPath = "/analyze"

// Disclaimer is shown under every result.
const Disclaimer = "This system is for research and decision-support only. The provided confidence score is a " +
	"statistical probability based on historical training data. Final diagnosis must be made by a qualified " +
	"medical professional through comprehensive clinical evaluation."

// View is everything the result page needs.
type View struct {
	Empty      bool   `json:"empty"`
	UploadPath string `json:"upload_path"`

	Label             string `json:"label,omitempty"`
	Badge             string `json:"badge,omitempty"`
	Critical          bool   `json:"critical"`
	ConfidencePercent int    `json:"confidence_percent"`
	FileName          string `json:"file_name,omitempty"`
	Image             string `json:"image,omitempty"`
	Disclaimer        string `json:"disclaimer,omitempty"`
}

// Render builds the view for handoff. A nil handoff yields the empty state.
func Render(handoff *analysis.Handoff) View {
	if handoff == nil {
		return View{Empty: true, UploadPath: UploadPath}
	}

	label := handoff.Result.Label.String()
	critical := label == analysis.Positive.String()
	badge := "Normal Finding"
	if critical {
		badge = "Critical Finding"
	}

	return View{
		UploadPath:        UploadPath,
		Label:             label,
		Badge:             badge,
		Critical:          critical,
		ConfidencePercent: ConfidencePercent(handoff.Result.Confidence),
		FileName:          handoff.Result.SourceFileName,
		Image:             handoff.Image,
		Disclaimer:        Disclaimer,
	}
}

// ConfidencePercent rounds confidence*100 to the nearest integer, halves away from zero.
func ConfidencePercent(confidence float64) int {
	if math.IsNaN(confidence) || math.IsInf(confidence, 0) {
		return 0
	}
	return int(math.Round(confidence * 100))
}
