// Package analysis holds the domain types shared by the upload, classification and
// presentation steps.
package analysis

import (
	"encoding/base64"
	"strings"
)

// CancerPrediction is the prediction value the classifier uses for a positive finding.
const CancerPrediction = "CANCER"

// Supported upload media types.
const (
	MediaTypeJPEG = "image/jpeg"
	MediaTypePNG  = "image/png"
)

// Label is the normalized classification outcome.
type Label int

const (
	Negative Label = iota
	Positive
)

// String returns the display text for the label.
func (l Label) String() string {
	if l == Positive {
		return "Cancer Detected"
	}
	return "No Cancer Detected"
}

// MarshalText encodes the label as its display text.
func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// LabelFromPrediction maps the classifier's raw prediction value. Only an exact
// "CANCER" is positive; everything else, including "", is negative.
func LabelFromPrediction(prediction string) Label {
	if prediction == CancerPrediction {
		return Positive
	}
	return Negative
}

// AllowedContentType reports whether a declared content type is accepted for upload.
// Media type parameters are ignored; the media type itself must match exactly.
func AllowedContentType(contentType string) bool {
	mediaType := stripParams(contentType)
	return mediaType == MediaTypeJPEG || mediaType == MediaTypePNG
}

func stripParams(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		return strings.TrimSpace(contentType[:i])
	}
	return contentType
}

// UploadSelection is the single image a user has picked for analysis.
type UploadSelection struct {
	FileName    string
	ContentType string
	Data        []byte
}

// MediaType returns the content type without parameters.
func (s UploadSelection) MediaType() string {
	return stripParams(s.ContentType)
}

// DataURI encodes data as a base64 data URI for the given media type.
func DataURI(mediaType string, data []byte) string {
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(mediaType) + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString("data:")
	b.WriteString(mediaType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

// ClassificationResult is the normalized outcome of one successful classifier call.
type ClassificationResult struct {
	Label          Label   `json:"prediction"`
	Confidence     float64 `json:"confidence"`
	SourceFileName string  `json:"file_name"`
}

// NewClassificationResult maps a decoded classifier response. The probability is
// carried over verbatim.
func NewClassificationResult(prediction string, probability float64, fileName string) ClassificationResult {
	return ClassificationResult{
		Label:          LabelFromPrediction(prediction),
		Confidence:     probability,
		SourceFileName: fileName,
	}
}

// Handoff is the one-shot payload passed from the submit step to the result view.
type Handoff struct {
	Result ClassificationResult `json:"result"`
	Image  string               `json:"image"`
}
