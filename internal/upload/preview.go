package upload

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
	"go.uber.org/zap"

	"github.com/example/boneguard/internal/analysis"
)

const previewJPEGQuality = 85

// renderPreview encodes the selection as a data URI. When maxDimension is positive
// and the image is larger, a downsized copy in the same format is encoded instead;
// anything that fails to decode is encoded verbatim.
func renderPreview(selection analysis.UploadSelection, maxDimension int, logger *zap.Logger) string {
	mediaType := selection.MediaType()
	if maxDimension <= 0 {
		return analysis.DataURI(mediaType, selection.Data)
	}

	data, err := downscale(selection.Data, mediaType, maxDimension)
	if err != nil {
		logger.Debug("preview downscale skipped", zap.String("file_name", selection.FileName), zap.Error(err))
		return analysis.DataURI(mediaType, selection.Data)
	}
	return analysis.DataURI(mediaType, data)
}

func downscale(data []byte, mediaType string, maxDimension int) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if cfg.Width <= maxDimension && cfg.Height <= maxDimension {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	thumb := resize.Thumbnail(uint(maxDimension), uint(maxDimension), img, resize.Lanczos3)

	var buf bytes.Buffer
	if mediaType == analysis.MediaTypePNG {
		err = png.Encode(&buf, thumb)
	} else {
		err = jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: previewJPEGQuality})
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
