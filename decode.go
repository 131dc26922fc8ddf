package imagepref

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// maxImagePixels bounds decoded dimensions so a hostile header cannot force a huge allocation.
const maxImagePixels = 64 << 20

// DecodeImage decodes JPEG, PNG, GIF or WebP bytes and applies the EXIF
// orientation found in the data. Undecodable data and empty or oversized
// dimensions are reported as ErrExtraction.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image data", ErrExtraction)
	}

	imgCfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode header: %v", ErrExtraction, err)
	}
	if imgCfg.Width <= 0 || imgCfg.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrExtraction, imgCfg.Width, imgCfg.Height)
	}
	if imgCfg.Width*imgCfg.Height > maxImagePixels {
		return nil, fmt.Errorf("%w: %s image too large (%dx%d)", ErrExtraction, format, imgCfg.Width, imgCfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrExtraction, format, err)
	}

	return applyOrientation(img, ExtractOrientation(data)), nil
}
