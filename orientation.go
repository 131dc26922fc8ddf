package imagepref

import (
	"bytes"
	"image"

	"github.com/bep/imagemeta"
	"github.com/disintegration/imaging"
)

// EXIF orientation values.
const (
	orientationNormal     = 1
	orientationFlipH      = 2
	orientationRotate180  = 3
	orientationFlipV      = 4
	orientationTranspose  = 5
	orientationRotate270  = 6
	orientationTransverse = 7
	orientationRotate90   = 8
)

// ExtractOrientation reads the EXIF Orientation tag from raw image bytes.
// Returns orientationNormal when the data carries no usable tag.
// Graceful degradation: never returns an error.
func ExtractOrientation(data []byte) int {
	if len(data) == 0 {
		return orientationNormal
	}

	orientation := orientationNormal
	_, err := imagemeta.Decode(imagemeta.Options{
		R:       bytes.NewReader(data),
		Sources: imagemeta.EXIF,
		ShouldHandleTag: func(ti imagemeta.TagInfo) bool {
			return ti.Source == imagemeta.EXIF && ti.Tag == "Orientation"
		},
		HandleTag: func(ti imagemeta.TagInfo) error {
			if v, ok := tagValueInt(ti.Value); ok && v >= orientationNormal && v <= orientationRotate90 {
				orientation = v
			}
			return nil
		},
	})
	if err != nil {
		return orientationNormal
	}

	return orientation
}

// tagValueInt extracts an integer from a tag value.
// EXIF SHORT values surface as different integer widths depending on the container.
func tagValueInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case uint8:
		return int(val), true
	case uint16:
		return int(val), true
	case uint32:
		return int(val), true
	case []uint16:
		if len(val) > 0 {
			return int(val[0]), true
		}
	case []any:
		if len(val) > 0 {
			return tagValueInt(val[0])
		}
	}
	return 0, false
}

// applyOrientation rotates/flips img so that it displays upright.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case orientationFlipH:
		return imaging.FlipH(img)
	case orientationRotate180:
		return imaging.Rotate180(img)
	case orientationFlipV:
		return imaging.FlipV(img)
	case orientationTranspose:
		return imaging.Transpose(img)
	case orientationRotate270:
		return imaging.Rotate270(img)
	case orientationTransverse:
		return imaging.Transverse(img)
	case orientationRotate90:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
