package mask

import (
	"bytes"
	"image"
	_ "image/jpeg"
	"image/png"

	"github.com/vincent-petithory/dataurl"
	"golang.org/x/image/draw"

	"listinglab/backend/internal/domain"
)

// FromDataURL decodes the mask payload the editor sends (a data URL captured
// from a canvas) into raw image bytes.
func FromDataURL(s string) ([]byte, error) {
	du, err := dataurl.DecodeString(s)
	if err != nil {
		return nil, domain.E(domain.KindInvalidMask, "mask is not a valid data URL")
	}
	return du.Data, nil
}

// Align rescales a mask to exactly width x height pixels and re-encodes it
// as grayscale PNG. The stretch is non-uniform: the mask must line up
// pixel-for-pixel with the source image, so its own aspect ratio is not
// preserved. PNG keeps the edit boundary crisp.
func Align(maskBytes []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, domain.E(domain.KindInvalidRequest, "target dimensions must be positive, got %dx%d", width, height)
	}
	src, _, err := image.Decode(bytes.NewReader(maskBytes))
	if err != nil {
		return nil, domain.E(domain.KindInvalidMask, "decode mask: %v", err)
	}

	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, domain.E(domain.KindInvalidMask, "encode mask: %v", err)
	}
	return buf.Bytes(), nil
}

// Dimensions reads the pixel size of an encoded image without decoding the
// full raster. Used to learn the target size the mask must match.
func Dimensions(imageBytes []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(imageBytes))
	if err != nil {
		return 0, 0, domain.E(domain.KindInvalidRequest, "decode source image: %v", err)
	}
	return cfg.Width, cfg.Height, nil
}
