package mask

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listinglab/backend/internal/domain"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			if x > w/2 {
				img.Set(x, y, color.White)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAlignResizesToExactTarget(t *testing.T) {
	src := encodePNG(t, 10, 20)

	out, err := Align(src, 64, 32)
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 32, cfg.Height)
}

func TestAlignStretchesNonUniformly(t *testing.T) {
	// A square mask stretched onto a wide target must fill the full target,
	// not be letterboxed.
	src := encodePNG(t, 50, 50)

	out, err := Align(src, 200, 40)
	require.NoError(t, err)

	img, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 40, img.Bounds().Dy())
}

func TestAlignRejectsGarbage(t *testing.T) {
	_, err := Align([]byte("not an image"), 64, 64)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInvalidMask))
}

func TestAlignRejectsNonPositiveDimensions(t *testing.T) {
	src := encodePNG(t, 10, 10)
	for _, dims := range [][2]int{{0, 10}, {10, 0}, {-1, 10}} {
		_, err := Align(src, dims[0], dims[1])
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindInvalidRequest))
	}
}

func TestDimensions(t *testing.T) {
	src := encodePNG(t, 123, 45)
	w, h, err := Dimensions(src)
	require.NoError(t, err)
	assert.Equal(t, 123, w)
	assert.Equal(t, 45, h)

	_, _, err = Dimensions([]byte{0x00})
	assert.Error(t, err)
}

func TestFromDataURL(t *testing.T) {
	raw := encodePNG(t, 4, 4)
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	out, err := FromDataURL(dataURL)
	require.NoError(t, err)
	assert.Equal(t, raw, out)

	_, err = FromDataURL("definitely not a data url")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInvalidMask))
}
