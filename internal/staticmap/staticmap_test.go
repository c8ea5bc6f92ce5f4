package staticmap

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilecore/internal/renderer"
)

type recorder struct {
	mu    sync.Mutex
	calls map[[3]int]int
	tile  []byte
}

func newRecorder(t *testing.T, size int, c color.Color) *recorder {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return &recorder{calls: make(map[[3]int]int), tile: buf.Bytes()}
}

func (r *recorder) Tile(_ context.Context, z, x, y int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[[3]int{z, x, y}]++
	return r.tile, nil
}

func dims(t *testing.T, img *Image) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestCenterRendersExactSize(t *testing.T) {
	src := newRecorder(t, 256, color.NRGBA{R: 255, A: 255})
	img, err := Center(context.Background(), src, 2, 10, 20, 400, 300, renderer.FormatPNG, Options{})
	require.NoError(t, err)

	w, h := dims(t, img)
	assert.Equal(t, 400, w)
	assert.Equal(t, 300, h)
	assert.Equal(t, "image/png", img.ContentType)
	for k := range src.calls {
		assert.Equal(t, 2, k[0])
	}
}

func TestCenterOutOfRangeInput(t *testing.T) {
	src := newRecorder(t, 256, color.NRGBA{G: 255, A: 255})
	img, err := Center(context.Background(), src, 4, 0, 3000, 400, 3000, renderer.FormatPNG, Options{})
	require.NoError(t, err)

	w, h := dims(t, img)
	assert.Equal(t, 400, w)
	assert.Equal(t, 3000, h)
	for k := range src.calls {
		assert.GreaterOrEqual(t, k[2], 0)
		assert.Less(t, k[2], 16)
	}

	// the area above the top of the world is transparent, the world is drawn
	decoded, err := png.Decode(bytes.NewReader(img.Data))
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{}, color.NRGBAModel.Convert(decoded.At(200, 10)))
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, color.NRGBAModel.Convert(decoded.At(200, 2000)))
}

func TestCenterOddInputsNeverFail(t *testing.T) {
	src := newRecorder(t, 256, color.NRGBA{A: 255})
	cases := []struct {
		zoom     int
		lon, lat float64
	}{
		{-3, 0, 0},
		{99, 0, 0},
		{3, 540, -3000},
		{1, -1e9, 45},
	}
	for _, c := range cases {
		img, err := Center(context.Background(), src, c.zoom, c.lon, c.lat, 320, 240, renderer.FormatJPG, Options{})
		require.NoError(t, err, "%+v", c)
		assert.Equal(t, "image/jpeg", img.ContentType)
		w, h := dims(t, img)
		assert.Equal(t, 320, w)
		assert.Equal(t, 240, h)
	}
}

func TestCenterWrapsAroundTheWorld(t *testing.T) {
	src := newRecorder(t, 256, color.NRGBA{B: 255, A: 255})
	img, err := Center(context.Background(), src, 0, 0, 0, 1000, 256, renderer.FormatPNG, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1000, img.Width)
	// one world tile at zoom 0, fetched once
	assert.Equal(t, map[[3]int]int{{0, 0, 0}: 1}, src.calls)
}

func TestCenterScalesRetinaTiles(t *testing.T) {
	src := newRecorder(t, 512, color.NRGBA{R: 10, A: 255})
	img, err := Center(context.Background(), src, 1, 0, 0, 256, 256, renderer.FormatPNG, Options{})
	require.NoError(t, err)
	w, h := dims(t, img)
	assert.Equal(t, 256, w)
	assert.Equal(t, 256, h)
}

func TestBBox(t *testing.T) {
	src := newRecorder(t, 256, color.NRGBA{R: 255, A: 255})

	img, err := BBox(context.Background(), src, -180, -85, 180, 85, 512, 512, renderer.FormatPNG, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, img.Zoom)
	w, h := dims(t, img)
	assert.Equal(t, 512, w)
	assert.Equal(t, 512, h)

	small, err := BBox(context.Background(), src, 2.1, 41.3, 2.2, 41.4, 640, 480, renderer.FormatPNG, Options{})
	require.NoError(t, err)
	assert.Greater(t, small.Zoom, 10)

	capped, err := BBox(context.Background(), src, 2.1, 41.3, 2.1, 41.3, 100, 100, renderer.FormatPNG, Options{MaxZoom: 18})
	require.NoError(t, err)
	assert.Equal(t, 18, capped.Zoom)

	crossing, err := BBox(context.Background(), src, 170, -10, -170, 10, 300, 300, renderer.FormatPNG, Options{})
	require.NoError(t, err)
	assert.Greater(t, crossing.Zoom, 2)
}

func TestSizeLimits(t *testing.T) {
	src := newRecorder(t, 256, color.NRGBA{A: 255})
	for _, size := range [][2]int{{0, 10}, {10, -1}, {9000, 10}, {10, 8193}} {
		_, err := Center(context.Background(), src, 1, 0, 0, size[0], size[1], renderer.FormatPNG, Options{})
		assert.True(t, IsInvalidSize(err), "%v", size)
	}
	_, err := Center(context.Background(), src, 1, 0, 0, 600, 600, renderer.FormatPNG, Options{MaxSize: 500})
	assert.True(t, IsInvalidSize(err))
	assert.Empty(t, src.calls)
}

func TestTileErrorsPropagate(t *testing.T) {
	boom := errors.New(`column "wadus" does not exist`)
	src := TileSourceFunc(func(context.Context, int, int, int) ([]byte, error) { return nil, boom })
	_, err := Center(context.Background(), src, 2, 0, 0, 300, 300, renderer.FormatPNG, Options{})
	assert.ErrorIs(t, err, boom)

	_, err = Center(context.Background(), newRecorder(t, 256, color.Black), 2, 0, 0, 300, 300, renderer.FormatGrid, Options{})
	assert.True(t, renderer.IsRenderError(err))
}
