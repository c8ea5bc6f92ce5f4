package renderer

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Normalize returns imagery as PNG no larger than size x size. Larger images
// are scaled to exactly size x size; smaller ones in another format are
// re-encoded at their own size. PNG that already fits is returned unchanged.
func Normalize(data []byte, size int) (out []byte, width, height int, err error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode imagery: %w", err)
	}
	fits := cfg.Width <= size && cfg.Height <= size
	if fits && format == "png" {
		return data, cfg.Width, cfg.Height, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode imagery: %w", err)
	}
	var img image.Image = src
	if !fits {
		dst := image.NewNRGBA(image.Rect(0, 0, size, size))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		img = dst
	}

	out, err = Encode(img, FormatPNG)
	if err != nil {
		return nil, 0, 0, err
	}
	b := img.Bounds()
	return out, b.Dx(), b.Dy(), nil
}

// Encode writes img as png, or jpeg when format is FormatJPG.
func Encode(img image.Image, format Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatJPG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85})
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// DecodeTile decodes raster tile bytes, scaling them to size x size when
// their dimensions differ.
func DecodeTile(data []byte, size int) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode tile: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == size && b.Dy() == size {
		return img, nil
	}
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, nil
}
