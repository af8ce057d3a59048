package escpos

import (
	"image"

	"github.com/disintegration/imaging"
)

// Raster converts an image to a GS v 0 raster command and appends it.
//
// The image is downscaled to at most maxDotWidth dots, with the final width
// floored to a multiple of 8 so each row packs into whole bytes. Pixels are
// thresholded on Rec.601 luminance (0.299R + 0.587G + 0.114B < 128 prints a
// dot). Tall images are emitted as-is; the caller pre-scales anything that
// should not span multiple printer buffers.
func (e *Encoder) Raster(img image.Image, maxDotWidth int) {
	bitmap, widthBytes, rows := rasterize(img, maxDotWidth)
	if rows == 0 {
		return
	}

	// GS v 0 m xL xH yL yH d1...dk
	e.buf.Write([]byte{
		GS, 'v', '0', 0,
		byte(widthBytes & 0xFF), byte((widthBytes >> 8) & 0xFF),
		byte(rows & 0xFF), byte((rows >> 8) & 0xFF),
	})
	e.buf.Write(bitmap)
}

func rasterize(img image.Image, maxDotWidth int) (bitmap []byte, widthBytes, rows int) {
	width := img.Bounds().Dx()
	if width == 0 || img.Bounds().Dy() == 0 {
		return nil, 0, 0
	}

	if width > maxDotWidth {
		width = maxDotWidth
	}
	width &^= 7 // floor to a multiple of 8
	if width == 0 {
		return nil, 0, 0
	}

	if width != img.Bounds().Dx() {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	bounds := img.Bounds()
	rows = bounds.Dy()
	widthBytes = width / 8
	bitmap = make([]byte, widthBytes*rows)

	for y := 0; y < rows; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// RGBA returns 16-bit channels; scale to 8-bit before
			// weighting.
			lum := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			if lum < 128 {
				bitmap[y*widthBytes+x/8] |= 1 << (7 - uint(x%8))
			}
		}
	}

	return bitmap, widthBytes, rows
}
