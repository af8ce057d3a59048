package escpos

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestRasterHeader(t *testing.T) {
	e := NewEncoder()
	e.Raster(solidImage(16, 2, color.Black), 384)

	got := e.Bytes()
	// GS v 0 0, xL=2 xH=0 (16 dots = 2 bytes), yL=2 yH=0
	wantHeader := []byte{0x1D, 'v', '0', 0, 2, 0, 2, 0}
	if !bytes.Equal(got[:8], wantHeader) {
		t.Errorf("raster header = %v, want %v", got[:8], wantHeader)
	}

	// All-black image: every data bit set.
	wantData := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(got[8:], wantData) {
		t.Errorf("raster data = %v, want %v", got[8:], wantData)
	}
}

func TestRasterWhiteImage(t *testing.T) {
	e := NewEncoder()
	e.Raster(solidImage(8, 1, color.White), 384)

	got := e.Bytes()
	if got[len(got)-1] != 0x00 {
		t.Errorf("white pixel row = %v, want all zero data", got[8:])
	}
}

func TestRasterWidthFlooredToByteBoundary(t *testing.T) {
	// 20 dots wide must floor to 16 dots (2 bytes per row).
	e := NewEncoder()
	e.Raster(solidImage(20, 1, color.Black), 384)

	got := e.Bytes()
	if got[4] != 2 || got[5] != 0 {
		t.Errorf("width bytes = %d,%d, want 2,0", got[4], got[5])
	}
}

func TestRasterDownscalesToMaxDotWidth(t *testing.T) {
	e := NewEncoder()
	e.Raster(solidImage(800, 10, color.Black), 384)

	got := e.Bytes()
	widthBytes := int(got[4]) | int(got[5])<<8
	if widthBytes != 384/8 {
		t.Errorf("width bytes = %d, want %d", widthBytes, 384/8)
	}
}

func TestRasterLuminanceThreshold(t *testing.T) {
	// Pure red: 0.299*255 ≈ 76 < 128, prints. Pure green alone is
	// 0.587*255 ≈ 150, stays white.
	red := solidImage(8, 1, color.RGBA{R: 255, A: 255})
	green := solidImage(8, 1, color.RGBA{G: 255, A: 255})

	e := NewEncoder()
	e.Raster(red, 384)
	if e.Bytes()[8] != 0xFF {
		t.Errorf("red row = %#x, want 0xFF", e.Bytes()[8])
	}

	e.Reset()
	e.Raster(green, 384)
	if e.Bytes()[8] != 0x00 {
		t.Errorf("green row = %#x, want 0x00", e.Bytes()[8])
	}
}

func TestRasterEmptyImage(t *testing.T) {
	e := NewEncoder()
	e.Raster(image.NewRGBA(image.Rect(0, 0, 0, 0)), 384)

	if e.Len() != 0 {
		t.Errorf("empty image produced %d bytes, want 0", e.Len())
	}
}

func TestRasterTallImageNotTruncated(t *testing.T) {
	e := NewEncoder()
	rows := 1500
	e.Raster(solidImage(8, rows, color.Black), 384)

	got := e.Bytes()
	gotRows := int(got[6]) | int(got[7])<<8
	if gotRows != rows {
		t.Errorf("row count = %d, want %d", gotRows, rows)
	}
	if len(got) != 8+rows {
		t.Errorf("payload = %d bytes, want %d", len(got), 8+rows)
	}
}
